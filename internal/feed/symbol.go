package feed

import (
	"strings"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

// ExchangePrefix qualifies symbols for the upstream exchange.
const ExchangePrefix = "BINANCE:"

// PairToSymbol maps ETH/USDC to BINANCE:ETHUSDC.
func PairToSymbol(pair domain.Pair) string {
	return ExchangePrefix + pair.Base() + pair.Quote()
}

// SymbolToPair maps BINANCE:ETHUSDC (or ETHUSDC) back to ETH/USDC. Only
// symbols quoted in a supported currency are recognised.
func SymbolToPair(symbol string) (domain.Pair, bool) {
	raw := strings.TrimPrefix(symbol, ExchangePrefix)
	for _, quote := range domain.SupportedQuotes {
		base, ok := strings.CutSuffix(raw, quote)
		if !ok || base == "" {
			continue
		}
		return domain.Pair(base + "/" + quote), true
	}
	return "", false
}
