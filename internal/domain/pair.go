package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedPair is returned when a pair is outside the supported set.
var ErrUnsupportedPair = errors.New("unsupported pair")

// Pair identifies a tracked trading instrument, e.g. ETH/USDC.
type Pair string

const (
	PairETHUSDC Pair = "ETH/USDC"
	PairETHUSDT Pair = "ETH/USDT"
	PairETHBTC  Pair = "ETH/BTC"
)

// SupportedQuotes lists the quote currencies the feed can round-trip.
var SupportedQuotes = []string{"USDC", "USDT", "BTC"}

// DefaultPairs is the tracked set when configuration does not override it.
var DefaultPairs = []Pair{PairETHUSDC, PairETHUSDT, PairETHBTC}

// Base returns the base currency of the pair.
func (p Pair) Base() string {
	base, _, _ := strings.Cut(string(p), "/")
	return base
}

// Quote returns the quote currency of the pair.
func (p Pair) Quote() string {
	_, quote, _ := strings.Cut(string(p), "/")
	return quote
}

func (p Pair) String() string { return string(p) }

// ParsePair validates a "BASE/QUOTE" string against the supported quotes.
func ParsePair(s string) (Pair, error) {
	base, quote, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(s)), "/")
	if !ok || base == "" || quote == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPair, s)
	}
	if !isSupportedQuote(quote) {
		return "", fmt.Errorf("%w: quote %q", ErrUnsupportedPair, quote)
	}
	return Pair(base + "/" + quote), nil
}

// ParsePairs parses a list of pairs, rejecting duplicates.
func ParsePairs(values []string) ([]Pair, error) {
	pairs := make([]Pair, 0, len(values))
	seen := make(map[Pair]struct{}, len(values))
	for _, v := range values {
		p, err := ParsePair(v)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("duplicate pair %q", p)
		}
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func isSupportedQuote(quote string) bool {
	for _, q := range SupportedQuotes {
		if q == quote {
			return true
		}
	}
	return false
}
