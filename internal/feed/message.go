package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

var errUnrecognizedSymbol = errors.New("unrecognized symbol")

type subscribeRequest struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type tradeDTO struct {
	Price     decimal.Decimal `json:"p"`
	Timestamp int64           `json:"t"`
	Symbol    string          `json:"s"`
	Volume    decimal.Decimal `json:"v"`
}

// tradeOutcome is either a validated sample (Err == nil) or a discarded
// trade with the reason in Err.
type tradeOutcome struct {
	Sample domain.PriceSample
	Symbol string
	Err    error
}

// decodeFrame turns one text frame into trade outcomes. Frames of any type
// other than "trade" produce nothing. A non-JSON payload is an error.
func decodeFrame(payload []byte, accept func(domain.Pair) bool) ([]tradeOutcome, error) {
	var frame inboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Type != "trade" || len(frame.Data) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(frame.Data, &items); err != nil {
		return nil, nil
	}

	outcomes := make([]tradeOutcome, 0, len(items))
	for _, item := range items {
		outcomes = append(outcomes, decodeTrade(item, accept))
	}
	return outcomes, nil
}

func decodeTrade(item json.RawMessage, accept func(domain.Pair) bool) tradeOutcome {
	var dto tradeDTO
	if err := json.Unmarshal(item, &dto); err != nil {
		return tradeOutcome{Err: fmt.Errorf("decode trade: %w", err)}
	}

	pair, ok := SymbolToPair(dto.Symbol)
	if !ok || (accept != nil && !accept(pair)) {
		return tradeOutcome{Symbol: dto.Symbol, Err: errUnrecognizedSymbol}
	}

	sample, err := domain.NewPriceSample(pair, dto.Price, time.UnixMilli(dto.Timestamp))
	if err != nil {
		return tradeOutcome{Symbol: dto.Symbol, Err: err}
	}
	return tradeOutcome{Sample: sample, Symbol: dto.Symbol}
}
