package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

// snapshot is the on-disk document holding the durable average table.
type snapshot struct {
	HourlyAverages map[string]hourlyAverageRecord `json:"hourlyAverages"`
}

// hourlyAverageRecord is one persisted average. averagePrice is written as a
// JSON number using the decimal's exact string form.
type hourlyAverageRecord struct {
	Pair         string      `json:"pair"`
	AveragePrice json.Number `json:"averagePrice"`
	Hour         string      `json:"hour"`
	SampleCount  int         `json:"sampleCount"`
}

func newSnapshot() snapshot {
	return snapshot{HourlyAverages: make(map[string]hourlyAverageRecord)}
}

func toRecord(avg domain.HourlyAverage) hourlyAverageRecord {
	return hourlyAverageRecord{
		Pair:         string(avg.Pair()),
		AveragePrice: json.Number(avg.AveragePrice().String()),
		Hour:         domain.FormatHour(avg.Hour()),
		SampleCount:  avg.SampleCount(),
	}
}

func fromRecord(rec hourlyAverageRecord) (domain.HourlyAverage, error) {
	price, err := decimal.NewFromString(rec.AveragePrice.String())
	if err != nil {
		return domain.HourlyAverage{}, fmt.Errorf("parse average price: %w", err)
	}
	hour, err := time.Parse(time.RFC3339Nano, rec.Hour)
	if err != nil {
		return domain.HourlyAverage{}, fmt.Errorf("parse hour: %w", err)
	}
	return domain.NewHourlyAverage(domain.Pair(rec.Pair), price, hour, rec.SampleCount)
}
