package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

const (
	createHourlyAveragesSQL = `CREATE TABLE IF NOT EXISTS hourly_averages (
        pair          TEXT        NOT NULL,
        hour_ts       TIMESTAMPTZ NOT NULL,
        average_price NUMERIC     NOT NULL,
        sample_count  INTEGER     NOT NULL,
        updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (pair, hour_ts)
    );`

	upsertHourlyAverageSQL = `INSERT INTO hourly_averages (
        pair,
        hour_ts,
        average_price,
        sample_count
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (pair, hour_ts) DO UPDATE
    SET
        average_price = EXCLUDED.average_price,
        sample_count  = EXCLUDED.sample_count,
        updated_at    = now();`

	listHourlyAveragesSQL = `SELECT
        pair,
        hour_ts,
        average_price::TEXT,
        sample_count
    FROM hourly_averages
    WHERE pair = $1
    ORDER BY hour_ts DESC
    LIMIT $2;`
)

// AverageArchive receives computed hourly averages for long-term keeping.
type AverageArchive interface {
	UpsertHourlyAverage(ctx context.Context, average domain.HourlyAverage) error
	ListHourlyAverages(ctx context.Context, pair domain.Pair, limit int) ([]domain.HourlyAverage, error)
}

// Archive stores hourly averages in PostgreSQL. It is an optional sink next
// to the file-backed table and is never read on the ingestion path.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive wires a pgx pool into an Archive.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// Close releases the underlying pool resources.
func (a *Archive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

func (a *Archive) getPool() (*pgxpool.Pool, error) {
	if a == nil || a.pool == nil {
		return nil, ErrNotConfigured
	}
	return a.pool, nil
}

// EnsureSchema creates the archive table when missing.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	pool, err := a.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createHourlyAveragesSQL); err != nil {
		return fmt.Errorf("create hourly_averages: %w", err)
	}
	return nil
}

// UpsertHourlyAverage persists or updates one average.
func (a *Archive) UpsertHourlyAverage(ctx context.Context, average domain.HourlyAverage) error {
	pool, err := a.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertHourlyAverageSQL,
		string(average.Pair()),
		average.Hour(),
		average.AveragePrice().String(),
		average.SampleCount(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert hourly average: %w", execErr)
	}
	return nil
}

// ListHourlyAverages lists the most recent archived averages for pair.
func (a *Archive) ListHourlyAverages(ctx context.Context, pair domain.Pair, limit int) ([]domain.HourlyAverage, error) {
	pool, err := a.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	rows, queryErr := pool.Query(ctx, listHourlyAveragesSQL, string(pair), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list hourly averages: %w", queryErr)
	}
	defer rows.Close()

	averages := make([]domain.HourlyAverage, 0, limit)
	for rows.Next() {
		avg, scanErr := scanHourlyAverage(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		averages = append(averages, avg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return averages, nil
}

func scanHourlyAverage(rows pgx.Rows) (domain.HourlyAverage, error) {
	var (
		pair        string
		hour        time.Time
		averageStr  string
		sampleCount int
	)
	if err := rows.Scan(&pair, &hour, &averageStr, &sampleCount); err != nil {
		return domain.HourlyAverage{}, err
	}

	average, err := decimal.NewFromString(averageStr)
	if err != nil {
		return domain.HourlyAverage{}, fmt.Errorf("parse average price: %w", err)
	}
	return domain.NewHourlyAverage(domain.Pair(pair), average, hour, sampleCount)
}

var _ AverageArchive = (*Archive)(nil)
