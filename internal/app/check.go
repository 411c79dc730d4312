package app

import (
	"context"
	"fmt"

	"github.com/rafappelt/crypto-dashboard/internal/feed"
)

// CheckFeed validates the configured feed credential and reports the result.
// An unusable credential is returned as an error.
func (a *App) CheckFeed(ctx context.Context) error {
	checker := feed.NewHealthChecker(feed.HealthOptions{
		APIKey:  a.Config.Feed.APIKey,
		BaseURL: a.Config.Feed.RESTURL,
	}, a.Logger)

	result := checker.Check(ctx)
	if result.Valid {
		fmt.Fprintln(a.Out, "feed credential: ok")
		return nil
	}

	fmt.Fprintf(a.Out, "feed credential: %s\n", result.Code)
	return fmt.Errorf("%s: %s", result.Code, result.Message)
}
