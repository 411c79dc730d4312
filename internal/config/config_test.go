package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FINNHUB_API_KEY", "")
	cfg, err := Load(writeConfig(t, "app:\n  name: ratewatch\n"))
	require.NoError(t, err)

	require.Equal(t, "wss://ws.finnhub.io", cfg.Feed.URL)
	require.Equal(t, 10, cfg.Feed.MaxReconnectAttempts)
	require.Equal(t, 60*time.Second, cfg.Scheduler.AggregationInterval)
	require.Equal(t, 20*time.Second, cfg.Scheduler.PersistenceInterval)
	require.Equal(t, "./data", cfg.Storage.DataDir)
	require.Equal(t, 3600, cfg.Storage.HistoryLimit)
	require.False(t, cfg.Database.Enabled())
	require.False(t, cfg.Redis.Enabled())

	pairs, err := cfg.Pairs()
	require.NoError(t, err)
	require.Equal(t, domain.DefaultPairs, pairs)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
feed:
  pairs: [eth/btc, ETH/USDC]
  max_reconnect_attempts: 3
scheduler:
  aggregation_interval: 30s
storage:
  data_dir: /tmp/rates
`)
	t.Setenv("FINNHUB_API_KEY", "from-finnhub-env")
	t.Setenv("RATEWATCH_SCHEDULER_PERSISTENCE_INTERVAL", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-finnhub-env", cfg.Feed.APIKey)
	require.Equal(t, 3, cfg.Feed.MaxReconnectAttempts)
	require.Equal(t, 30*time.Second, cfg.Scheduler.AggregationInterval)
	require.Equal(t, 5*time.Second, cfg.Scheduler.PersistenceInterval)
	require.Equal(t, "/tmp/rates", cfg.Storage.DataDir)

	pairs, err := cfg.Pairs()
	require.NoError(t, err)
	require.Equal(t, []domain.Pair{domain.PairETHBTC, domain.PairETHUSDC}, pairs)
}

func TestMissingCredentialIsNotAConfigError(t *testing.T) {
	t.Setenv("FINNHUB_API_KEY", "")
	cfg, err := Load(writeConfig(t, "feed:\n  api_key: \"\"\n"))
	require.NoError(t, err)
	require.Empty(t, cfg.Feed.APIKey)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unsupported pair":    "feed:\n  pairs: [ETH/EUR]\n",
		"duplicate pair":      "feed:\n  pairs: [ETH/BTC, eth/btc]\n",
		"negative attempts":   "feed:\n  max_reconnect_attempts: -1\n",
		"zero aggregation":    "scheduler:\n  aggregation_interval: 0s\n",
		"zero persistence":    "scheduler:\n  persistence_interval: 0s\n",
		"zero history":        "storage:\n  history_limit: 0\n",
		"telegram no token":   "alerting:\n  telegram:\n    enabled: true\n    chat_id: x\n",
		"telegram no chat id": "alerting:\n  telegram:\n    enabled: true\n    bot_token: x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	require.Equal(t, 500, cfg.ResolveMaxPoints(0))
	require.Equal(t, 20, cfg.ResolveMaxPoints(20))
}
