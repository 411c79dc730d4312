package feed

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

func TestSymbolMapping(t *testing.T) {
	for _, pair := range domain.DefaultPairs {
		symbol := PairToSymbol(pair)
		got, ok := SymbolToPair(symbol)
		require.True(t, ok, symbol)
		require.Equal(t, pair, got)
	}

	require.Equal(t, "BINANCE:ETHUSDC", PairToSymbol(domain.PairETHUSDC))

	got, ok := SymbolToPair("ETHUSDT")
	require.True(t, ok)
	require.Equal(t, domain.PairETHUSDT, got)

	for _, bad := range []string{"", "BINANCE:", "BINANCE:USDC", "BINANCE:ETHEUR", "XRP"} {
		_, ok := SymbolToPair(bad)
		require.False(t, ok, bad)
	}
}

func TestBackoffDelay(t *testing.T) {
	cases := map[int]time.Duration{
		-1: time.Second,
		0:  time.Second,
		1:  2 * time.Second,
		2:  4 * time.Second,
		3:  8 * time.Second,
		4:  16 * time.Second,
		5:  30 * time.Second,
		10: 30 * time.Second,
		64: 30 * time.Second,
	}
	for attempt, want := range cases {
		require.Equal(t, want, BackoffDelay(attempt), "attempt %d", attempt)
	}
}

func TestDecodeFrame(t *testing.T) {
	ts := time.Now().Add(-time.Minute).UnixMilli()
	acceptAll := func(domain.Pair) bool { return true }

	t.Run("non json", func(t *testing.T) {
		_, err := decodeFrame([]byte("{"), acceptAll)
		require.Error(t, err)
	})

	t.Run("ignored types", func(t *testing.T) {
		for _, payload := range []string{`{"type":"ping"}`, `{"type":"trade"}`, `{"type":"trade","data":{"p":1}}`} {
			out, err := decodeFrame([]byte(payload), acceptAll)
			require.NoError(t, err)
			require.Empty(t, out, payload)
		}
	})

	t.Run("batch", func(t *testing.T) {
		payload := fmt.Sprintf(`{"type":"trade","data":[
			{"p":3000.25,"s":"BINANCE:ETHUSDC","t":%d,"v":1},
			{"p":-1,"s":"BINANCE:ETHUSDT","t":%d,"v":1},
			{"p":0.05,"s":"BINANCE:DOGEEUR","t":%d,"v":1},
			{"p":0.05,"s":"BINANCE:ETHBTC","t":%d,"v":1}
		]}`, ts, ts, ts, ts)

		out, err := decodeFrame([]byte(payload), acceptAll)
		require.NoError(t, err)
		require.Len(t, out, 4)

		require.NoError(t, out[0].Err)
		require.Equal(t, domain.PairETHUSDC, out[0].Sample.Pair())
		require.Equal(t, ts, out[0].Sample.Timestamp().UnixMilli())

		require.ErrorIs(t, out[1].Err, domain.ErrNonPositivePrice)
		require.ErrorIs(t, out[2].Err, errUnrecognizedSymbol)
		require.Equal(t, "BINANCE:DOGEEUR", out[2].Symbol)
		require.NoError(t, out[3].Err)
	})

	t.Run("unaccepted pair", func(t *testing.T) {
		payload := fmt.Sprintf(`{"type":"trade","data":[{"p":1,"s":"BINANCE:BTCUSDT","t":%d}]}`, ts)
		out, err := decodeFrame([]byte(payload), func(p domain.Pair) bool { return p == domain.PairETHUSDC })
		require.NoError(t, err)
		require.Len(t, out, 1)
		require.ErrorIs(t, out[0].Err, errUnrecognizedSymbol)
	})

	t.Run("future timestamp", func(t *testing.T) {
		payload := fmt.Sprintf(`{"type":"trade","data":[{"p":1,"s":"ETHUSDC","t":%d}]}`, time.Now().Add(time.Hour).UnixMilli())
		out, err := decodeFrame([]byte(payload), acceptAll)
		require.NoError(t, err)
		require.ErrorIs(t, out[0].Err, domain.ErrFutureTimestamp)
	})
}
