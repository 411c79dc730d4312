// Package feed connects to the streaming trade feed and turns trades into
// price samples.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rafappelt/crypto-dashboard/internal/broadcast"
	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

const (
	// DefaultURL is the upstream websocket endpoint.
	DefaultURL = "wss://ws.finnhub.io"
	// DefaultMaxReconnectAttempts bounds the reconnect loop.
	DefaultMaxReconnectAttempts = 10
)

// ErrMissingCredential is returned by Connect when no API key is configured.
var ErrMissingCredential = errors.New("feed api key is not configured")

// Options parameterise the adapter.
type Options struct {
	APIKey               string
	URL                  string
	Pairs                []domain.Pair
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
	// OnReconnectExhausted runs once the reconnect budget is spent.
	OnReconnectExhausted func()
}

// Adapter keeps one websocket connection to the feed and publishes every
// accepted trade as a domain.PriceSample.
type Adapter struct {
	opts     Options
	logger   zerolog.Logger
	dialer   *websocket.Dialer
	samples  *broadcast.Broker[domain.PriceSample]
	accepted map[domain.Pair]struct{}

	connectMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	attempts int
	timer    *time.Timer
	// epoch changes on Disconnect so stale timers and dials become no-ops.
	epoch uint64

	afterFunc func(time.Duration, func()) *time.Timer
}

// NewAdapter builds an adapter. It does not connect.
func NewAdapter(opts Options, logger zerolog.Logger) *Adapter {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	accepted := make(map[domain.Pair]struct{}, len(opts.Pairs))
	for _, p := range opts.Pairs {
		accepted[p] = struct{}{}
	}

	log := logger.With().Str("component", "feed").Logger()
	if strings.TrimSpace(opts.APIKey) == "" {
		log.Warn().Msg("feed api key not set; connect will fail")
	}

	return &Adapter{
		opts:      opts,
		logger:    log,
		dialer:    &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		samples:   broadcast.New[domain.PriceSample](),
		accepted:  accepted,
		afterFunc: time.AfterFunc,
	}
}

// Samples subscribes to the sample stream. Subscribing never opens a connection.
func (a *Adapter) Samples(buffer int) (<-chan domain.PriceSample, func()) {
	return a.samples.Subscribe(buffer)
}

// Connected reports whether a connection is currently open.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// Connect opens the connection and subscribes every configured pair. It is
// a no-op while a connection is open. A failed dial schedules a reconnect
// and is also returned to the caller.
func (a *Adapter) Connect(ctx context.Context) error {
	if strings.TrimSpace(a.opts.APIKey) == "" {
		a.logger.Error().Err(ErrMissingCredential).Msg("cannot connect to feed")
		return ErrMissingCredential
	}

	a.connectMu.Lock()
	defer a.connectMu.Unlock()

	a.mu.Lock()
	if a.conn != nil {
		a.mu.Unlock()
		return nil
	}
	epoch := a.epoch
	a.mu.Unlock()

	endpoint, err := a.endpoint()
	if err != nil {
		return err
	}

	a.logger.Info().Str("url", a.opts.URL).Msg("connecting to feed")
	conn, _, err := a.dialer.DialContext(ctx, endpoint, nil)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		a.logger.Error().Err(err).Msg("feed dial failed")
		if a.epoch == epoch {
			a.scheduleReconnectLocked()
		}
		return fmt.Errorf("dial feed: %w", err)
	}
	if a.epoch != epoch {
		_ = conn.Close()
		return errors.New("feed disconnected while connecting")
	}

	session := uuid.NewString()
	a.conn = conn
	a.attempts = 0
	a.logger.Info().Str("session", session).Msg("connected to feed")

	a.subscribeLocked(conn, session)
	go a.readLoop(conn, session)
	return nil
}

// Disconnect cancels a pending reconnect and closes the open connection.
// It is safe to call repeatedly and before any Connect.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.epoch++
	a.attempts = 0
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.conn == nil {
		return nil
	}

	conn := a.conn
	a.conn = nil
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close feed connection: %w", err)
	}
	a.logger.Info().Msg("disconnected from feed")
	return nil
}

func (a *Adapter) endpoint() (string, error) {
	u, err := url.Parse(a.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("token", a.opts.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *Adapter) subscribeLocked(conn *websocket.Conn, session string) {
	if len(a.opts.Pairs) == 0 {
		a.logger.Warn().Str("session", session).Msg("no pairs configured to subscribe")
		return
	}

	a.logger.Info().Int("pairs", len(a.opts.Pairs)).Msg("subscribing to pairs")
	for _, pair := range a.opts.Pairs {
		symbol := PairToSymbol(pair)
		payload, err := json.Marshal(subscribeRequest{Type: "subscribe", Symbol: symbol})
		if err != nil {
			a.logger.Error().Err(err).Str("pair", pair.String()).Msg("failed to encode subscription")
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			a.logger.Error().Err(err).Str("pair", pair.String()).Msg("failed to send subscription")
			continue
		}
		a.logger.Info().Str("symbol", symbol).Str("pair", pair.String()).Msg("subscribed")
	}
}

func (a *Adapter) readLoop(conn *websocket.Conn, session string) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			a.handleClose(conn, session, err)
			return
		}
		a.handleMessage(payload)
	}
}

func (a *Adapter) handleMessage(payload []byte) {
	outcomes, err := decodeFrame(payload, a.accepts)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to parse feed message")
		return
	}

	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			a.logger.Debug().
				Str("pair", o.Sample.Pair().String()).
				Str("price", o.Sample.Price().String()).
				Time("ts", o.Sample.Timestamp()).
				Msg("trade received")
			a.samples.Publish(o.Sample)
		case errors.Is(o.Err, errUnrecognizedSymbol):
			a.logger.Warn().Str("symbol", o.Symbol).Msg("unrecognized symbol in trade message")
		default:
			a.logger.Error().Err(o.Err).Str("symbol", o.Symbol).Msg("failed to process trade")
		}
	}
}

func (a *Adapter) accepts(pair domain.Pair) bool {
	_, ok := a.accepted[pair]
	return ok
}

func (a *Adapter) handleClose(conn *websocket.Conn, session string, cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != conn {
		// closed by Disconnect
		return
	}
	a.conn = nil
	_ = conn.Close()

	a.logger.Warn().Err(cause).Str("session", session).Msg("feed connection closed")
	a.scheduleReconnectLocked()
}

func (a *Adapter) scheduleReconnectLocked() {
	if a.attempts >= a.opts.MaxReconnectAttempts {
		a.logger.Error().Int("attempts", a.attempts).Msg("max reconnection attempts reached; stopping reconnection")
		if a.opts.OnReconnectExhausted != nil {
			go a.opts.OnReconnectExhausted()
		}
		return
	}

	a.attempts++
	delay := BackoffDelay(a.attempts)
	epoch := a.epoch

	a.logger.Info().
		Dur("delay", delay).
		Int("attempt", a.attempts).
		Int("max_attempts", a.opts.MaxReconnectAttempts).
		Msg("scheduling reconnect")

	a.timer = a.afterFunc(delay, func() { a.reconnect(epoch) })
}

func (a *Adapter) reconnect(epoch uint64) {
	a.mu.Lock()
	if a.epoch != epoch {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.mu.Unlock()

	// failures reschedule from inside Connect
	_ = a.Connect(context.Background())
}
