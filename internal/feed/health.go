package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Health codes reported by HealthChecker.
const (
	CodeKeyMissing       = "FINNHUB_API_KEY_MISSING"
	CodeKeyInvalidFormat = "FINNHUB_API_KEY_INVALID_FORMAT"
	CodeKeyInvalid       = "FINNHUB_API_KEY_INVALID"
	CodeKeyError         = "FINNHUB_API_KEY_ERROR"
	CodeKeyTimeout       = "FINNHUB_API_KEY_TIMEOUT"
)

const (
	// DefaultRESTURL is the upstream REST base used for the credential probe.
	DefaultRESTURL = "https://finnhub.io/api/v1"

	minKeyLength     = 10
	probePath        = "/quote"
	probeSymbol      = "AAPL"
	defaultProbeWait = 5 * time.Second
)

// HealthOptions parameterise the credential probe.
type HealthOptions struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// HealthResult is the outcome of one credential check. Code is empty when
// the credential is usable.
type HealthResult struct {
	Valid   bool
	Code    string
	Message string
}

// HealthChecker verifies the feed credential against the REST API.
type HealthChecker struct {
	opts    HealthOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHealthChecker constructs a checker.
func NewHealthChecker(opts HealthOptions, logger zerolog.Logger) *HealthChecker {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultProbeWait
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}

	return &HealthChecker{
		opts:    opts,
		logger:  logger.With().Str("component", "feed_health").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Check validates the key locally and then probes the REST API. Network
// failures other than a timeout do not mark the key invalid.
func (h *HealthChecker) Check(ctx context.Context) HealthResult {
	key := strings.TrimSpace(h.opts.APIKey)
	if key == "" {
		return HealthResult{Code: CodeKeyMissing, Message: "api key is not configured"}
	}
	if len(key) < minKeyLength {
		return HealthResult{Code: CodeKeyInvalidFormat, Message: "api key appears to be invalid (too short)"}
	}

	endpoint := h.baseURL + probePath + "?" + url.Values{
		"symbol": {probeSymbol},
		"token":  {key},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return HealthResult{Code: CodeKeyError, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return HealthResult{Code: CodeKeyTimeout, Message: "api key validation timed out"}
		}
		h.logger.Warn().Err(err).Msg("credential probe failed; assuming key is valid")
		return HealthResult{Valid: true}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return HealthResult{Code: CodeKeyInvalid, Message: "api key is invalid or expired"}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return HealthResult{
			Code:    CodeKeyError,
			Message: fmt.Sprintf("api key validation failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}
	return HealthResult{Valid: true}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
