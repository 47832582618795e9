// Package telehealth is the client for the remote telehealth platform: the
// account token exchange and the per-patient encounter-notes endpoint.
package telehealth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/ehr/notemigrate/internal/domain/notes"
	"github.com/ehr/notemigrate/internal/platform/metrics"
	"github.com/ehr/notemigrate/internal/platform/retry"
)

const maxBodyBytes = 64 << 20

// errUpstream marks responses the breaker counts as failures (5xx and 429).
var errUpstream = errors.New("upstream error status")

// Options configures a Client.
type Options struct {
	BaseURL string

	// RequestTimeout bounds one HTTP request. Zero disables it.
	RequestTimeout time.Duration
	// TimeoutRetries is the number of tries a request gets when it times out.
	TimeoutRetries int
	RetryDelay     time.Duration

	// RateLimitRPS caps outgoing requests per second. Zero disables it.
	RateLimitRPS float64
	// BreakerFailures consecutive failures open the circuit. Zero disables it.
	BreakerFailures uint32
}

type response struct {
	status int
	body   []byte
}

// Client talks to the telehealth REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	opts    Options
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*response]
	metrics *metrics.Run
	logger  zerolog.Logger
	now     func() time.Time
}

// NewClient builds a Client. A nil httpClient uses a fresh http.Client; a nil
// metrics run records nothing.
func NewClient(opts Options, httpClient *http.Client, m *metrics.Run, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		opts:    opts,
		metrics: m,
		logger:  logger.With().Str("component", "telehealth").Logger(),
		now:     time.Now,
	}

	if opts.RateLimitRPS > 0 {
		burst := int(opts.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}

	if opts.BreakerFailures > 0 {
		threshold := opts.BreakerFailures
		c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
			Name:        "telehealth-api",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
				c.metrics.BreakerState(stateValue(to))
			},
		})
	}

	return c
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// FetchResult is the outcome of an encounter-notes fetch. On failure Error is
// set and Data is an empty array.
type FetchResult struct {
	Data       any
	Error      string
	StatusCode int
}

func (r FetchResult) Failed() bool { return r.Error != "" }

func failedResult(status int, format string, args ...any) FetchResult {
	return FetchResult{Data: []any{}, Error: fmt.Sprintf(format, args...), StatusCode: status}
}

// FetchNotes retrieves the raw encounter notes of one remote patient. It never
// returns an error; failures are reported through FetchResult.
func (c *Client) FetchNotes(ctx context.Context, token *Token, externalPatientID string) FetchResult {
	u := c.baseURL + "/patients/" + url.PathEscape(externalPatientID) + "/encounter_notes"

	resp, err := c.getWithTimeoutRetry(ctx, token.Value, u)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return failedResult(0, "circuit breaker open: %v", err)
		}
		return failedResult(0, "request failed: %v", err)
	}

	if resp.status != http.StatusOK {
		return failedResult(resp.status, "Failed to get encounter notes: %d - %s", resp.status, truncate(string(resp.body), 500))
	}

	data, err := notes.DecodeResponse(resp.body)
	if err != nil {
		return failedResult(resp.status, "%v", err)
	}
	return FetchResult{Data: data, StatusCode: resp.status}
}

// FetchNotesWithRetry wraps FetchNotes in the outer retry policy. The patient
// is reported failed only once every attempt has failed.
func (c *Client) FetchNotesWithRetry(ctx context.Context, token *Token, externalPatientID string, p retry.Policy) FetchResult {
	var last FetchResult
	if p.OnRetry == nil {
		p.OnRetry = func(attempt int, err error) {
			c.logger.Warn().Str("patient_id", externalPatientID).Int("attempt", attempt).Err(err).Msg("fetch failed, retrying")
		}
	}

	res, err := retry.Do(ctx, p, func(ctx context.Context) (FetchResult, error) {
		last = c.FetchNotes(ctx, token, externalPatientID)
		if last.Failed() {
			return last, errors.New(last.Error)
		}
		return last, nil
	})
	if err != nil {
		return failedResult(last.StatusCode, "%v", err)
	}
	return res
}

func (c *Client) getWithTimeoutRetry(ctx context.Context, bearer, u string) (*response, error) {
	tries := c.opts.TimeoutRetries
	if tries < 1 {
		tries = 1
	}

	for attempt := 1; ; attempt++ {
		resp, err := c.get(ctx, bearer, u)
		if err == nil {
			return resp, nil
		}
		if !isTimeout(err) || ctx.Err() != nil || attempt >= tries {
			return nil, err
		}

		c.logger.Warn().Str("url", u).Int("attempt", attempt).Dur("timeout", c.opts.RequestTimeout).Msg("request timed out, retrying")
		select {
		case <-time.After(c.opts.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// get performs one rate-limited, breaker-guarded GET. Non-2xx responses other
// than 5xx and 429 are returned without error.
func (c *Client) get(ctx context.Context, bearer, u string) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	if c.breaker == nil {
		resp, err := c.send(ctx, bearer, u)
		if errors.Is(err, errUpstream) {
			return resp, nil
		}
		return resp, err
	}

	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.send(ctx, bearer, u)
	})
	if errors.Is(err, errUpstream) {
		return resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.metrics.Fetch("rejected", 0)
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, bearer, u string) (*response, error) {
	start := c.now()
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		c.metrics.Fetch(fetchLabel(err), c.now().Sub(start))
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		c.metrics.Fetch(fetchLabel(err), c.now().Sub(start))
		return nil, fmt.Errorf("read response: %w", err)
	}

	resp := &response{status: res.StatusCode, body: body}
	if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
		c.metrics.Fetch("http_error", c.now().Sub(start))
		return resp, fmt.Errorf("%w: %d", errUpstream, res.StatusCode)
	}
	if res.StatusCode == http.StatusOK {
		c.metrics.Fetch("ok", c.now().Sub(start))
	} else {
		c.metrics.Fetch("http_error", c.now().Sub(start))
	}
	return resp, nil
}

func fetchLabel(err error) string {
	if isTimeout(err) {
		return "timeout"
	}
	return "transport_error"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
