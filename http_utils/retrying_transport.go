package http_utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultMaxAttempts      = 5
	DefaultMaxRateLimitWait = 300 * time.Second
	DefaultRateLimitURL     = "https://api.github.com/rate_limit"
)

// RetryingTransport is an http.RoundTripper that absorbs transient failures
// below the API client:
//
//   - 429, and 403 responses that indicate rate limiting, wait until the
//     limit resets (Retry-After when present, otherwise a rate-limit status
//     probe) plus 10-30% jitter, capped at MaxRateLimitWait, then retry.
//   - 5xx responses and network errors back off exponentially (2^attempt
//     seconds plus jitter) and retry.
//   - 403 without a rate-limit indication is passed through immediately and
//     never retried.
//   - Everything else passes through unmodified for the caller to interpret.
//
// All waits honor the request context. Once the attempt budget is spent a
// network error is returned wrapped; an exhausted HTTP failure returns the
// last response so the backend layer can map its status code.
type RetryingTransport struct {
	// Transport is the underlying round tripper. nil means
	// http.DefaultTransport.
	Transport http.RoundTripper

	// MaxAttempts bounds the total attempts per request, rate-limit waits
	// included. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// MaxRateLimitWait caps a single rate-limit wait. Zero means
	// DefaultMaxRateLimitWait.
	MaxRateLimitWait time.Duration

	// RateLimitURL is the rate-limit status endpoint queried when a
	// rate-limited response carries no Retry-After header. Zero means
	// DefaultRateLimitURL.
	RateLimitURL string

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewRetryingTransport(base http.RoundTripper) *RetryingTransport {
	return &RetryingTransport{Transport: base}
}

func (t *RetryingTransport) base() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

func (t *RetryingTransport) maxAttempts() int {
	if t.MaxAttempts > 0 {
		return t.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (t *RetryingTransport) maxRateLimitWait() time.Duration {
	if t.MaxRateLimitWait > 0 {
		return t.MaxRateLimitWait
	}
	return DefaultMaxRateLimitWait
}

func (t *RetryingTransport) rateLimitURL() string {
	if t.RateLimitURL != "" {
		return t.RateLimitURL
	}
	return DefaultRateLimitURL
}

func (t *RetryingTransport) sleepFn(ctx context.Context, d time.Duration) error {
	if t.sleep != nil {
		return t.sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func (t *RetryingTransport) timeNow() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *RetryingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	maxAttempts := t.maxAttempts()

	var resp *http.Response
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 && req.Body != nil {
			if req.GetBody == nil {
				// Cannot replay the body, hand back the previous outcome.
				break
			}
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", bodyErr)
			}
			req.Body = body
		}

		resp, err = t.base().RoundTrip(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			if attempt == maxAttempts-1 {
				break
			}
			delay := backoffDelay(attempt)
			slog.Debug("Request failed, backing off",
				"method", req.Method,
				"url", req.URL.String(),
				"attempt", attempt+1,
				"delay", delay,
				"error", err)
			if sleepErr := t.sleepFn(req.Context(), delay); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		retryable, delay := t.classify(req, resp, attempt)
		if !retryable {
			return resp, nil
		}
		if attempt == maxAttempts-1 {
			break
		}

		drainBody(resp)
		slog.Debug("Retryable response, waiting",
			"method", req.Method,
			"url", req.URL.String(),
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"delay", delay)
		if sleepErr := t.sleepFn(req.Context(), delay); sleepErr != nil {
			return nil, sleepErr
		}
	}

	if err != nil {
		return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, err)
	}
	return resp, nil
}

// classify decides whether a response warrants a retry and how long to wait
// before the next attempt.
func (t *RetryingTransport) classify(req *http.Request, resp *http.Response, attempt int) (bool, time.Duration) {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, t.rateLimitDelay(req, resp)
	case resp.StatusCode == http.StatusForbidden:
		if isRateLimitResponse(resp) {
			return true, t.rateLimitDelay(req, resp)
		}
		// Plain permission failure, not retryable.
		return false, 0
	case resp.StatusCode >= 500:
		return true, backoffDelay(attempt)
	default:
		return false, 0
	}
}

// rateLimitDelay computes how long to wait for the limit to reset: the
// Retry-After header when present, otherwise the reset time reported by the
// rate-limit status endpoint, with 10-30% jitter on top and an overall cap.
func (t *RetryingTransport) rateLimitDelay(req *http.Request, resp *http.Response) time.Duration {
	var wait time.Duration
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			wait = time.Duration(seconds) * time.Second
		}
	}
	if wait == 0 {
		wait = t.probeRateLimitReset(req)
	}

	jitter := time.Duration((0.1 + 0.2*rand.Float64()) * float64(wait))
	total := wait + jitter
	if maxWait := t.maxRateLimitWait(); total > maxWait {
		total = maxWait
	}
	if total < 0 {
		total = 0
	}
	return total
}

type rateLimitStatus struct {
	Resources struct {
		Core struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"core"`
	} `json:"resources"`
}

// probeRateLimitReset asks the rate-limit status endpoint when the current
// window resets. Failures fall back to a pessimistic hour; the cap keeps the
// actual wait bounded either way.
func (t *RetryingTransport) probeRateLimitReset(original *http.Request) time.Duration {
	probe, err := http.NewRequestWithContext(original.Context(), http.MethodGet, t.rateLimitURL(), nil)
	if err != nil {
		return time.Hour
	}
	for _, header := range []string{"Authorization", "Accept", "User-Agent"} {
		if value := original.Header.Get(header); value != "" {
			probe.Header.Set(header, value)
		}
	}

	resp, err := t.base().RoundTrip(probe)
	if err != nil {
		return time.Hour
	}
	defer drainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return time.Hour
	}

	var status rateLimitStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return time.Hour
	}
	wait := time.Unix(status.Resources.Core.Reset, 0).Sub(t.timeNow())
	if wait < 0 {
		wait = 0
	}
	return wait
}

// isRateLimitResponse reports whether a 403 is actually API rate limiting.
// The body is restored so a non-retried response stays readable downstream.
func isRateLimitResponse(resp *http.Response) bool {
	if resp.Header.Get("X-Ratelimit-Remaining") == "0" {
		return true
	}
	if resp.Body == nil {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(body)), "rate limit")
}

func drainBody(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func backoffDelay(attempt int) time.Duration {
	return Backoff(attempt)
}

// Backoff returns the shared transient-failure delay: 2^attempt seconds plus
// up to one second of jitter.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		attempt = 10
	}
	return time.Duration(1<<uint(attempt))*time.Second + time.Duration(rand.Int63n(int64(time.Second)))
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
