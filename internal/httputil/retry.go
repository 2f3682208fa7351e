package httputil

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/codingpal/agent/internal/logging"
)

var log = logging.L("httputil")

// RetryConfig controls the retry behavior for outbound HTTP requests.
// Delays grow exponentially from InitialDelay and are capped at MaxDelay.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	JitterFrac   float64 // ±fraction of delay to randomize (e.g. 0.3 = ±30%)
}

// DefaultRetryConfig returns the defaults used for calls to the optimization API.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFrac:   0.3,
	}
}

// Request is a replayable HTTP request. Body is kept as bytes so every
// attempt sends the same payload.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// Do executes req, retrying transport errors, 429 and 5xx responses with
// exponential backoff. A Retry-After header on a 429 or 503 overrides the
// computed delay.
//
// The returned response is from the first non-retryable attempt. When all
// attempts fail, the error is either the last transport error or a
// *RetryableStatusError.
func Do(ctx context.Context, client *http.Client, req Request, cfg RetryConfig) (*http.Response, error) {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = client
	rc.Logger = log
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.InitialDelay
	rc.RetryWaitMax = cfg.MaxDelay
	rc.CheckRetry = retryablehttp.DefaultRetryPolicy
	rc.Backoff = jitteredBackoff(cfg.JitterFrac)
	rc.ErrorHandler = func(resp *http.Response, err error, attempts int) (*http.Response, error) {
		log.Warn("all retries exhausted",
			"method", req.Method,
			"url", req.URL,
			"attempts", attempts,
			logging.KeyError, err,
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if resp != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &RetryableStatusError{StatusCode: resp.StatusCode, URL: req.URL}
		}
		return nil, err
	}

	var body any
	if req.Body != nil {
		body = req.Body
	}
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := rc.Do(httpReq)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return resp, err
}

// RetryableStatusError indicates the server kept returning a retryable status.
type RetryableStatusError struct {
	StatusCode int
	URL        string
}

func (e *RetryableStatusError) Error() string {
	return fmt.Sprintf("request to %s failed after retries with status %d %s",
		e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// jitteredBackoff wraps retryablehttp.DefaultBackoff. A server-supplied
// Retry-After delay is used as is.
func jitteredBackoff(frac float64) retryablehttp.Backoff {
	return func(lo, hi time.Duration, attempt int, resp *http.Response) time.Duration {
		wait := retryablehttp.DefaultBackoff(lo, hi, attempt, resp)
		if resp != nil && resp.Header.Get("Retry-After") != "" {
			return wait
		}
		return applyJitter(wait, frac)
	}
}

func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac * (2*rand.Float64() - 1)
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		return 0
	}
	return result
}
