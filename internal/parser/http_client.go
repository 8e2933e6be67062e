package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"paperbase/internal/config"
)

// maxErrorBody bounds how much of a failed response is kept in the error message.
const maxErrorBody = 512

// response is the JSON body returned by the parsing service.
type response struct {
	JobID  string          `json:"job_id"`
	Result json.RawMessage `json:"result"`
}

// HTTPClient calls the parsing service over HTTP. Uploads are streamed as multipart/form-data
// under the field "file". Calls are rate limited and guarded by a circuit breaker.
type HTTPClient struct {
	endpoint string
	timeout  time.Duration
	hc       *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
}

var _ Parser = (*HTTPClient)(nil)

// NewHTTPClient builds a client from cfg. A nil transport uses http.DefaultTransport.
func NewHTTPClient(cfg config.ParserConfig, transport http.RoundTripper) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("parser endpoint is required")
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	minRequests := cfg.BreakerMinRequests
	ratio := cfg.BreakerFailureRatio
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "parser",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		// Caller cancellations say nothing about the service's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &HTTPClient{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		hc:       &http.Client{Transport: otelhttp.NewTransport(transport)},
		limiter:  limiter,
		breaker:  breaker,
	}, nil
}

// Parse sends r to the service and returns its result. Every failure is a *Error.
func (c *HTTPClient) Parse(ctx context.Context, r io.Reader, filename string) (Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, &Error{Filename: filename, Err: err}
		}
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, r, filename)
	})
	if err != nil {
		return Result{}, &Error{Filename: filename, Err: err}
	}
	return out.(Result), nil
}

func (c *HTTPClient) do(ctx context.Context, r io.Reader, filename string) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, pr)
	if err != nil {
		pr.Close()
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Result{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Result) == 0 || string(out.Result) == "null" {
		return Result{}, errors.New("response carries no result")
	}
	return Result{JobRef: out.JobID, Tree: out.Result}, nil
}
