package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("pricefeed")

// httpClient performs JSON GETs through a circuit breaker and retries.
type httpClient struct {
	provider string
	http     *http.Client
	cb       *gobreaker.CircuitBreaker
	retry    RetryConfig
}

func newHTTPClient(provider string, opts Options) *httpClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.timeout()}
	}
	return &httpClient{
		provider: provider,
		http:     hc,
		cb:       NewCircuitBreaker(provider),
		retry:    opts.retry(),
	}
}

// getJSON decodes the response body of GET rawURL?query into out.
func (c *httpClient) getJSON(ctx context.Context, rawURL string, query url.Values, header http.Header, out any) error {
	ctx, span := tracer.Start(ctx, "pricefeed.get")
	defer span.End()
	span.SetAttributes(
		attribute.String("pricefeed.provider", c.provider),
		attribute.String("http.url", rawURL),
	)

	_, err := c.cb.Execute(func() (any, error) {
		return nil, RetryWithBackoff(ctx, c.retry, func() error {
			target := rawURL
			if len(query) > 0 {
				target += "?" + query.Encode()
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return permanent(err)
			}
			for k, vs := range header {
				for _, v := range vs {
					req.Header.Add(k, v)
				}
			}
			req.Header.Set("Accept", "application/json")

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return permanent(fmt.Errorf("%s returned status %d", c.provider, resp.StatusCode))
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("%s returned status %d", c.provider, resp.StatusCode)
			}

			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return permanent(fmt.Errorf("failed to decode %s response: %w", c.provider, err))
			}
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &ProviderError{Provider: c.provider, Err: err}
	}
	return nil
}

// permanentError stops retries; the request would fail the same way again.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
