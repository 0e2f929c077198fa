// Package lookup talks to the external bulk pricing provider.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/bookprice/config"
	"github.com/aluiziolira/bookprice/metrics"
	"github.com/gocolly/colly/v2"
)

// MaxBatchSize is the provider's largest accepted identifier list.
const MaxBatchSize = 100

const (
	ctxStatus = "status"
	ctxBody   = "body"
)

// Client wraps a colly collector configured for the bulk endpoint.
// It is built once per process; WithAPIKey derives per-job clients sharing the collector.
type Client struct {
	cfg       *config.Config
	baseURL   string
	collector *colly.Collector
	metrics   *metrics.Metrics
	apiKey    string
}

// NewClient builds a client instance configured from cfg.
func NewClient(cfg *config.Config, m *metrics.Metrics) (*Client, error) {
	parsed, err := url.Parse(cfg.ProviderURL)
	if err != nil {
		return nil, fmt.Errorf("parse provider url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("provider url must include a host")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	// Status and body travel back to the caller on the per-request context.
	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxStatus, r.StatusCode)
		r.Ctx.Put(ctxBody, r.Body)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.Put(ctxStatus, r.StatusCode)
		r.Ctx.Put(ctxBody, r.Body)
	})

	return &Client{
		cfg:       cfg,
		baseURL:   strings.TrimRight(cfg.ProviderURL, "/"),
		collector: collector,
		metrics:   m,
	}, nil
}

// WithAPIKey returns a client that authenticates with key.
func (c *Client) WithAPIKey(key string) *Client {
	clone := *c
	clone.apiKey = key
	return &clone
}

// Lookup issues exactly one provider call for up to MaxBatchSize identifiers.
// A 404 answer is an empty result. Retries and pacing belong to the caller so that
// every attempt is spaced and charged. The collector does not observe ctx, so an
// in-flight request runs to completion or Timeout; ctx is checked once it returns.
func (c *Client) Lookup(ctx context.Context, isbns []string) ([]Book, error) {
	if len(isbns) == 0 {
		return nil, nil
	}
	if len(isbns) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds provider maximum %d", len(isbns), MaxBatchSize)
	}
	if c.apiKey == "" {
		return nil, ErrUnauthorized{Err: ErrMissingAPIKey}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	books, err := c.fetch(c.baseURL + "/books/" + strings.Join(isbns, ","))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		category := errorTypeLabel(err)
		c.metrics.IncError(category)
		c.metrics.IncLookup("failed")
		slog.Debug("bulk lookup failed",
			slog.Int("isbns", len(isbns)),
			slog.String("category", category),
			slog.Any("error", err),
		)
		return nil, err
	}
	c.metrics.IncLookup("success")
	return books, nil
}

func (c *Client) fetch(endpoint string) ([]Book, error) {
	hdr := http.Header{}
	hdr.Set("Authorization", c.apiKey)
	hdr.Set("Accept", "application/json")
	hdr.Set("User-Agent", c.cfg.UserAgent)

	reqCtx := colly.NewContext()
	start := time.Now()
	err := c.collector.Request(http.MethodGet, endpoint, nil, reqCtx, hdr)
	c.metrics.ObserveDuration(time.Since(start))

	status, _ := reqCtx.GetAny(ctxStatus).(int)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if classified := classifyError(err, status); classified != nil {
		return nil, classified
	}

	body, _ := reqCtx.GetAny(ctxBody).([]byte)
	if len(body) == 0 {
		return nil, nil
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, ErrProvider{Status: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return resp.Books, nil
}

func classifyError(err error, statusCode int) error {
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrUnauthorized{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		default:
			return ErrProvider{Status: statusCode, Err: wrapped}
		}
	}

	return err
}
