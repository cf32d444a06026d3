package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"imgharvest/pkg/config"
	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
	"imgharvest/pkg/ratelimit"
)

const (
	acceptHTML  = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptImage = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
)

// Page is a fetched article document
type Page struct {
	URL         string
	FinalURL    string
	Body        string
	ContentType string
	StatusCode  int
}

// Image is a fetched image body
type Image struct {
	URL         string
	Data        []byte
	ContentType string
	StatusCode  int
}

// Client performs HTTP requests for pages and images. One Client is shared by
// all workers so connections to the same host are reused.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	referer    string
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

// NewClient creates a client with a keep-alive transport sized for maxConns
// concurrent connections per host. A nil limiter disables pacing.
func NewClient(cfg config.FetchConfig, maxConns int, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if maxConns <= 0 {
		maxConns = 1
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	headers := map[string]string{
		"User-Agent":      cfg.UserAgent,
		"Accept-Language": cfg.AcceptLanguage,
		"Accept-Encoding": "gzip, deflate, br",
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		headers:    headers,
		referer:    cfg.Referer,
		limiter:    limiter,
		logger:     log.WithField("component", "fetch"),
	}
}

// FetchPage downloads an article document, capped at maxBytes after decoding
func (c *Client) FetchPage(ctx context.Context, rawURL string, maxBytes int64) (*Page, error) {
	req, err := c.newRequest(ctx, rawURL, acceptHTML, "")
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponseStatus(resp); err != nil {
		return nil, err
	}

	body, err := readBody(ctx, resp, maxBytes)
	if err != nil {
		return nil, err
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Page{
		URL:         rawURL,
		FinalURL:    finalURL,
		Body:        string(body),
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}

// FetchImage downloads one image body of at most maxBytes. A larger body is
// rejected with a too_large error, from Content-Length when the server sends
// it and otherwise after reading maxBytes+1 bytes. The configured referer, if
// any, overrides the per-call referer.
func (c *Client) FetchImage(ctx context.Context, rawURL, referer string, maxBytes int64) (*Image, error) {
	if c.referer != "" {
		referer = c.referer
	}
	req, err := c.newRequest(ctx, rawURL, acceptImage, referer)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponseStatus(resp); err != nil {
		return nil, err
	}

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeTooLarge,
			Message: fmt.Sprintf("content length %d exceeds limit of %d bytes", resp.ContentLength, maxBytes),
			Code:    resp.StatusCode,
		}
	}

	data, err := readBody(ctx, resp, maxBytes)
	if err != nil {
		return nil, err
	}

	return &Image{
		URL:         rawURL,
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, rawURL, accept, referer string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeValidation, "failed to create request", err)
	}
	req.Header.Set("Accept", accept)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return req, nil
}

// doRequest paces the request per host, applies the client headers and
// classifies transport failures
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		if value != "" {
			req.Header.Set(key, value)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context(), req.URL.Host); err != nil {
			return nil, classifyTransportError(req.Context(), err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.DebugWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, classifyTransportError(req.Context(), err)
	}

	logger.LogRequest(c.logger, req.Method, req.URL.String(), resp.StatusCode, float64(duration.Microseconds())/1000)
	return resp, nil
}

// checkResponseStatus maps non-2xx responses onto typed errors
func checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &errs.Error{
		Type:    errs.FromStatusCode(resp.StatusCode),
		Message: fmt.Sprintf("server returned %s", resp.Status),
		Code:    resp.StatusCode,
	}
}

// classifyTransportError turns a failed round trip into a typed error.
// Deadline expiry is a retryable timeout; cancellation is final.
func classifyTransportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled):
		return errs.Wrap(errs.ErrorTypeCancelled, "request cancelled", context.Canceled)
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return errs.New(errs.ErrorTypeTimeout, fmt.Sprintf("request timed out: %v", err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.New(errs.ErrorTypeTimeout, fmt.Sprintf("request timed out: %v", err))
	}
	return &errs.Error{
		Type:    errs.ErrorTypeNetwork,
		Message: fmt.Sprintf("network error: %v", err),
	}
}

// readBody decodes the response body and reads at most maxBytes+1 bytes of it
func readBody(ctx context.Context, resp *http.Response, maxBytes int64) ([]byte, error) {
	reader := io.Reader(resp.Body)

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeNetwork, "gzip decode", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}

	if maxBytes > 0 {
		reader = io.LimitReader(reader, maxBytes+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if maxBytes > 0 && int64(len(body)) > maxBytes {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeTooLarge,
			Message: fmt.Sprintf("response body exceeds limit of %d bytes", maxBytes),
			Code:    resp.StatusCode,
		}
	}
	return body, nil
}
