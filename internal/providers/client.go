package providers

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/andybalholm/brotli"

	"github.com/mihaisavezi/toolgate/internal/chat"
)

// Upstream sends one canonical request and returns the raw response.
type Upstream interface {
	Send(ctx context.Context, req *chat.Request) (*Response, error)
}

// Response is an upstream reply with a decompressed body. The caller closes
// Body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Provider   Provider
}

// Streaming reports whether the body is an SSE stream.
func (r *Response) Streaming() bool {
	return r.Provider.IsStreaming(r.Header)
}

// Client is the HTTP transport for one configured provider.
type Client struct {
	provider   Provider
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(provider Provider, endpoint, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		provider:   provider,
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) Provider() Provider {
	return c.provider
}

func (c *Client) Send(ctx context.Context, req *chat.Request) (*Response, error) {
	body, err := c.provider.BuildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.provider.Name(), err)
	}

	url := c.provider.RequestURL(c.endpoint, req.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	httpReq.Header.Set("Content-Type", ContentTypeJSON)
	httpReq.Header.Set("Accept", ContentTypeEventStream)
	httpReq.Header.Set("Accept-Encoding", "gzip, br")
	c.provider.SetHeaders(httpReq.Header, c.apiKey)

	c.logger.Debug("Sending upstream request",
		"provider", c.provider.Name(),
		"model", req.Model,
		"url", url,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	reader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("decompression error: %w", err)
	}

	header := resp.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       reader,
		Provider:   c.provider,
	}, nil
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *decodedBody) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func decompressReader(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &decodedBody{Reader: gzipReader, closers: []io.Closer{gzipReader, resp.Body}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}, nil
	default:
		return resp.Body, nil
	}
}
