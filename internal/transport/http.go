package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/protocol"
)

// userAgent identifies this client to smart-HTTP servers.
const userAgent = "libra/1.0 (git-http-transport)"

// HTTPClient speaks the smart HTTP protocol.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	kind    hash.Kind
}

// NewHTTPClient creates a client for a http(s) remote URL.
func NewHTTPClient(baseURL string, kind hash.Kind) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: 10 * time.Minute},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		kind:    kind,
	}
}

// Discover performs the initial ref discovery phase:
// GET <url>/info/refs?service=git-upload-pack.
func (c *HTTPClient) Discover(ctx context.Context, service string) (*Discovery, error) {
	if err := checkService(service); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/info/refs?service=%s", c.baseURL, service)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d", protocol.ErrTransport, resp.StatusCode)
	}
	expected := fmt.Sprintf("application/x-%s-advertisement", service)
	if ct := resp.Header.Get("Content-Type"); ct != expected {
		return nil, fmt.Errorf("%w: unexpected content type %q", protocol.ErrProtocol, ct)
	}

	return parseAdvertisement(resp.Body, c.kind)
}

// FetchObjects performs the pack negotiation and download phase:
// POST <url>/git-upload-pack with the request body, relaying the response
// body as a lazy stream.
func (c *HTTPClient) FetchObjects(ctx context.Context, want, have []hash.Hash, depth int) (io.ReadCloser, error) {
	body, err := buildRequest(want, have, depth)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/%s", c.baseURL, protocol.UploadPackService)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-git-upload-pack-request")
	req.Header.Set("Accept", "application/x-git-upload-pack-result")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status code %d", protocol.ErrTransport, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-git-upload-pack-result" {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected content type %q", protocol.ErrProtocol, ct)
	}
	return resp.Body, nil
}
