// Package client talks to a node's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cometbft/cometbft/crypto"
	"github.com/holiman/uint256"

	"github.com/ahmadzakiakmal/flightsurety/server"
	"github.com/ahmadzakiakmal/flightsurety/srvreg"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

type RequestOptions struct {
	Headers map[string]string
	Timeout time.Duration
	Context context.Context
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Latency    time.Duration
}

// APIError is a non-2xx answer from the node.
type APIError struct {
	StatusCode int
	Message    string
	Code       uint32
	Codespace  string
}

func (e *APIError) Error() string {
	if e.Codespace != "" {
		return fmt.Sprintf("http %d: %s (%s/%d)", e.StatusCode, e.Message, e.Codespace, e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes the ledger sentinel of a reverted call.
func (e *APIError) Unwrap() error {
	if e.Codespace != surety.Codespace {
		return nil
	}
	if sentinel := surety.FromCode(e.Code); sentinel != nil {
		return sentinel
	}
	return nil
}

type HTTPClient struct {
	BaseURL     string
	Client      *http.Client
	DefaultOpts RequestOptions
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
		DefaultOpts: RequestOptions{
			Headers: map[string]string{},
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPClient) Call(method, endpoint string, body []byte, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &c.DefaultOpts
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	ctx := opts.Context
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+endpoint, bodyReader)
	if err != nil {
		return nil, err
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	out := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
		Latency:    time.Since(start),
	}
	if resp.StatusCode >= 300 {
		return out, decodeAPIError(out)
	}
	return out, nil
}

func decodeAPIError(resp *Response) error {
	var body struct {
		Error     string `json:"error"`
		Code      uint32 `json:"code"`
		Codespace string `json:"codespace"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(resp.Body)}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		apiErr.Message = body.Error
		apiErr.Code = body.Code
		apiErr.Codespace = body.Codespace
	}
	return apiErr
}

func (c *HTTPClient) GET(endpoint string, opts *RequestOptions) (*Response, error) {
	return c.Call(http.MethodGet, endpoint, nil, opts)
}

func (c *HTTPClient) POST(endpoint string, body []byte, opts *RequestOptions) (*Response, error) {
	return c.Call(http.MethodPost, endpoint, body, opts)
}

// GetJSON fetches endpoint and decodes the body into target.
func (c *HTTPClient) GetJSON(endpoint string, target any, opts *RequestOptions) (*Response, error) {
	resp, err := c.GET(endpoint, opts)
	if err != nil {
		return resp, err
	}
	return resp, UnmarshalBody(resp, target)
}

// Submit signs a call with key and posts it to /tx.
func (c *HTTPClient) Submit(key crypto.PrivKey, to surety.Address, op string, args any, value *uint256.Int, opts *RequestOptions) (*server.ClientResponse, *Response, error) {
	tx, err := srvreg.NewTransaction(to, op, args)
	if err != nil {
		return nil, nil, err
	}
	if value != nil && !value.IsZero() {
		tx.Value = value.Dec()
	}
	if err := tx.Sign(key); err != nil {
		return nil, nil, err
	}
	raw, err := tx.SerializeToBytes()
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.POST("/tx", raw, opts)
	if err != nil {
		return nil, resp, err
	}
	var out server.ClientResponse
	if err := UnmarshalBody(resp, &out); err != nil {
		return nil, resp, err
	}
	return &out, resp, nil
}

func UnmarshalBody(resp *Response, target any) error {
	if len(resp.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(resp.Body, target); err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}
	return nil
}
