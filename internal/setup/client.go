// Package setup talks to the call-setup service: session creation for
// outgoing calls, routing blobs for incoming ones and session-key
// retrieval.
package setup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cicareteam/callcore/internal/call"
)

// Client is an HTTP client for the call-setup API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ call.SetupClient = (*Client)(nil)

// NewClient creates a setup API client. apiKey is sent as a bearer
// token on every request.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// BaseURL returns the service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type sessionRequest struct {
	CallerID     string `json:"callerId"`
	CallerName   string `json:"callerName"`
	CallerAvatar string `json:"callerAvatar"`
	CalleeID     string `json:"calleeId"`
	CalleeName   string `json:"calleeName"`
	CalleeAvatar string `json:"calleeAvatar"`
	CheckSum     string `json:"checkSum"`
}

type sessionResponse struct {
	Server      string `json:"server"`
	Token       string `json:"token"`
	IsFromPhone *bool  `json:"isFromPhone"`
}

// CreateCallSession requests a one-to-one call session and returns the
// signaling rendezvous for it.
func (c *Client) CreateCallSession(ctx context.Context, caller, callee call.Peer, checksum string) (call.RouteInfo, error) {
	reqBody := sessionRequest{
		CallerID:     caller.ID,
		CallerName:   caller.Name,
		CallerAvatar: caller.Avatar,
		CalleeID:     callee.ID,
		CalleeName:   callee.Name,
		CalleeAvatar: callee.Avatar,
		CheckSum:     checksum,
	}
	var resp sessionResponse
	if err := c.post(ctx, "api/sdk-call/one2one", reqBody, &resp); err != nil {
		return call.RouteInfo{}, err
	}
	if resp.Server == "" || resp.Token == "" {
		return call.RouteInfo{}, fmt.Errorf("%w: session response missing server or token", ErrBadPayload)
	}
	return call.RouteInfo{
		Server:    resp.Server,
		Token:     resp.Token,
		FromPhone: resp.IsFromPhone != nil && *resp.IsFromPhone,
	}, nil
}

// post performs an authenticated JSON POST and decodes the response.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := &RequestError{StatusCode: resp.StatusCode}
		var detail struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.NewDecoder(resp.Body).Decode(&detail) == nil {
			reqErr.Code = detail.Code
			reqErr.Message = detail.Message
		}
		return reqErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// get performs an authenticated GET and decodes the response.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return &RequestError{StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
