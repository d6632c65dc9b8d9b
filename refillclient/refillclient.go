// Package refillclient provides a Go client for the refill service HTTP API.
package refillclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tos-network/refilld/envelope"
	"github.com/tos-network/refilld/params"
	"github.com/tos-network/refilld/refill"
)

// defaultRequestTimeout bounds one round trip. A submission may serially
// wait on two provider balance reads plus a transfer creation server-side.
const defaultRequestTimeout = 2 * time.Minute

// Config carries the client options. With both keys set every request is
// sent as a signed token and every response token is verified before it is
// trusted; with neither the client speaks plain JSON for auth-disabled
// deployments.
type Config struct {
	// Endpoint is the base URL of a running service.
	Endpoint string

	// PublicKey is the PEM key verifying response tokens, the service's
	// callback public key.
	PublicKey string

	// PrivateKey is the PEM key signing request tokens, the operator key
	// whose public half the service is configured with.
	PrivateKey string

	// MaxLifetime caps the exp-iat window of accepted response tokens.
	// Zero keeps the service default.
	MaxLifetime time.Duration

	// HTTPClient overrides the transport. Nil gets a client with the
	// default request timeout.
	HTTPClient *http.Client
}

// Client defines typed wrappers for the refill service HTTP API. Safe for
// concurrent use.
type Client struct {
	endpoint string
	env      *envelope.Envelope
	hc       *http.Client
}

// Dial connects a plain client to an auth-disabled service.
func Dial(endpoint string) (*Client, error) {
	return New(Config{Endpoint: endpoint})
}

// New builds a client from the config.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("refillclient: endpoint required")
	}
	if (cfg.PrivateKey == "") != (cfg.PublicKey == "") {
		return nil, errors.New("refillclient: signing and verification keys must be configured together")
	}
	lifetime := cfg.MaxLifetime
	if lifetime <= 0 {
		lifetime = params.DefaultJWTMaxLifetime
	}
	env, err := envelope.New(envelope.Config{
		Enabled:     cfg.PrivateKey != "",
		PublicKey:   cfg.PublicKey,
		PrivateKey:  cfg.PrivateKey,
		MaxLifetime: lifetime,
	})
	if err != nil {
		return nil, err
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		env:      env,
		hc:       hc,
	}, nil
}

// Signed reports whether the client signs requests and verifies responses.
func (c *Client) Signed() bool {
	return c.env.Enabled()
}

// APIError is a rejection from the service, carrying its stable error code.
type APIError struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("refillclient: %s: %s", e.Code, e.Message)
}

// Health is the health probe's body.
type Health struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
}

// Healthy reports whether every probed service is up.
func (h *Health) Healthy() bool {
	return h != nil && h.Status == "healthy"
}

// SubmitRefill submits one refill intent and returns the service's initial
// view of the transaction. A rejection comes back as an *APIError.
func (c *Client) SubmitRefill(ctx context.Context, intent *refill.Intent) (*refill.SubmitResult, error) {
	resp, err := c.post(ctx, "/v1/wallet/refill", intent)
	if err != nil {
		return nil, err
	}
	result := new(refill.SubmitResult)
	if err := json.Unmarshal(resp.Data, result); err != nil {
		return nil, fmt.Errorf("refillclient: malformed result payload: %v", err)
	}
	return result, nil
}

// RefillStatus reads the persisted state of a submitted refill.
func (c *Client) RefillStatus(ctx context.Context, requestID string) (*refill.StatusResult, error) {
	resp, err := c.get(ctx, "/v1/wallet/refill/status/"+url.PathEscape(requestID),
		map[string]string{"refill_request_id": requestID})
	if err != nil {
		return nil, err
	}
	result := new(refill.StatusResult)
	if err := json.Unmarshal(resp.Data, result); err != nil {
		return nil, fmt.Errorf("refillclient: malformed result payload: %v", err)
	}
	return result, nil
}

// Health reads the health probe. The reply is never wrapped in the signed
// envelope, and an unhealthy probe is returned as data, not as an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	health := new(Health)
	if err := json.Unmarshal(body, health); err != nil {
		return nil, fmt.Errorf("refillclient: malformed health payload: %v", err)
	}
	return health, nil
}

// response mirrors the service's response envelope.
type response struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"error_message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*response, error) {
	var (
		body        []byte
		contentType = "application/json"
	)
	if c.env.Enabled() {
		token, err := c.env.Sign(payload)
		if err != nil {
			return nil, err
		}
		body, contentType = []byte(token), "text/plain; charset=utf-8"
	} else {
		blob, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = blob
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return c.decode(resp)
}

func (c *Client) get(ctx context.Context, path string, claims interface{}) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return nil, err
	}
	if c.env.Enabled() {
		token, err := c.env.Sign(claims)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return c.decode(resp)
}

// decode unwraps one response envelope. The body is verified before it is
// trusted; an empty body means the service failed to sign its reply.
func (c *Client) decode(resp *http.Response) (*response, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("refillclient: empty response (HTTP %d)", resp.StatusCode)
	}
	payload, err := c.env.Verify(body)
	if err != nil {
		return nil, fmt.Errorf("refillclient: response verification failed: %v", err)
	}
	out := new(response)
	if err := json.Unmarshal(payload, out); err != nil {
		return nil, fmt.Errorf("refillclient: malformed response (HTTP %d): %v", resp.StatusCode, err)
	}
	if !out.Success {
		return nil, &APIError{Code: out.Code, Message: out.Message, HTTPStatus: resp.StatusCode}
	}
	return out, nil
}
