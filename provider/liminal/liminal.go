// Package liminal implements the custody provider contract against the
// Liminal vault REST API. Requests are authenticated with an API key and an
// HMAC signature over timestamp, method, path and body.
package liminal

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tos-network/refilld/log"
	"github.com/tos-network/refilld/provider"
	"github.com/tos-network/refilld/types"
)

// ProviderName is the canonical registry key.
const ProviderName = "liminal"

// maxResponseSize bounds provider response bodies.
const maxResponseSize = 4 * 1024 * 1024

// Config holds the Liminal connection settings.
type Config struct {
	Endpoint       string
	APIKey         string
	APISecret      string
	RequestTimeout time.Duration
	RateLimit      float64 // requests per second, 0 disables throttling
	RateBurst      int
}

var DefaultConfig = Config{
	Endpoint:       "https://api.lmnl.app",
	RequestTimeout: 30 * time.Second,
	RateLimit:      10,
	RateBurst:      20,
}

// Client talks to one Liminal tenant. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     log.Logger
}

// New builds an unauthenticated client; Init validates the credentials.
func New(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig.RequestTimeout
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: limiter,
		log:     log.New("provider", ProviderName),
	}
}

func (c *Client) Name() string { return ProviderName }

// Init checks the credential material and probes the API.
func (c *Client) Init(ctx context.Context) error {
	if c.cfg.Endpoint == "" {
		return errors.New("liminal: endpoint not configured")
	}
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("liminal: api key and secret required")
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/ping", nil, nil); err != nil {
		return err
	}
	c.log.Debug("Liminal credentials verified")
	return nil
}

// walletID extracts the Liminal identifier bag from a wallet config.
func walletID(cfg *types.WalletConfig) (string, error) {
	if cfg == nil || cfg.Liminal == nil || cfg.Liminal.WalletID == "" {
		return "", &provider.MissingWalletConfigError{Provider: ProviderName}
	}
	return cfg.Liminal.WalletID, nil
}

type balanceResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Balance string `json:"balance"`
	} `json:"data"`
	Message string `json:"message"`
}

// TokenBalance reads the wallet's live balance. Liminal answers in atomic
// units already.
func (c *Client) TokenBalance(ctx context.Context, token *provider.TokenInfo) (*types.Atomic, error) {
	id, err := walletID(token.WalletConfig)
	if err != nil {
		return nil, err
	}
	query := url.Values{
		"asset": []string{token.Symbol},
		"chain": []string{token.ChainSymbol},
	}
	if !token.Native() {
		query.Set("contract_address", token.ContractAddress)
	}
	path := fmt.Sprintf("/api/v1/wallets/%s/balance?%s", url.PathEscape(id), query.Encode())
	raw, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var resp balanceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: "balance", Err: err}
	}
	balance, err := types.AtomicFromString(resp.Data.Balance)
	if err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: "balance", Err: fmt.Errorf("bad balance %q: %w", resp.Data.Balance, err)}
	}
	return balance, nil
}

type transferResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Identifier string      `json:"identifier"`
		Status     json.Number `json:"status"`
		Note       string      `json:"note"`
		CreatedAt  int64       `json:"created_at"` // unix millis
	} `json:"data"`
	Message string `json:"message"`
}

// CreateTransfer initiates a cold-to-hot transfer. Liminal keys idempotency
// on the external sequence id, so a replay with the same id returns the
// prior transfer.
func (c *Client) CreateTransfer(ctx context.Context, req *provider.TransferRequest) (*provider.TransferResult, error) {
	id, err := walletID(req.ColdWalletConfig)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"wallet_id":        id,
		"receiver_address": req.HotWalletAddress,
		"amount":           req.Amount,
		"asset":            req.Asset,
		"chain":            req.Chain,
		"sequence_id":      req.ExternalTxID,
	}
	if req.ContractAddress != "" {
		body["contract_address"] = req.ContractAddress
	}
	raw, err := c.do(ctx, http.MethodPost, "/api/v1/transfers", body, nil)
	if err != nil {
		return nil, err
	}
	var resp transferResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: "create transfer", Err: err}
	}
	if resp.Data.Identifier == "" {
		return nil, &provider.CallError{Provider: ProviderName, Op: "create transfer", Err: fmt.Errorf("no transfer identifier in response: %s", resp.Message)}
	}
	createdAt := time.Now().UTC()
	if resp.Data.CreatedAt > 0 {
		createdAt = time.UnixMilli(resp.Data.CreatedAt).UTC()
	}
	return &provider.TransferResult{
		ProviderTxID: resp.Data.Identifier,
		RawStatus:    resp.Data.Status.String(),
		Message:      resp.Data.Note,
		ExternalTxID: req.ExternalTxID,
		CreatedAt:    createdAt,
		Raw:          raw,
	}, nil
}

// TransactionByID fetches the raw transfer view. The status mapper owns the
// normalization of the nested data object.
func (c *Client) TransactionByID(ctx context.Context, providerTxID string, token *provider.TokenInfo) (json.RawMessage, error) {
	query := url.Values{}
	if token != nil {
		query.Set("asset", token.Symbol)
		query.Set("chain", token.ChainSymbol)
	}
	path := "/api/v1/transfers/" + url.PathEscape(providerTxID)
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

// do performs one signed API call and returns the response body. Non-2xx
// answers and success=false envelopes both fail.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &provider.CallError{Provider: ProviderName, Op: method + " " + path, Err: err}
		}
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &provider.CallError{Provider: ProviderName, Op: method + " " + path, Err: err}
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: method + " " + path, Err: err}
	}
	c.sign(req, method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: method + " " + path, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &provider.CallError{Provider: ProviderName, Op: method + " " + path, Status: resp.StatusCode, Err: apiError(raw)}
	}
	var envelope struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Success != nil && !*envelope.Success {
		return nil, &provider.CallError{Provider: ProviderName, Op: method + " " + path, Status: resp.StatusCode, Err: fmt.Errorf("request rejected: %s", envelope.Message)}
	}
	return raw, nil
}

// sign attaches the API key, timestamp and HMAC-SHA256 signature headers.
func (c *Client) sign(req *http.Request, method, path string, body []byte) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(ts))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
}

// apiError digs the human message out of an error response, falling back to
// the raw body.
func apiError(raw []byte) error {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if envelope.Message != "" {
			return errors.New(envelope.Message)
		}
		if envelope.Error != "" {
			return errors.New(envelope.Error)
		}
	}
	if len(raw) > 256 {
		raw = raw[:256]
	}
	return fmt.Errorf("unexpected response: %s", raw)
}
