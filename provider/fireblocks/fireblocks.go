// Package fireblocks implements the custody provider contract against the
// Fireblocks REST API. Every request carries a short-lived RS256 JWT binding
// the API key, the request path and a hash of the body.
package fireblocks

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/tos-network/refilld/log"
	"github.com/tos-network/refilld/provider"
	"github.com/tos-network/refilld/types"
)

// ProviderName is the canonical registry key.
const ProviderName = "fireblocks"

const (
	// requestTokenLifetime is the validity window of one request JWT.
	// Fireblocks rejects tokens living longer than a minute.
	requestTokenLifetime = 55 * time.Second

	// codeDuplicateExternalTxID is the Fireblocks API error code for a
	// transaction submitted twice with the same externalTxId.
	codeDuplicateExternalTxID = 1438

	maxResponseSize = 4 * 1024 * 1024
)

// Config holds the Fireblocks connection settings. PrivateKey is the PEM
// encoded RSA signing key issued with the API user.
type Config struct {
	Endpoint       string
	APIKey         string
	PrivateKey     string
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
}

var DefaultConfig = Config{
	Endpoint:       "https://api.fireblocks.io",
	RequestTimeout: 30 * time.Second,
	RateLimit:      15,
	RateBurst:      30,
}

// Client talks to one Fireblocks workspace. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	signKey *rsa.PrivateKey
	log     log.Logger
}

// New builds an unauthenticated client; Init parses the signing key and
// probes the API.
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

// Init parses the signing key and verifies the credentials against the API.
func (c *Client) Init(ctx context.Context) error {
	if c.cfg.Endpoint == "" {
		return errors.New("fireblocks: endpoint not configured")
	}
	if c.cfg.APIKey == "" {
		return errors.New("fireblocks: api key required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(c.cfg.PrivateKey))
	if err != nil {
		return fmt.Errorf("fireblocks: parsing private key: %w", err)
	}
	c.signKey = key
	if _, err := c.do(ctx, http.MethodGet, "/v1/supported_assets", nil); err != nil {
		return err
	}
	c.log.Debug("Fireblocks credentials verified")
	return nil
}

// vaultAccount extracts the Fireblocks identifier bag from a wallet config.
// The provider-side asset id falls back to the catalog symbol when the bag
// does not override it.
func vaultAccount(cfg *types.WalletConfig, symbol string) (vaultID, assetID string, err error) {
	if cfg == nil || cfg.Fireblocks == nil || cfg.Fireblocks.VaultAccountID == "" {
		return "", "", &provider.MissingWalletConfigError{Provider: ProviderName}
	}
	assetID = cfg.Fireblocks.AssetID
	if assetID == "" {
		assetID = symbol
	}
	return cfg.Fireblocks.VaultAccountID, assetID, nil
}

type vaultAssetResponse struct {
	ID        string `json:"id"`
	Total     string `json:"total"`
	Available string `json:"available"`
}

// TokenBalance reads the vault account's available balance. Fireblocks
// answers in decimal units, so the result is shifted into atomic units with
// the catalog's decimals.
func (c *Client) TokenBalance(ctx context.Context, token *provider.TokenInfo) (*types.Atomic, error) {
	vaultID, assetID, err := vaultAccount(token.WalletConfig, token.Symbol)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/v1/vault/accounts/%s/%s", url.PathEscape(vaultID), url.PathEscape(assetID))
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp vaultAssetResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: "balance", Err: err}
	}
	available, err := decimal.NewFromString(resp.Available)
	if err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: "balance", Err: fmt.Errorf("bad balance %q: %w", resp.Available, err)}
	}
	atomic, err := types.AtomicFromDecimal(available, token.Decimals)
	if err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: "balance", Err: err}
	}
	return atomic, nil
}

type transactionResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	SubStatus string `json:"subStatus"`
	TxHash    string `json:"txHash"`
	Note      string `json:"note"`
	CreatedAt int64  `json:"createdAt"` // unix millis
}

// CreateTransfer submits a vault-to-address transaction. When Fireblocks
// rejects the externalTxId as a duplicate, the prior transaction is fetched
// by that id and returned, so a replay never creates a second transfer.
func (c *Client) CreateTransfer(ctx context.Context, req *provider.TransferRequest) (*provider.TransferResult, error) {
	vaultID, assetID, err := vaultAccount(req.ColdWalletConfig, req.Asset)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"assetId": assetID,
		"source": map[string]interface{}{
			"type": "VAULT_ACCOUNT",
			"id":   vaultID,
		},
		"destination": map[string]interface{}{
			"type": "ONE_TIME_ADDRESS",
			"oneTimeAddress": map[string]string{
				"address": req.HotWalletAddress,
			},
		},
		"amount":       req.Amount,
		"externalTxId": req.ExternalTxID,
		"note":         fmt.Sprintf("hot wallet refill %s", req.ExternalTxID),
	}
	raw, err := c.do(ctx, http.MethodPost, "/v1/transactions", body)
	if err != nil {
		var callErr *provider.CallError
		if errors.As(err, &callErr) && callErr.APICode == codeDuplicateExternalTxID {
			c.log.Info("Transfer already submitted, fetching prior transaction", "external", req.ExternalTxID)
			return c.transferByExternalID(ctx, req.ExternalTxID)
		}
		return nil, err
	}
	var resp transactionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: "create transaction", Err: err}
	}
	if resp.ID == "" {
		return nil, &provider.CallError{Provider: ProviderName, Op: "create transaction", Err: errors.New("no transaction id in response")}
	}
	return c.transferResult(&resp, req.ExternalTxID, raw), nil
}

// transferByExternalID resolves the transaction a duplicate submit collided
// with.
func (c *Client) transferByExternalID(ctx context.Context, externalTxID string) (*provider.TransferResult, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v1/transactions/external_tx_id/"+url.PathEscape(externalTxID), nil)
	if err != nil {
		return nil, err
	}
	var resp transactionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: "transaction by external id", Err: err}
	}
	return c.transferResult(&resp, externalTxID, raw), nil
}

func (c *Client) transferResult(resp *transactionResponse, externalTxID string, raw json.RawMessage) *provider.TransferResult {
	createdAt := time.Now().UTC()
	if resp.CreatedAt > 0 {
		createdAt = time.UnixMilli(resp.CreatedAt).UTC()
	}
	message := resp.Note
	if message == "" {
		message = resp.SubStatus
	}
	return &provider.TransferResult{
		ProviderTxID: resp.ID,
		RawStatus:    resp.Status,
		Message:      message,
		ExternalTxID: externalTxID,
		CreatedAt:    createdAt,
		Raw:          raw,
	}
}

// TransactionByID fetches the raw transaction view.
func (c *Client) TransactionByID(ctx context.Context, providerTxID string, token *provider.TokenInfo) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(providerTxID), nil)
}

// do performs one authenticated API call and returns the response body.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
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
	token, err := c.requestToken(path, payload)
	if err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: method + " " + path, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &provider.CallError{Provider: ProviderName, Op: method + " " + path, Err: err}
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

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
		apiErr := decodeAPIError(raw)
		return nil, &provider.CallError{
			Provider: ProviderName,
			Op:       method + " " + path,
			Status:   resp.StatusCode,
			APICode:  apiErr.Code,
			Err:      errors.New(apiErr.Message),
		}
	}
	return raw, nil
}

// requestToken signs the per-request JWT Fireblocks demands: subject is the
// API key, uri binds the path, bodyHash binds the payload.
func (c *Client) requestToken(path string, body []byte) (string, error) {
	if c.signKey == nil {
		return "", errors.New("fireblocks: client not initialized")
	}
	digest := sha256.Sum256(body)
	now := time.Now()
	claims := jwt.MapClaims{
		"uri":      path,
		"nonce":    uuid.NewString(),
		"iat":      now.Unix(),
		"exp":      now.Add(requestTokenLifetime).Unix(),
		"sub":      c.cfg.APIKey,
		"bodyHash": hex.EncodeToString(digest[:]),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.signKey)
}

type apiErrorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func decodeAPIError(raw []byte) apiErrorBody {
	var body apiErrorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		trimmed := raw
		if len(trimmed) > 256 {
			trimmed = trimmed[:256]
		}
		body.Message = fmt.Sprintf("unexpected response: %s", trimmed)
	}
	return body
}
