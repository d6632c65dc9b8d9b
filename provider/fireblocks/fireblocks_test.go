package fireblocks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/tos-network/refilld/provider"
	"github.com/tos-network/refilld/types"
)

func testKey(t *testing.T) (string, *rsa.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return string(pemBytes), &key.PublicKey
}

func fireblocksToken(vault string) *provider.TokenInfo {
	return &provider.TokenInfo{
		Symbol:      "BTC",
		ChainSymbol: "BTC",
		Decimals:    8,
		WalletConfig: &types.WalletConfig{
			Provider:   ProviderName,
			Fireblocks: &types.FireblocksWalletConfig{VaultAccountID: vault, AssetID: "BTC_TEST"},
		},
	}
}

// newTestClient spins up a mux-backed server that always answers the Init
// probe, and returns an initialized client plus the verification key.
func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *rsa.PublicKey, func()) {
	t.Helper()
	mux.HandleFunc("/v1/supported_assets", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{})
	})
	server := httptest.NewServer(mux)

	pemKey, pub := testKey(t)
	c := New(Config{
		Endpoint:       server.URL,
		APIKey:         "api-user",
		PrivateKey:     pemKey,
		RequestTimeout: 2 * time.Second,
	})
	if err := c.Init(context.Background()); err != nil {
		server.Close()
		t.Fatalf("init: %v", err)
	}
	return c, pub, server.Close
}

func TestRequestTokenBindsPathAndBody(t *testing.T) {
	mux := http.NewServeMux()
	var rawToken string
	mux.HandleFunc("/v1/vault/accounts/7/BTC_TEST", func(w http.ResponseWriter, r *http.Request) {
		rawToken = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if r.Header.Get("X-API-Key") != "api-user" {
			t.Errorf("missing api key header")
		}
		json.NewEncoder(w).Encode(vaultAssetResponse{ID: "BTC_TEST", Total: "1", Available: "1"})
	})
	c, pub, closeServer := newTestClient(t, mux)
	defer closeServer()

	if _, err := c.TokenBalance(context.Background(), fireblocksToken("7")); err != nil {
		t.Fatalf("balance: %v", err)
	}
	if rawToken == "" {
		t.Fatal("missing bearer token")
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(rawToken, &claims, func(token *jwt.Token) (interface{}, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{"RS256"})); err != nil {
		t.Fatalf("parse request token: %v", err)
	}
	if claims["uri"] != "/v1/vault/accounts/7/BTC_TEST" {
		t.Fatalf("uri claim: have %v", claims["uri"])
	}
	if claims["sub"] != "api-user" {
		t.Fatalf("sub claim: have %v", claims["sub"])
	}
	if nonce, _ := claims["nonce"].(string); nonce == "" {
		t.Fatalf("missing nonce claim: %v", claims)
	}
	emptyHash := sha256.Sum256(nil) // GET requests sign an empty body
	if claims["bodyHash"] != hex.EncodeToString(emptyHash[:]) {
		t.Fatalf("bodyHash claim: have %v", claims["bodyHash"])
	}
}

func TestVaultBalanceShiftedToAtomic(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/vault/accounts/7/BTC_TEST", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(vaultAssetResponse{ID: "BTC_TEST", Total: "11.0", Available: "10.5"})
	})
	c, _, closeServer := newTestClient(t, mux)
	defer closeServer()

	balance, err := c.TokenBalance(context.Background(), fireblocksToken("7"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.String() != "1050000000" {
		t.Fatalf("balance: have %s, want 1050000000", balance)
	}
}

func TestCreateTransfer(t *testing.T) {
	mux := http.NewServeMux()
	var gotBody map[string]interface{}
	mux.HandleFunc("/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(transactionResponse{ID: "fb-1", Status: "SUBMITTED", CreatedAt: 1700000000000})
	})
	c, _, closeServer := newTestClient(t, mux)
	defer closeServer()

	result, err := c.CreateTransfer(context.Background(), &provider.TransferRequest{
		HotWalletAddress: "0xhot",
		Amount:           "0.5",
		Asset:            "BTC",
		ExternalTxID:     "REQ001",
		ColdWalletConfig: fireblocksToken("7").WalletConfig,
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	if result.ProviderTxID != "fb-1" || result.RawStatus != "SUBMITTED" {
		t.Fatalf("result mismatch: %+v", result)
	}
	if gotBody["externalTxId"] != "REQ001" {
		t.Fatalf("externalTxId: have %v", gotBody["externalTxId"])
	}
	if gotBody["assetId"] != "BTC_TEST" {
		t.Fatalf("assetId: have %v, want config override", gotBody["assetId"])
	}
	source := gotBody["source"].(map[string]interface{})
	if source["id"] != "7" || source["type"] != "VAULT_ACCOUNT" {
		t.Fatalf("source: have %v", source)
	}
}

func TestCreateTransferDuplicateFallsBack(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(apiErrorBody{Message: "external tx id already exists", Code: 1438})
	})
	mux.HandleFunc("/v1/transactions/external_tx_id/REQ001", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(transactionResponse{ID: "fb-9", Status: "CONFIRMING"})
	})
	c, _, closeServer := newTestClient(t, mux)
	defer closeServer()

	result, err := c.CreateTransfer(context.Background(), &provider.TransferRequest{
		HotWalletAddress: "0xhot",
		Amount:           "0.5",
		Asset:            "BTC",
		ExternalTxID:     "REQ001",
		ColdWalletConfig: fireblocksToken("7").WalletConfig,
	})
	if err != nil {
		t.Fatalf("replayed transfer: %v", err)
	}
	if result.ProviderTxID != "fb-9" || result.RawStatus != "CONFIRMING" {
		t.Fatalf("replay result mismatch: %+v", result)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transactions/fb-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(apiErrorBody{Message: "bad api key", Code: 401})
	})
	c, _, closeServer := newTestClient(t, mux)
	defer closeServer()

	_, err := c.TransactionByID(context.Background(), "fb-1", fireblocksToken("7"))
	var callErr *provider.CallError
	if !errors.As(err, &callErr) || callErr.Status != http.StatusUnauthorized {
		t.Fatalf("have %v, want CallError with 401", err)
	}
}

func TestMissingVaultConfig(t *testing.T) {
	mux := http.NewServeMux()
	c, _, closeServer := newTestClient(t, mux)
	defer closeServer()

	token := fireblocksToken("7")
	token.WalletConfig = &types.WalletConfig{Provider: ProviderName}
	_, err := c.TokenBalance(context.Background(), token)
	var missing *provider.MissingWalletConfigError
	if !errors.As(err, &missing) || missing.Provider != ProviderName {
		t.Fatalf("have %v, want MissingWalletConfigError", err)
	}
}
