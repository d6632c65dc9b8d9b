package liminal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tos-network/refilld/provider"
	"github.com/tos-network/refilld/types"
)

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		APIKey:         "key",
		APISecret:      "secret",
		RequestTimeout: 2 * time.Second,
	}
}

func liminalToken(walletID string) *provider.TokenInfo {
	return &provider.TokenInfo{
		Symbol:      "BTC",
		ChainSymbol: "BTC",
		Decimals:    8,
		WalletConfig: &types.WalletConfig{
			Provider: ProviderName,
			Liminal:  &types.LiminalWalletConfig{WalletID: walletID},
		},
	}
}

func TestTokenBalance(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("X-Api-Key") != "key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("X-Signature") == "" || r.Header.Get("X-Timestamp") == "" {
			t.Errorf("missing signature headers")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    map[string]string{"balance": "123456789"},
		})
	}))
	defer server.Close()

	c := New(testConfig(server.URL))
	balance, err := c.TokenBalance(context.Background(), liminalToken("42"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.String() != "123456789" {
		t.Fatalf("balance: have %s, want 123456789", balance)
	}
	if gotPath != "/api/v1/wallets/42/balance" {
		t.Fatalf("path: have %s", gotPath)
	}
}

func TestTokenBalanceMissingConfig(t *testing.T) {
	c := New(testConfig("http://unused"))
	token := liminalToken("42")
	token.WalletConfig = &types.WalletConfig{Provider: ProviderName}

	_, err := c.TokenBalance(context.Background(), token)
	var missing *provider.MissingWalletConfigError
	if !errors.As(err, &missing) || missing.Provider != ProviderName {
		t.Fatalf("have %v, want MissingWalletConfigError", err)
	}
}

func TestCreateTransferCarriesSequenceID(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/transfers" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"identifier": "lm-77",
				"status":     1,
				"note":       "queued",
				"created_at": 1700000000000,
			},
		})
	}))
	defer server.Close()

	c := New(testConfig(server.URL))
	result, err := c.CreateTransfer(context.Background(), &provider.TransferRequest{
		HotWalletAddress: "0xhot",
		Amount:           "0.5",
		Asset:            "BTC",
		Chain:            "BTC",
		ExternalTxID:     "REQ001",
		ColdWalletConfig: liminalToken("42").WalletConfig,
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	if gotBody["sequence_id"] != "REQ001" {
		t.Fatalf("sequence_id: have %v, want REQ001", gotBody["sequence_id"])
	}
	if result.ProviderTxID != "lm-77" || result.RawStatus != "1" || result.Message != "queued" {
		t.Fatalf("result mismatch: %+v", result)
	}
	if result.ExternalTxID != "REQ001" {
		t.Fatalf("external id: have %s", result.ExternalTxID)
	}
	if len(result.Raw) == 0 {
		t.Fatal("raw response not captured")
	}
}

func TestRejectedEnvelopeSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"message": "insufficient funds",
		})
	}))
	defer server.Close()

	c := New(testConfig(server.URL))
	_, err := c.TokenBalance(context.Background(), liminalToken("42"))
	var callErr *provider.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("have %v, want CallError", err)
	}
}

func TestHTTPErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"message": "upstream down"})
	}))
	defer server.Close()

	c := New(testConfig(server.URL))
	_, err := c.TransactionByID(context.Background(), "lm-1", liminalToken("42"))
	var callErr *provider.CallError
	if !errors.As(err, &callErr) || callErr.Status != http.StatusBadGateway {
		t.Fatalf("have %v, want CallError with 502", err)
	}
}
