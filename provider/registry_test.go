package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tos-network/refilld/types"
)

type fakeProvider struct {
	name      string
	initCalls int
	initErr   error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Init(ctx context.Context) error {
	f.initCalls++
	return f.initErr
}

func (f *fakeProvider) TokenBalance(ctx context.Context, token *TokenInfo) (*types.Atomic, error) {
	return types.NewAtomic(0), nil
}

func (f *fakeProvider) CreateTransfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	return &TransferResult{}, nil
}

func (f *fakeProvider) TransactionByID(ctx context.Context, providerTxID string, token *TokenInfo) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func TestRegistryInitializeIdempotent(t *testing.T) {
	r := NewRegistry()
	fake := &fakeProvider{name: "liminal"}
	r.RegisterFactory("liminal", func() (Provider, error) { return fake, nil })

	if err := r.Initialize(context.Background(), []string{"liminal", "LIMINAL", " liminal "}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := r.Initialize(context.Background(), []string{"liminal"}); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if fake.initCalls != 1 {
		t.Fatalf("init calls: have %d, want 1", fake.initCalls)
	}
	client, err := r.Get("LiMiNaL")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if client != fake {
		t.Fatal("get returned a different client")
	}
}

func TestRegistryGetBeforeInitialize(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("liminal"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("get before init: have %v, want ErrNotInitialized", err)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()
	if err := r.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := r.Get("fireblocks"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("unknown get: have %v, want ErrUnsupportedProvider", err)
	}
}

func TestRegistrySkipsUnconfiguredNames(t *testing.T) {
	r := NewRegistry()
	fake := &fakeProvider{name: "liminal"}
	r.RegisterFactory("liminal", func() (Provider, error) { return fake, nil })

	// fireblocks is referenced by an asset but carries no configuration;
	// initialization proceeds and admission rejects those assets later.
	if err := r.Initialize(context.Background(), []string{"liminal", "fireblocks"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := r.Get("fireblocks"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("unconfigured get: have %v, want ErrUnsupportedProvider", err)
	}
	names := r.Names()
	if len(names) != 1 || names[0] != "liminal" {
		t.Fatalf("names: have %v, want [liminal]", names)
	}
}

func TestRegistryInitFailureAborts(t *testing.T) {
	r := NewRegistry()
	fake := &fakeProvider{name: "liminal", initErr: errors.New("bad credentials")}
	r.RegisterFactory("liminal", func() (Provider, error) { return fake, nil })

	if err := r.Initialize(context.Background(), []string{"liminal"}); err == nil {
		t.Fatal("expected initialization failure")
	}
}
