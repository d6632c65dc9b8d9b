package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/tos-network/refilld/internal/flags"
	"github.com/tos-network/refilld/metrics"
	"github.com/tos-network/refilld/node"
	"github.com/tos-network/refilld/provider/liminal"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return file
}

func defaultTestConfig() refilldConfig {
	return refilldConfig{
		Node:    node.DefaultConfig,
		Metrics: metrics.DefaultConfig,
	}
}

func TestLoadConfig(t *testing.T) {
	file := writeTestConfig(t, `
[node]
server_host = "0.0.0.0"
server_port = 9091
auth_enabled = false
cron_interval_in_ms = 1500
slack_webhook_url = "https://hooks.slack.com/services/T0/B0/XYZ"
http_virtual_hosts = ["localhost", "refill.internal"]

[node.providers.liminal]
endpoint = "https://api.test.lmnl.app"
api_key = "test-key"
api_secret = "test-secret"

[metrics]
http = "127.0.0.1"
port = 7071
`)
	cfg := defaultTestConfig()
	if err := loadConfig(file, &cfg); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Node.ServerHost != "0.0.0.0" {
		t.Errorf("server host mismatch: have %q, want %q", cfg.Node.ServerHost, "0.0.0.0")
	}
	if cfg.Node.ServerPort != 9091 {
		t.Errorf("server port mismatch: have %d, want %d", cfg.Node.ServerPort, 9091)
	}
	if cfg.Node.AuthEnabled {
		t.Errorf("auth enabled mismatch: have true, want false")
	}
	if cfg.Node.CronIntervalInMS != 1500 {
		t.Errorf("cron interval mismatch: have %d, want %d", cfg.Node.CronIntervalInMS, 1500)
	}
	if want := []string{"localhost", "refill.internal"}; len(cfg.Node.HTTPVirtualHosts) != len(want) {
		t.Errorf("virtual hosts mismatch: have %v, want %v", cfg.Node.HTTPVirtualHosts, want)
	}
	if cfg.Node.Providers.Liminal == nil {
		t.Fatalf("liminal provider config missing")
	}
	if cfg.Node.Providers.Liminal.Endpoint != "https://api.test.lmnl.app" {
		t.Errorf("liminal endpoint mismatch: have %q", cfg.Node.Providers.Liminal.Endpoint)
	}
	if cfg.Node.Providers.Fireblocks != nil {
		t.Errorf("fireblocks provider config should be nil")
	}
	if cfg.Metrics.Port != 7071 {
		t.Errorf("metrics port mismatch: have %d, want %d", cfg.Metrics.Port, 7071)
	}
	// Keys absent from the file keep their defaults.
	if !cfg.Node.CronEnabled {
		t.Errorf("cron enabled default lost")
	}
	if cfg.Node.JWTMaxLifetimeInSeconds != node.DefaultConfig.JWTMaxLifetimeInSeconds {
		t.Errorf("jwt lifetime default lost: have %d", cfg.Node.JWTMaxLifetimeInSeconds)
	}
}

func TestLoadConfigUnknownField(t *testing.T) {
	file := writeTestConfig(t, `
[node]
server_prot = 9091
`)
	cfg := defaultTestConfig()
	err := loadConfig(file, &cfg)
	if err == nil {
		t.Fatalf("expected error for unknown field, got none")
	}
	if !strings.Contains(err.Error(), "server_prot") {
		t.Errorf("error does not name the offending field: %v", err)
	}
}

func testMainContext(t *testing.T, args []string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range flags.Merge(nodeFlags, metricsFlags) {
		if err := f.Apply(set); err != nil {
			t.Fatalf("failed to apply flag: %v", err)
		}
	}
	if err := set.Parse(args); err != nil {
		t.Fatalf("failed to parse args: %v", err)
	}
	return cli.NewContext(app, set, nil)
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	file := writeTestConfig(t, `
[node]
server_host = "10.1.2.3"
server_port = 9500
`)
	ctx := testMainContext(t, []string{"--config", file, "--http.port", "9900"})

	cfg := loadBaseConfig(ctx)
	if cfg.Node.ServerPort != 9900 {
		t.Errorf("flag did not override file: have %d, want %d", cfg.Node.ServerPort, 9900)
	}
	if cfg.Node.ServerHost != "10.1.2.3" {
		t.Errorf("file value lost: have %q, want %q", cfg.Node.ServerHost, "10.1.2.3")
	}
	if len(cfg.Node.HTTPVirtualHosts) != 1 || cfg.Node.HTTPVirtualHosts[0] != "localhost" {
		t.Errorf("default virtual hosts lost: have %v", cfg.Node.HTTPVirtualHosts)
	}
}

func TestDumpConfigRoundTrip(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Node.ServerPort = 9800
	cfg.Node.JWTMaxLifetimeInSeconds = 120
	cfg.Node.AuthPublicKey = "-----BEGIN PUBLIC KEY-----\nstub\n-----END PUBLIC KEY-----\n"
	cfg.Node.Providers.Liminal = &liminal.Config{
		Endpoint:  "https://api.test.lmnl.app",
		APIKey:    "test-key",
		APISecret: "test-secret",
	}
	blob, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	file := writeTestConfig(t, string(blob))

	got := defaultTestConfig()
	if err := loadConfig(file, &got); err != nil {
		t.Fatalf("failed to reload dumped config: %v", err)
	}
	if got.Node.ServerPort != cfg.Node.ServerPort {
		t.Errorf("server port mismatch: have %d, want %d", got.Node.ServerPort, cfg.Node.ServerPort)
	}
	if got.Node.JWTMaxLifetimeInSeconds != cfg.Node.JWTMaxLifetimeInSeconds {
		t.Errorf("jwt lifetime mismatch: have %d, want %d", got.Node.JWTMaxLifetimeInSeconds, cfg.Node.JWTMaxLifetimeInSeconds)
	}
	if got.Node.AuthPublicKey != cfg.Node.AuthPublicKey {
		t.Errorf("public key mismatch: have %q", got.Node.AuthPublicKey)
	}
	if got.Node.Providers.Liminal == nil || got.Node.Providers.Liminal.Endpoint != cfg.Node.Providers.Liminal.Endpoint {
		t.Errorf("liminal config did not survive the round trip: %+v", got.Node.Providers.Liminal)
	}
}
