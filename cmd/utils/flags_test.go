package utils

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/tos-network/refilld/node"
)

func Test_SplitTagsFlag(t *testing.T) {
	tests := []struct {
		name string
		args string
		want map[string]string
	}{
		{
			"2 tags case",
			"host=localhost,bzzkey=123",
			map[string]string{
				"host":   "localhost",
				"bzzkey": "123",
			},
		},
		{
			"1 tag case",
			"host=localhost123",
			map[string]string{
				"host": "localhost123",
			},
		},
		{
			"empty case",
			"",
			map[string]string{},
		},
		{
			"garbage",
			"smth=smthelse=123",
			map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SplitTagsFlag(tt.args); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitTagsFlag() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"localhost", []string{"localhost"}},
		{"a, b ,c", []string{"a", "b", "c"}},
		{" , ,", nil},
		{"", nil},
	}
	for _, tt := range tests {
		if got := SplitAndTrim(tt.input); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitAndTrim(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// testContext parses args against the given flags and returns a cli context,
// mirroring how the app hands contexts to command actions.
func testContext(t *testing.T, cliFlags []cli.Flag, args []string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	app.Flags = cliFlags

	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range app.Flags {
		if err := f.Apply(set); err != nil {
			t.Fatalf("apply flag: %v", err)
		}
	}
	if err := set.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cli.NewContext(app, set, nil)
}

func TestSetNodeConfigOverridesOnlySetFlags(t *testing.T) {
	cliFlags := []cli.Flag{
		DataDirFlag, HTTPListenAddrFlag, HTTPPortFlag, HTTPVirtualHostsFlag,
		AuthEnabledFlag, MonitorEnabledFlag, MonitorIntervalFlag, ProviderTimeoutFlag,
	}
	ctx := testContext(t, cliFlags, []string{
		"--http.port=9001", "--auth=false", "--monitor.interval=500",
	})

	cfg := node.DefaultConfig
	cfg.ServerHost = "10.0.0.1" // pretend the config file set this
	SetNodeConfig(ctx, &cfg)

	if cfg.ServerPort != 9001 {
		t.Errorf("ServerPort = %d, want 9001", cfg.ServerPort)
	}
	if cfg.AuthEnabled {
		t.Error("AuthEnabled = true, want false")
	}
	if cfg.CronIntervalInMS != 500 {
		t.Errorf("CronIntervalInMS = %d, want 500", cfg.CronIntervalInMS)
	}
	// Unset flags must not clobber file-provided values.
	if cfg.ServerHost != "10.0.0.1" {
		t.Errorf("ServerHost = %q, want file value preserved", cfg.ServerHost)
	}
	if !cfg.CronEnabled {
		t.Error("CronEnabled = false, want default preserved")
	}
}

func TestSetNodeConfigVirtualHosts(t *testing.T) {
	ctx := testContext(t, []cli.Flag{HTTPVirtualHostsFlag}, []string{
		"--http.vhosts=localhost, refill.internal ,",
	})
	cfg := node.DefaultConfig
	SetNodeConfig(ctx, &cfg)

	want := []string{"localhost", "refill.internal"}
	if !reflect.DeepEqual(cfg.HTTPVirtualHosts, want) {
		t.Errorf("HTTPVirtualHosts = %v, want %v", cfg.HTTPVirtualHosts, want)
	}
}

func TestSetNodeConfigReadsKeyFiles(t *testing.T) {
	dir := t.TempDir()
	pubPath := filepath.Join(dir, "auth.pub")
	if err := os.WriteFile(pubPath, []byte("-----BEGIN PUBLIC KEY-----\nstub\n-----END PUBLIC KEY-----\n"), 0600); err != nil {
		t.Fatal(err)
	}

	ctx := testContext(t, []cli.Flag{AuthPublicKeyFlag}, []string{"--auth.publickey=" + pubPath})
	cfg := node.DefaultConfig
	SetNodeConfig(ctx, &cfg)

	if cfg.AuthPublicKey == "" || cfg.AuthPublicKey[:5] != "-----" {
		t.Errorf("AuthPublicKey not loaded from file: %q", cfg.AuthPublicKey)
	}
}
