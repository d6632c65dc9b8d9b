// Package utils contains internal helper functions for refilld commands.
package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/tos-network/refilld/internal/flags"
	"github.com/tos-network/refilld/log"
	"github.com/tos-network/refilld/metrics"
	"github.com/tos-network/refilld/metrics/exp"
	"github.com/tos-network/refilld/metrics/influxdb"
	"github.com/tos-network/refilld/node"
	"github.com/tos-network/refilld/refilldb"
	"github.com/tos-network/refilld/refilldb/leveldb"
)

// These are all the command line flags we support.
// If you add to this list, please remember to include the
// flag in the appropriate command definition.
//
// The flags are defined here so their names and help texts
// are the same for all commands.

var (
	// General settings
	DataDirFlag = &cli.StringFlag{
		Name:     "datadir",
		Usage:    "Data directory for the catalog database (in-memory catalog when empty)",
		Category: flags.ServiceCategory,
	}

	// API settings
	HTTPListenAddrFlag = &cli.StringFlag{
		Name:     "http.addr",
		Usage:    "HTTP server listening interface",
		Value:    node.DefaultConfig.ServerHost,
		Category: flags.APICategory,
	}
	HTTPPortFlag = &cli.IntFlag{
		Name:     "http.port",
		Usage:    "HTTP server listening port",
		Value:    node.DefaultConfig.ServerPort,
		Category: flags.APICategory,
	}
	HTTPCORSDomainFlag = &cli.StringFlag{
		Name:     "http.corsdomain",
		Usage:    "Comma separated list of domains from which to accept cross origin requests (browser enforced)",
		Value:    "",
		Category: flags.APICategory,
	}
	HTTPVirtualHostsFlag = &cli.StringFlag{
		Name:     "http.vhosts",
		Usage:    "Comma separated list of virtual hostnames from which to accept requests (server enforced). Accepts '*' wildcard.",
		Value:    strings.Join(node.DefaultConfig.HTTPVirtualHosts, ","),
		Category: flags.APICategory,
	}

	// Authentication settings
	AuthEnabledFlag = &cli.BoolFlag{
		Name:     "auth",
		Usage:    "Require signed request tokens and sign every response",
		Value:    node.DefaultConfig.AuthEnabled,
		Category: flags.AuthCategory,
	}
	AuthPublicKeyFlag = &cli.StringFlag{
		Name:     "auth.publickey",
		Usage:    "File containing the PEM public key that verifies request tokens",
		Category: flags.AuthCategory,
	}
	CallbackPrivateKeyFlag = &cli.StringFlag{
		Name:     "auth.callbackkey",
		Usage:    "File containing the PEM private key that signs response tokens",
		Category: flags.AuthCategory,
	}
	JWTMaxLifetimeFlag = &cli.IntFlag{
		Name:     "auth.maxlifetime",
		Usage:    "Longest accepted token lifetime (exp minus iat) in seconds",
		Value:    node.DefaultConfig.JWTMaxLifetimeInSeconds,
		Category: flags.AuthCategory,
	}

	// Reconciliation settings
	MonitorEnabledFlag = &cli.BoolFlag{
		Name:     "monitor",
		Usage:    "Run the reconciliation monitor",
		Value:    node.DefaultConfig.CronEnabled,
		Category: flags.MonitorCategory,
	}
	MonitorIntervalFlag = &cli.IntFlag{
		Name:     "monitor.interval",
		Usage:    "Reconciliation cycle interval in milliseconds",
		Value:    node.DefaultConfig.CronIntervalInMS,
		Category: flags.MonitorCategory,
	}
	MonitorAlertThresholdFlag = &cli.IntFlag{
		Name:     "monitor.alertthreshold",
		Usage:    "Seconds a transaction may stay non-terminal before it joins the cycle alert",
		Value:    node.DefaultConfig.PendingAlertThresholdInSeconds,
		Category: flags.MonitorCategory,
	}
	MonitorConcurrencyFlag = &cli.Int64Flag{
		Name:     "monitor.concurrency",
		Usage:    "Maximum provider lookups a cycle runs in parallel",
		Value:    node.DefaultConfig.MonitorConcurrency,
		Category: flags.MonitorCategory,
	}
	SlackWebhookFlag = &cli.StringFlag{
		Name:     "alert.slackurl",
		Usage:    "Slack webhook URL receiving reconciliation alerts",
		Category: flags.MonitorCategory,
	}

	// Custody provider settings
	ProviderTimeoutFlag = &cli.IntFlag{
		Name:     "provider.timeout",
		Usage:    "Custody provider call deadline in seconds",
		Value:    node.DefaultConfig.ProviderTimeoutInSeconds,
		Category: flags.ProviderCategory,
	}

	// Logging settings
	VerbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value:    3,
		Category: flags.LoggingCategory,
	}
	LogJSONFlag = &cli.BoolFlag{
		Name:     "log.json",
		Usage:    "Format logs with JSON",
		Category: flags.LoggingCategory,
	}

	// Metrics flags
	MetricsEnabledFlag = &cli.BoolFlag{
		Name:     "metrics",
		Usage:    "Enable metrics collection and reporting",
		Category: flags.MetricsCategory,
	}
	MetricsEnabledExpensiveFlag = &cli.BoolFlag{
		Name:     "metrics.expensive",
		Usage:    "Enable expensive metrics collection and reporting",
		Category: flags.MetricsCategory,
	}

	// MetricsHTTPFlag defines the endpoint for a stand-alone metrics HTTP endpoint.
	// This keeps the metrics surface off the service listener so it can be
	// exposed on an internal interface only.
	MetricsHTTPFlag = &cli.StringFlag{
		Name:     "metrics.addr",
		Usage:    "Enable stand-alone metrics HTTP server listening interface",
		Value:    metrics.DefaultConfig.HTTP,
		Category: flags.MetricsCategory,
	}
	MetricsPortFlag = &cli.IntFlag{
		Name:     "metrics.port",
		Usage:    "Metrics HTTP server listening port",
		Value:    metrics.DefaultConfig.Port,
		Category: flags.MetricsCategory,
	}
	MetricsEnableInfluxDBFlag = &cli.BoolFlag{
		Name:     "metrics.influxdb",
		Usage:    "Enable metrics export/push to an external InfluxDB database",
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBEndpointFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.endpoint",
		Usage:    "InfluxDB API endpoint to report metrics to",
		Value:    metrics.DefaultConfig.InfluxDBEndpoint,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBDatabaseFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.database",
		Usage:    "InfluxDB database name to push reported metrics to",
		Value:    metrics.DefaultConfig.InfluxDBDatabase,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBUsernameFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.username",
		Usage:    "Username to authorize access to the database",
		Value:    metrics.DefaultConfig.InfluxDBUsername,
		Category: flags.MetricsCategory,
	}
	MetricsInfluxDBPasswordFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.password",
		Usage:    "Password to authorize access to the database",
		Value:    metrics.DefaultConfig.InfluxDBPassword,
		Category: flags.MetricsCategory,
	}
	// Tags are part of every measurement sent to InfluxDB. Queries on tags are faster in InfluxDB.
	// For example `host` tag could be used so that we can group all nodes and average a measurement
	// across all of them, but also so that we can select a specific node and inspect its measurements.
	// https://docs.influxdata.com/influxdb/v1.4/concepts/key_concepts/#tag-key
	MetricsInfluxDBTagsFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.tags",
		Usage:    "Comma-separated InfluxDB tags (key/values) attached to all measurements",
		Value:    metrics.DefaultConfig.InfluxDBTags,
		Category: flags.MetricsCategory,
	}

	MetricsEnableInfluxDBV2Flag = &cli.BoolFlag{
		Name:     "metrics.influxdbv2",
		Usage:    "Enable metrics export/push to an external InfluxDB v2 database",
		Category: flags.MetricsCategory,
	}

	MetricsInfluxDBTokenFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.token",
		Usage:    "Token to authorize access to the database (v2 only)",
		Value:    metrics.DefaultConfig.InfluxDBToken,
		Category: flags.MetricsCategory,
	}

	MetricsInfluxDBBucketFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.bucket",
		Usage:    "InfluxDB bucket name to push reported metrics to (v2 only)",
		Value:    metrics.DefaultConfig.InfluxDBBucket,
		Category: flags.MetricsCategory,
	}

	MetricsInfluxDBOrganizationFlag = &cli.StringFlag{
		Name:     "metrics.influxdb.organization",
		Usage:    "InfluxDB organization name (v2 only)",
		Value:    metrics.DefaultConfig.InfluxDBOrganization,
		Category: flags.MetricsCategory,
	}
)

// SplitAndTrim splits input separated by a comma
// and trims excessive white space from the substrings.
func SplitAndTrim(input string) (ret []string) {
	l := strings.Split(input, ",")
	for _, r := range l {
		if r = strings.TrimSpace(r); r != "" {
			ret = append(ret, r)
		}
	}
	return ret
}

// setHTTP applies the HTTP listener flags to the config.
func setHTTP(ctx *cli.Context, cfg *node.Config) {
	if ctx.IsSet(HTTPListenAddrFlag.Name) {
		cfg.ServerHost = ctx.String(HTTPListenAddrFlag.Name)
	}
	if ctx.IsSet(HTTPPortFlag.Name) {
		cfg.ServerPort = ctx.Int(HTTPPortFlag.Name)
	}
	if ctx.IsSet(HTTPCORSDomainFlag.Name) {
		cfg.HTTPCors = SplitAndTrim(ctx.String(HTTPCORSDomainFlag.Name))
	}
	if ctx.IsSet(HTTPVirtualHostsFlag.Name) {
		cfg.HTTPVirtualHosts = SplitAndTrim(ctx.String(HTTPVirtualHostsFlag.Name))
	}
}

// setAuth applies the envelope flags to the config. Key flags name files on
// disk; the config carries their PEM contents.
func setAuth(ctx *cli.Context, cfg *node.Config) {
	if ctx.IsSet(AuthEnabledFlag.Name) {
		cfg.AuthEnabled = ctx.Bool(AuthEnabledFlag.Name)
	}
	if ctx.IsSet(AuthPublicKeyFlag.Name) {
		cfg.AuthPublicKey = readKeyFile(AuthPublicKeyFlag.Name, ctx.String(AuthPublicKeyFlag.Name))
	}
	if ctx.IsSet(CallbackPrivateKeyFlag.Name) {
		cfg.CallbackPrivateKey = readKeyFile(CallbackPrivateKeyFlag.Name, ctx.String(CallbackPrivateKeyFlag.Name))
	}
	if ctx.IsSet(JWTMaxLifetimeFlag.Name) {
		cfg.JWTMaxLifetimeInSeconds = ctx.Int(JWTMaxLifetimeFlag.Name)
	}
}

// setMonitor applies the reconciliation flags to the config.
func setMonitor(ctx *cli.Context, cfg *node.Config) {
	if ctx.IsSet(MonitorEnabledFlag.Name) {
		cfg.CronEnabled = ctx.Bool(MonitorEnabledFlag.Name)
	}
	if ctx.IsSet(MonitorIntervalFlag.Name) {
		cfg.CronIntervalInMS = ctx.Int(MonitorIntervalFlag.Name)
	}
	if ctx.IsSet(MonitorAlertThresholdFlag.Name) {
		cfg.PendingAlertThresholdInSeconds = ctx.Int(MonitorAlertThresholdFlag.Name)
	}
	if ctx.IsSet(MonitorConcurrencyFlag.Name) {
		cfg.MonitorConcurrency = ctx.Int64(MonitorConcurrencyFlag.Name)
	}
	if ctx.IsSet(SlackWebhookFlag.Name) {
		cfg.SlackWebhookURL = ctx.String(SlackWebhookFlag.Name)
	}
}

// SetNodeConfig applies node-related command line flags to the config.
// Flags override whatever the config file set.
func SetNodeConfig(ctx *cli.Context, cfg *node.Config) {
	setHTTP(ctx, cfg)
	setAuth(ctx, cfg)
	setMonitor(ctx, cfg)

	if ctx.IsSet(DataDirFlag.Name) {
		cfg.DataDir = ctx.String(DataDirFlag.Name)
	}
	if ctx.IsSet(ProviderTimeoutFlag.Name) {
		cfg.ProviderTimeoutInSeconds = ctx.Int(ProviderTimeoutFlag.Name)
	}
}

func readKeyFile(flagName, path string) string {
	blob, err := os.ReadFile(path)
	if err != nil {
		Fatalf("Option --%s: %v", flagName, err)
	}
	return string(blob)
}

// MakeCatalogDatabase opens the catalog database under the data directory
// and will hard crash if it fails. Catalog tooling shares the store with the
// daemon, so a running daemon holds the lock.
func MakeCatalogDatabase(dataDir string) refilldb.Database {
	if dataDir == "" {
		Fatalf("Catalog commands need --datadir; an in-memory catalog is not shared between processes")
	}
	db, err := leveldb.New(filepath.Join(dataDir, node.CatalogDir), 16, 16, false)
	if err != nil {
		Fatalf("Could not open database: %v", err)
	}
	return db
}

// SetupLogging installs the root log handler according to the logging flags.
func SetupLogging(ctx *cli.Context) {
	usecolor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	output := io.Writer(os.Stderr)
	if usecolor {
		output = colorable.NewColorableStderr()
	}
	format := log.TerminalFormat(usecolor)
	if ctx.Bool(LogJSONFlag.Name) {
		format = log.JSONFormat()
	}
	lvl := log.Lvl(ctx.Int(VerbosityFlag.Name))
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(output, format)))
}

// SetupMetrics starts the configured metrics exporters. It is a no-op unless
// the --metrics flag enabled collection at process start.
func SetupMetrics(ctx *cli.Context) {
	if metrics.Enabled {
		log.Info("Enabling metrics collection")

		var (
			enableExport   = ctx.Bool(MetricsEnableInfluxDBFlag.Name)
			enableExportV2 = ctx.Bool(MetricsEnableInfluxDBV2Flag.Name)
		)

		if enableExport || enableExportV2 {
			CheckExclusive(ctx, MetricsEnableInfluxDBFlag, MetricsEnableInfluxDBV2Flag)

			v1FlagIsSet := ctx.IsSet(MetricsInfluxDBUsernameFlag.Name) ||
				ctx.IsSet(MetricsInfluxDBPasswordFlag.Name)

			v2FlagIsSet := ctx.IsSet(MetricsInfluxDBTokenFlag.Name) ||
				ctx.IsSet(MetricsInfluxDBOrganizationFlag.Name) ||
				ctx.IsSet(MetricsInfluxDBBucketFlag.Name)

			if enableExport && v2FlagIsSet {
				Fatalf("Flags --metrics.influxdb.organization, --metrics.influxdb.token, --metrics.influxdb.bucket are only available for influxdb-v2")
			} else if enableExportV2 && v1FlagIsSet {
				Fatalf("Flags --metrics.influxdb.username, --metrics.influxdb.password are only available for influxdb-v1")
			}
		}

		var (
			endpoint = ctx.String(MetricsInfluxDBEndpointFlag.Name)
			database = ctx.String(MetricsInfluxDBDatabaseFlag.Name)
			username = ctx.String(MetricsInfluxDBUsernameFlag.Name)
			password = ctx.String(MetricsInfluxDBPasswordFlag.Name)

			token        = ctx.String(MetricsInfluxDBTokenFlag.Name)
			bucket       = ctx.String(MetricsInfluxDBBucketFlag.Name)
			organization = ctx.String(MetricsInfluxDBOrganizationFlag.Name)
		)

		if enableExport {
			tagsMap := SplitTagsFlag(ctx.String(MetricsInfluxDBTagsFlag.Name))

			log.Info("Enabling metrics export to InfluxDB")

			go influxdb.InfluxDBWithTags(metrics.DefaultRegistry, 10*time.Second, endpoint, database, username, password, "refilld.", tagsMap)
		} else if enableExportV2 {
			tagsMap := SplitTagsFlag(ctx.String(MetricsInfluxDBTagsFlag.Name))

			log.Info("Enabling metrics export to InfluxDB (v2)")

			go influxdb.InfluxDBV2WithTags(metrics.DefaultRegistry, 10*time.Second, endpoint, token, bucket, organization, "refilld.", tagsMap)
		}

		if ctx.IsSet(MetricsHTTPFlag.Name) {
			address := fmt.Sprintf("%s:%d", ctx.String(MetricsHTTPFlag.Name), ctx.Int(MetricsPortFlag.Name))
			log.Info("Enabling stand-alone metrics HTTP endpoint", "address", address)
			exp.Setup(address)
		}
	}
}

func SplitTagsFlag(tagsFlag string) map[string]string {
	tags := strings.Split(tagsFlag, ",")
	tagsMap := map[string]string{}

	for _, t := range tags {
		if t != "" {
			kv := strings.Split(t, "=")

			if len(kv) == 2 {
				tagsMap[kv[0]] = kv[1]
			}
		}
	}

	return tagsMap
}

// CheckExclusive verifies that only a single instance of the provided flags was
// set by the user. Each flag might optionally be followed by a string type to
// specialize it further.
func CheckExclusive(ctx *cli.Context, args ...interface{}) {
	set := make([]string, 0, 1)
	for i := 0; i < len(args); i++ {
		// Make sure the next argument is a flag and skip if not set
		flag, ok := args[i].(cli.Flag)
		if !ok {
			panic(fmt.Sprintf("invalid argument, not cli.Flag type: %T", args[i]))
		}
		// Check if next arg extends current and expand its name if so
		name := flag.Names()[0]

		if i+1 < len(args) {
			switch option := args[i+1].(type) {
			case string:
				// Extended flag check, make sure value set doesn't conflict with passed in option
				if ctx.String(flag.Names()[0]) == option {
					name += "=" + option
					set = append(set, "--"+name)
				}
				// shift arguments and continue
				i++
				continue

			case cli.Flag:
			default:
				panic(fmt.Sprintf("invalid argument, not cli.Flag or string extension: %T", args[i+1]))
			}
		}
		// Mark the flag if it's set
		if ctx.IsSet(flag.Names()[0]) {
			set = append(set, "--"+name)
		}
	}
	if len(set) > 1 {
		Fatalf("Flags %v can't be used at the same time", strings.Join(set, ", "))
	}
}
