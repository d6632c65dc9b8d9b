// refilld is the custody hot-wallet refill daemon.
package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tos-network/refilld/cmd/utils"
	"github.com/tos-network/refilld/internal/flags"
	"github.com/tos-network/refilld/metrics"
)

const clientIdentifier = "refilld" // Client identifier reported by the version command

var (
	// Git SHA1 commit hash of the release (set via linker flags)
	gitCommit = ""
	gitDate   = ""

	// The app that holds all commands and flags.
	app = flags.NewApp(gitCommit, gitDate, "the hot-wallet refill service command line interface")

	// flags that configure the node
	nodeFlags = []cli.Flag{
		utils.DataDirFlag,
		configFileFlag,
		utils.HTTPListenAddrFlag,
		utils.HTTPPortFlag,
		utils.HTTPCORSDomainFlag,
		utils.HTTPVirtualHostsFlag,
		utils.AuthEnabledFlag,
		utils.AuthPublicKeyFlag,
		utils.CallbackPrivateKeyFlag,
		utils.JWTMaxLifetimeFlag,
		utils.MonitorEnabledFlag,
		utils.MonitorIntervalFlag,
		utils.MonitorAlertThresholdFlag,
		utils.MonitorConcurrencyFlag,
		utils.SlackWebhookFlag,
		utils.ProviderTimeoutFlag,
	}

	loggingFlags = []cli.Flag{
		utils.VerbosityFlag,
		utils.LogJSONFlag,
	}

	metricsFlags = []cli.Flag{
		utils.MetricsEnabledFlag,
		utils.MetricsEnabledExpensiveFlag,
		utils.MetricsHTTPFlag,
		utils.MetricsPortFlag,
		utils.MetricsEnableInfluxDBFlag,
		utils.MetricsInfluxDBEndpointFlag,
		utils.MetricsInfluxDBDatabaseFlag,
		utils.MetricsInfluxDBUsernameFlag,
		utils.MetricsInfluxDBPasswordFlag,
		utils.MetricsInfluxDBTagsFlag,
		utils.MetricsEnableInfluxDBV2Flag,
		utils.MetricsInfluxDBTokenFlag,
		utils.MetricsInfluxDBBucketFlag,
		utils.MetricsInfluxDBOrganizationFlag,
	}
)

func init() {
	// Initialize the CLI app and start refilld
	app.Action = refilld
	app.HideVersion = true // we have a command to print the version
	app.Commands = []*cli.Command{
		// See catalogcmd.go:
		catalogCommand,
		// See clientcmd.go:
		refillCommand,
		statusCommand,
		// See misccmd.go:
		versionCommand,
		// See config.go:
		dumpConfigCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	app.Flags = flags.Merge(nodeFlags, loggingFlags, metricsFlags)
	app.Before = func(ctx *cli.Context) error {
		utils.SetupLogging(ctx)
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// prepare starts the metric exporters. It runs before the stack is made so
// collection covers boot.
func prepare(ctx *cli.Context) {
	// Start metrics export if enabled
	utils.SetupMetrics(ctx)

	// Start system runtime metrics collection
	go metrics.CollectProcessMetrics(3 * time.Second)
}

// refilld is the main entry point into the system if no special subcommand
// is run. It creates the service stack from the command line arguments and
// runs it in blocking mode, waiting for it to be shut down.
func refilld(ctx *cli.Context) error {
	if args := ctx.Args().Slice(); len(args) > 0 {
		return fmt.Errorf("invalid command: %q", args[0])
	}

	prepare(ctx)
	stack, _ := makeConfigNode(ctx)
	defer stack.Close()

	utils.StartNode(stack)
	stack.Wait()
	return nil
}
