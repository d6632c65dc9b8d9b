package flags

import "github.com/urfave/cli/v2"

const (
	ServiceCategory  = "REFILL SERVICE"
	AuthCategory     = "AUTHENTICATION"
	APICategory      = "API"
	MonitorCategory  = "RECONCILIATION"
	ProviderCategory = "CUSTODY PROVIDERS"
	LoggingCategory  = "LOGGING AND DEBUGGING"
	MetricsCategory  = "METRICS AND STATS"
	MiscCategory     = "MISC"
)

func init() {
	cli.HelpFlag.(*cli.BoolFlag).Category = MiscCategory
	cli.VersionFlag.(*cli.BoolFlag).Category = MiscCategory
}
