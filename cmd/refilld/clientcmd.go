package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/tos-network/refilld/cmd/utils"
	"github.com/tos-network/refilld/internal/flags"
	"github.com/tos-network/refilld/params"
	"github.com/tos-network/refilld/refill"
	"github.com/tos-network/refilld/refillclient"
	"github.com/tos-network/refilld/types"
)

var (
	serverFlag = &cli.StringFlag{
		Name:     "server",
		Usage:    "Base URL of a running refill service",
		Value:    fmt.Sprintf("http://localhost:%d", params.DefaultServerPort),
		Category: flags.APICategory,
	}
	signKeyFlag = &cli.StringFlag{
		Name:     "signkey",
		Usage:    "File containing the PEM RSA private key that signs request tokens",
		Category: flags.AuthCategory,
	}
	verifyKeyFlag = &cli.StringFlag{
		Name:     "verifykey",
		Usage:    "File containing the PEM RSA public key that verifies response tokens",
		Category: flags.AuthCategory,
	}
	clientFlags = []cli.Flag{
		serverFlag,
		signKeyFlag,
		verifyKeyFlag,
	}

	refillIDFlag = &cli.StringFlag{
		Name:  "id",
		Usage: "Refill request id (generated when omitted)",
	}
	refillWalletFlag = &cli.StringFlag{
		Name:     "wallet",
		Usage:    "Hot wallet address to top up",
		Required: true,
	}
	refillAssetFlag = &cli.StringFlag{
		Name:     "asset",
		Usage:    "Asset symbol",
		Required: true,
	}
	refillAssetAddressFlag = &cli.StringFlag{
		Name:  "asset.address",
		Usage: "Asset contract address, or 'native' for the chain's base coin",
		Value: "native",
	}
	refillChainFlag = &cli.StringFlag{
		Name:     "chain",
		Usage:    "Chain name",
		Required: true,
	}
	refillAmountFlag = &cli.StringFlag{
		Name:     "amount",
		Usage:    "Refill amount in asset units",
		Required: true,
	}
	refillSweepFlag = &cli.StringFlag{
		Name:     "sweep",
		Usage:    "Cold wallet address funding the refill",
		Required: true,
	}

	refillCommand = &cli.Command{
		Name:   "refill",
		Usage:  "Submit a hot wallet refill to a running service",
		Action: submitRefill,
		Flags: flags.Merge(clientFlags, []cli.Flag{
			refillIDFlag,
			refillWalletFlag,
			refillAssetFlag,
			refillAssetAddressFlag,
			refillChainFlag,
			refillAmountFlag,
			refillSweepFlag,
		}),
		Description: `
Submits one refill intent. With --signkey and --verifykey the request is sent
as a signed token and the response token is verified against the service's
callback key; without them the exchange is plain JSON for auth-disabled
deployments.`,
	}
	statusCommand = &cli.Command{
		Name:      "status",
		Usage:     "Query the status of a submitted refill",
		ArgsUsage: "<refill_request_id>",
		Action:    refillStatus,
		Flags:     clientFlags,
	}
)

// statusColors maps lifecycle statuses to their terminal rendering.
var statusColors = map[types.Status]func(format string, args ...interface{}) string{
	types.StatusPending:    color.New(color.FgYellow).SprintfFunc(),
	types.StatusProcessing: color.New(color.FgYellow).SprintfFunc(),
	types.StatusCompleted:  color.New(color.FgGreen).SprintfFunc(),
	types.StatusFailed:     color.New(color.FgRed).SprintfFunc(),
}

func colorStatus(status types.Status) string {
	if paint, ok := statusColors[status]; ok {
		return paint("%s", status)
	}
	return string(status)
}

// newRefillClient builds the API client from the common client flags. Keys
// come in pairs: requests are signed with the operator key and responses
// verified with the service's callback public key.
func newRefillClient(ctx *cli.Context) *refillclient.Client {
	signKey := readClientKey(ctx, signKeyFlag)
	verifyKey := readClientKey(ctx, verifyKeyFlag)
	if (signKey == "") != (verifyKey == "") {
		utils.Fatalf("Flags --%s and --%s must be given together", signKeyFlag.Name, verifyKeyFlag.Name)
	}
	client, err := refillclient.New(refillclient.Config{
		Endpoint:   ctx.String(serverFlag.Name),
		PublicKey:  verifyKey,
		PrivateKey: signKey,
	})
	if err != nil {
		utils.Fatalf("Failed to build the API client: %v", err)
	}
	return client
}

func readClientKey(ctx *cli.Context, flag *cli.StringFlag) string {
	path := ctx.String(flag.Name)
	if path == "" {
		return ""
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		utils.Fatalf("Option --%s: %v", flag.Name, err)
	}
	return string(blob)
}

func submitRefill(ctx *cli.Context) error {
	client := newRefillClient(ctx)

	requestID := ctx.String(refillIDFlag.Name)
	if requestID == "" {
		requestID = uuid.NewString()
		fmt.Fprintf(os.Stderr, "Generated refill request id %s\n", requestID)
	}
	intent := &refill.Intent{
		RefillRequestID:   requestID,
		WalletAddress:     ctx.String(refillWalletFlag.Name),
		AssetSymbol:       ctx.String(refillAssetFlag.Name),
		AssetAddress:      ctx.String(refillAssetAddressFlag.Name),
		ChainName:         ctx.String(refillChainFlag.Name),
		RefillAmount:      ctx.String(refillAmountFlag.Name),
		RefillSweepWallet: ctx.String(refillSweepFlag.Name),
	}
	result, err := client.SubmitRefill(context.Background(), intent)
	if err != nil {
		var apiErr *refillclient.APIError
		if errors.As(err, &apiErr) {
			utils.Fatalf("Refill rejected with %s: %s", apiErr.Code, apiErr.Message)
		}
		utils.Fatalf("Refill submission failed: %v", err)
	}
	fmt.Println("Refill accepted:")
	fmt.Printf("  request id:     %s\n", result.RefillRequestID)
	fmt.Printf("  provider:       %s\n", result.Provider)
	fmt.Printf("  provider tx id: %s\n", result.ProviderTxID)
	fmt.Printf("  status:         %s\n", colorStatus(result.Status))
	return nil
}

func refillStatus(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		utils.Fatalf("This command requires a refill request id argument.")
	}
	requestID := ctx.Args().First()
	client := newRefillClient(ctx)

	result, err := client.RefillStatus(context.Background(), requestID)
	if err != nil {
		var apiErr *refillclient.APIError
		if errors.As(err, &apiErr) {
			utils.Fatalf("Status query rejected with %s: %s", apiErr.Code, apiErr.Message)
		}
		utils.Fatalf("Status query failed: %v", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.Append([]string{"Request ID", result.RefillRequestID})
	table.Append([]string{"Status", colorStatus(result.Status)})
	table.Append([]string{"Provider", result.Provider})
	table.Append([]string{"Provider Status", orDash(result.ProviderStatus)})
	table.Append([]string{"Provider Tx ID", orDash(result.ProviderTxID)})
	table.Append([]string{"Tx Hash", orDash(result.TxHash)})
	table.Append([]string{"Amount", result.Amount + " " + result.TokenSymbol})
	table.Append([]string{"Amount Atomic", result.AmountAtomic.String()})
	table.Append([]string{"Chain", result.ChainName})
	table.Append([]string{"Message", orDash(result.Message)})
	table.Append([]string{"Created", result.CreatedAt.Format(time.RFC3339)})
	table.Append([]string{"Updated", result.UpdatedAt.Format(time.RFC3339)})
	table.Render()
	return nil
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
