package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/tos-network/refilld/catalog"
	"github.com/tos-network/refilld/cmd/utils"
	"github.com/tos-network/refilld/log"
	"github.com/tos-network/refilld/types"
)

var (
	catalogCommand = &cli.Command{
		Name:  "catalog",
		Usage: "Manage the asset catalog",
		Description: `
The catalog holds the chains, wallets and refill policies the service reads
at admission time. Records are maintained with these commands while the
daemon is stopped; the daemon itself never writes the catalog.`,
		Subcommands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Import catalog records from a JSON file",
				ArgsUsage: "<file>",
				Action:    importCatalog,
				Flags: []cli.Flag{
					utils.DataDirFlag,
					configFileFlag,
				},
				Description: `
The import file carries three arrays: chains, wallets and assets. Records
are written in that order so references resolve, and the first rejected
record aborts the import. Re-importing an existing record overwrites it.`,
			},
			{
				Name:   "show",
				Usage:  "Print the catalog contents",
				Action: showCatalog,
				Flags: []cli.Flag{
					utils.DataDirFlag,
					configFileFlag,
				},
			},
		},
	}
)

// catalogFile is the import document shape.
type catalogFile struct {
	Chains  []*types.Chain  `json:"chains"`
	Wallets []*types.Wallet `json:"wallets"`
	Assets  []*types.Asset  `json:"assets"`
}

// openCatalog resolves the configuration and opens the catalog store on the
// node's datadir, bypassing node assembly so no auth keys are needed.
func openCatalog(ctx *cli.Context) (*catalog.Catalog, func()) {
	cfg := loadBaseConfig(ctx)
	db := utils.MakeCatalogDatabase(cfg.Node.DataDir)
	cat := catalog.Open(db)
	return cat, func() {
		cat.Close()
		db.Close()
	}
}

func importCatalog(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		utils.Fatalf("This command requires a catalog file argument.")
	}
	blob, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		utils.Fatalf("Failed to read catalog file: %v", err)
	}
	var doc catalogFile
	if err := json.Unmarshal(blob, &doc); err != nil {
		utils.Fatalf("Failed to parse catalog file: %v", err)
	}

	cat, closeCatalog := openCatalog(ctx)
	defer closeCatalog()

	// Assets reference chains and wallets, so those go in first.
	start := time.Now()
	for _, chain := range doc.Chains {
		if err := cat.PutChain(chain); err != nil {
			utils.Fatalf("Chain %q rejected: %v", chain.Name, err)
		}
	}
	for _, wallet := range doc.Wallets {
		if err := cat.PutWallet(wallet); err != nil {
			utils.Fatalf("Wallet %q rejected: %v", wallet.Address, err)
		}
	}
	for _, asset := range doc.Assets {
		if err := cat.PutAsset(asset); err != nil {
			utils.Fatalf("Asset %q rejected: %v", asset.Symbol, err)
		}
	}
	log.Info("Catalog import done", "chains", len(doc.Chains), "wallets", len(doc.Wallets),
		"assets", len(doc.Assets), "elapsed", time.Since(start))
	return nil
}

func showCatalog(ctx *cli.Context) error {
	cat, closeCatalog := openCatalog(ctx)
	defer closeCatalog()

	chains, err := cat.Chains()
	if err != nil {
		utils.Fatalf("Failed to list chains: %v", err)
	}
	wallets, err := cat.Wallets()
	if err != nil {
		utils.Fatalf("Failed to list wallets: %v", err)
	}
	assets, err := cat.Assets()
	if err != nil {
		utils.Fatalf("Failed to list assets: %v", err)
	}

	chainNames := make(map[uint64]string, len(chains))

	fmt.Println("Chains:")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Symbol", "Native Asset", "Active"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, chain := range chains {
		chainNames[chain.ID] = chain.Name
		table.Append([]string{
			strconv.FormatUint(chain.ID, 10),
			chain.Name,
			chain.Symbol,
			chain.NativeAssetSymbol,
			yesNo(chain.IsActive),
		})
	}
	table.Render()

	fmt.Println("\nWallets:")
	table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Address", "Type", "Provider"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, wallet := range wallets {
		table.Append([]string{
			strconv.FormatUint(wallet.ID, 10),
			wallet.Address,
			wallet.WalletType,
			providerLabel(wallet.HotWalletConfig),
		})
	}
	table.Render()

	fmt.Println("\nAssets:")
	table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Symbol", "Chain", "Decimals", "Target", "Trigger", "Cooldown", "Provider", "Active"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, asset := range assets {
		chainName := chainNames[asset.ChainID]
		if chainName == "" {
			chainName = strconv.FormatUint(asset.ChainID, 10)
		}
		table.Append([]string{
			strconv.FormatUint(asset.ID, 10),
			asset.Symbol,
			chainName,
			strconv.Itoa(int(asset.Decimals)),
			asset.RefillTargetBalanceAtomic.ToDecimal(asset.Decimals).String(),
			asset.RefillTriggerThresholdAtomic.ToDecimal(asset.Decimals).String(),
			asset.CooldownDuration().String(),
			providerLabel(asset.SweepWalletConfig),
			yesNo(asset.IsActive),
		})
	}
	table.Render()
	return nil
}

func providerLabel(cfg types.WalletConfig) string {
	name, err := cfg.ProviderName()
	if err != nil {
		return "-"
	}
	return name
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
