// refillkey manages the RSA key pairs the refill service's signed envelope
// uses: the operator pair that signs requests and the callback pair that
// signs responses.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tos-network/refilld/cmd/utils"
	"github.com/tos-network/refilld/internal/flags"
)

const defaultKeyBasename = "envelope"

// Git SHA1 commit hash of the release (set via linker flags)
var gitCommit = ""
var gitDate = ""

var app *cli.App

func init() {
	app = flags.NewApp(gitCommit, gitDate, "a refill service key manager")
	app.Commands = []*cli.Command{
		commandGenerate,
		commandInspect,
		commandToken,
		commandVerify,
	}
}

// Commonly used command line flags.
var (
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "output JSON instead of human-readable format",
	}
)

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// mustPrintJSON prints the JSON encoding of the given object and exits the
// program with an error message when marshaling fails.
func mustPrintJSON(jsonObject interface{}) {
	str, err := json.MarshalIndent(jsonObject, "", "  ")
	if err != nil {
		utils.Fatalf("Failed to marshal JSON object: %v", err)
	}
	fmt.Println(string(str))
}
