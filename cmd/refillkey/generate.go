package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tos-network/refilld/cmd/utils"
)

type outputGenerate struct {
	PrivateKeyFile string `json:"privateKeyFile"`
	PublicKeyFile  string `json:"publicKeyFile"`
	Bits           int    `json:"bits"`
	Fingerprint    string `json:"fingerprint"`
}

var (
	bitsFlag = &cli.IntFlag{
		Name:  "bits",
		Usage: "RSA modulus size for the generated key",
		Value: 2048,
	}
	forceFlag = &cli.BoolFlag{
		Name:  "force",
		Usage: "overwrite existing key files",
	}
)

var commandGenerate = &cli.Command{
	Name:      "generate",
	Usage:     "generate a new RSA key pair",
	ArgsUsage: "[ <basename> ]",
	Description: `
Generate a new RSA key pair for the signed envelope.

Two PEM files are written: <basename>.pem holding the private key and
<basename>.pub.pem holding the public key. The service takes a public key as
--auth.publickey to verify operator requests and a private key as
--auth.callbackkey to sign its responses; the client flags mirror them.
`,
	Flags: []cli.Flag{
		jsonFlag,
		bitsFlag,
		forceFlag,
	},
	Action: func(ctx *cli.Context) error {
		basename := ctx.Args().First()
		if basename == "" {
			basename = defaultKeyBasename
		}
		privPath := basename + ".pem"
		pubPath := basename + ".pub.pem"
		if !ctx.Bool(forceFlag.Name) {
			for _, path := range []string{privPath, pubPath} {
				if _, err := os.Stat(path); err == nil {
					utils.Fatalf("Key file already exists at %s.", path)
				} else if !os.IsNotExist(err) {
					utils.Fatalf("Error checking if key file exists: %v", err)
				}
			}
		}

		bits := ctx.Int(bitsFlag.Name)
		privPEM, pubPEM, err := generateKeyPair(bits)
		if err != nil {
			utils.Fatalf("Failed to generate key pair: %v", err)
		}
		if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
			utils.Fatalf("Failed to write private key: %v", err)
		}
		if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
			utils.Fatalf("Failed to write public key: %v", err)
		}
		info, err := inspectKey(pubPEM)
		if err != nil {
			utils.Fatalf("Failed to fingerprint key: %v", err)
		}

		out := outputGenerate{
			PrivateKeyFile: privPath,
			PublicKeyFile:  pubPath,
			Bits:           bits,
			Fingerprint:    info.Fingerprint,
		}
		if ctx.Bool(jsonFlag.Name) {
			mustPrintJSON(out)
		} else {
			fmt.Println("Private key: ", out.PrivateKeyFile)
			fmt.Println("Public key:  ", out.PublicKeyFile)
			fmt.Println("Bits:        ", out.Bits)
			fmt.Println("Fingerprint: ", out.Fingerprint)
		}
		return nil
	},
}

// generateKeyPair makes an RSA key and encodes both halves to PEM: PKCS#1
// for the private key and PKIX for the public, the formats the envelope
// parses.
func generateKeyPair(bits int) (privPEM, pubPEM []byte, err error) {
	if bits < 2048 {
		return nil, nil, fmt.Errorf("%d bit keys are below the accepted minimum of 2048", bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, err
	}
	privPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return privPEM, pubPEM, nil
}
