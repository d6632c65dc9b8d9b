package main

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tos-network/refilld/cmd/utils"
)

type keyInfo struct {
	Type        string `json:"type"`
	Bits        int    `json:"bits"`
	Fingerprint string `json:"fingerprint"`
}

var commandInspect = &cli.Command{
	Name:      "inspect",
	Usage:     "inspect a PEM key file",
	ArgsUsage: "<keyfile>",
	Description: `
Print the key type, modulus size and the SHA-256 fingerprint of the public
half. Both private and public PEM files are accepted; the two halves of one
pair print the same fingerprint, which is how a deployed --auth.publickey is
matched to the operator key that should sign against it.`,
	Flags: []cli.Flag{
		jsonFlag,
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			utils.Fatalf("This command requires a key file argument.")
		}
		blob, err := os.ReadFile(ctx.Args().First())
		if err != nil {
			utils.Fatalf("Failed to read the key file: %v", err)
		}
		info, err := inspectKey(blob)
		if err != nil {
			utils.Fatalf("Failed to parse the key file: %v", err)
		}
		if ctx.Bool(jsonFlag.Name) {
			mustPrintJSON(info)
		} else {
			fmt.Println("Type:        ", info.Type)
			fmt.Println("Bits:        ", info.Bits)
			fmt.Println("Fingerprint: ", info.Fingerprint)
		}
		return nil
	},
}

// parseRSAKey decodes a PEM key file. Exactly one of priv and pub is non-nil
// on success.
func parseRSAKey(blob []byte) (priv *rsa.PrivateKey, pub *rsa.PublicKey, err error) {
	block, _ := pem.Decode(blob)
	if block == nil {
		return nil, nil, errors.New("not a PEM file")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, nil, err
		}
		return key, nil, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, nil, errors.New("not an RSA private key")
		}
		return rsaKey, nil, nil
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, nil, errors.New("not an RSA public key")
		}
		return nil, rsaKey, nil
	default:
		return nil, nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

func inspectKey(blob []byte) (*keyInfo, error) {
	priv, pub, err := parseRSAKey(blob)
	if err != nil {
		return nil, err
	}
	typ := "public"
	if priv != nil {
		typ, pub = "private", &priv.PublicKey
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(der)
	return &keyInfo{
		Type:        typ,
		Bits:        pub.N.BitLen(),
		Fingerprint: hex.EncodeToString(sum[:]),
	}, nil
}
