package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"sort"
	"time"

	"github.com/tos-network/refilld/envelope"
)

type result struct {
	name      string
	signUS    float64
	verifyUS  float64
	signOps   float64
	verifyOps float64
}

func bench(n int, fn func()) time.Duration {
	start := time.Now()
	for i := 0; i < n; i++ {
		fn()
	}
	return time.Since(start)
}

func perOpUS(d time.Duration, n int) float64 {
	return float64(d.Microseconds()) / float64(n)
}

func perSecOps(d time.Duration, n int) float64 {
	return float64(n) / d.Seconds()
}

func main() {
	signOps := flag.Int("sign-ops", 500, "number of sign operations")
	verifyOps := flag.Int("verify-ops", 5000, "number of verify operations")
	flag.Parse()

	if *signOps <= 0 || *verifyOps <= 0 {
		panic("sign-ops and verify-ops must be > 0")
	}

	// One response-sized payload, the shape every signed reply carries.
	payload := map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"refill_request_id": "REQ-BENCH-0001",
			"provider_tx_id":    "ltx-123456",
			"status":            "PROCESSING",
			"provider":          "liminal",
		},
	}

	out := make([]result, 0, 3)
	for _, bits := range []int{2048, 3072, 4096} {
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			panic(err)
		}
		privPEM := pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
		pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			panic(err)
		}
		pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

		// Long enough that the benchmark token does not expire mid-run.
		env, err := envelope.New(envelope.Config{
			Enabled:     true,
			PublicKey:   string(pubPEM),
			PrivateKey:  string(privPEM),
			MaxLifetime: time.Hour,
		})
		if err != nil {
			panic(err)
		}
		token, err := env.Sign(payload)
		if err != nil {
			panic(err)
		}

		dSign := bench(*signOps, func() {
			if _, err := env.Sign(payload); err != nil {
				panic(err)
			}
		})
		dVerify := bench(*verifyOps, func() {
			if _, err := env.Verify([]byte(token)); err != nil {
				panic(err)
			}
		})
		out = append(out, result{
			name:      fmt.Sprintf("rsa-%d", bits),
			signUS:    perOpUS(dSign, *signOps),
			verifyUS:  perOpUS(dVerify, *verifyOps),
			signOps:   perSecOps(dSign, *signOps),
			verifyOps: perSecOps(dVerify, *verifyOps),
		})
	}

	fmt.Printf("Envelope benchmark on this machine (sign-ops=%d, verify-ops=%d)\n", *signOps, *verifyOps)
	fmt.Println("- Full RS256 token path including claim encoding; no network overhead")
	fmt.Println("- Sign bounds response throughput, verify bounds request admission")
	fmt.Printf("%-14s %10s %12s %10s %12s\n", "Key", "sign us", "sign ops/s", "verify us", "verify ops/s")
	for _, r := range out {
		fmt.Printf("%-14s %10.2f %12.0f %10.2f %12.0f\n", r.name, r.signUS, r.signOps, r.verifyUS, r.verifyOps)
	}

	bySign := append([]result(nil), out...)
	sort.Slice(bySign, func(i, j int) bool { return bySign[i].signUS < bySign[j].signUS })
	fmt.Print("\nSign speed rank (fast -> slow): ")
	for i, r := range bySign {
		if i > 0 {
			fmt.Print(" > ")
		}
		fmt.Print(r.name)
	}

	byVerify := append([]result(nil), out...)
	sort.Slice(byVerify, func(i, j int) bool { return byVerify[i].verifyUS < byVerify[j].verifyUS })
	fmt.Print("\nVerify speed rank (fast -> slow): ")
	for i, r := range byVerify {
		if i > 0 {
			fmt.Print(" > ")
		}
		fmt.Print(r.name)
	}
	fmt.Println()
}
