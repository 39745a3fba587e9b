// Command classify uploads lesion images to a running server and prints the
// predictions as JSON.
//
//	classify -server http://localhost:8080 mole1.jpg mole2.png
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mediscan/lesion-api/internal/client"
	"github.com/mediscan/lesion-api/internal/inference"
	"github.com/mediscan/lesion-api/internal/logging"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	retries := flag.Uint64("retries", 3, "retries on connection failures")
	timeout := flag.Duration("timeout", 60*time.Second, "per-request timeout")
	health := flag.Bool("health", false, "print server health and exit")
	verbose := flag.Bool("v", false, "log retries to stderr")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] image...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	level := "error"
	if *verbose {
		level = "debug"
	}
	c := client.New(*server, &http.Client{Timeout: *timeout}, *retries, logging.New(os.Stderr, level, "text"))
	ctx := context.Background()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *health {
		h, err := c.Health(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		_ = enc.Encode(h)
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	failed := 0
	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		res, err := c.Classify(ctx, filepath.Base(path), data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		_ = enc.Encode(struct {
			File string `json:"file"`
			*inference.Result
		}{path, res})
	}
	if failed > 0 {
		os.Exit(1)
	}
}
