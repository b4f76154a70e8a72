package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/walletcore/client"
	"github.com/brojonat/walletcore/service/chain"
)

// serverHealth is what "server health" prints.
type serverHealth struct {
	Status    string        `json:"status"`
	ServerURL string        `json:"server_url"`
	LatencyMS int64         `json:"latency_ms"`
	Chains    []chainHealth `json:"chains"`
}

type chainHealth struct {
	Blockchain chain.Blockchain `json:"blockchain"`
	Family     chain.Family     `json:"family"`
	Providers  int              `json:"providers"`
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health and list the blockchains it serves",
		Description: `Calls /health and /api/v1/chains. Fails when the server is down, or
when an enabled blockchain has no provider configured.

Example:
  walletcore server health --jq '.chains[] | select(.providers < 2) | .blockchain'`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set WALLETCORE_SERVER_URL or use --server-url)")
			}
			api := client.NewClient(serverURL, &http.Client{Timeout: c.Duration("timeout")}, cliLogger(c))

			report, err := checkHealth(c.Context, api, serverURL)
			if err != nil {
				return err
			}
			if err := writeJSON(c.App.Writer, report, c.String("jq")); err != nil {
				return err
			}
			if report.Status != "ok" {
				return fmt.Errorf("server is degraded: a blockchain has no providers")
			}
			return nil
		},
	}
}

func checkHealth(ctx context.Context, api *client.Client, serverURL string) (*serverHealth, error) {
	start := time.Now()
	if err := api.Health(ctx); err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	latency := time.Since(start)

	chains, err := api.Chains(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}
	report := &serverHealth{
		Status:    "ok",
		ServerURL: serverURL,
		LatencyMS: latency.Milliseconds(),
		Chains:    make([]chainHealth, 0, len(chains)),
	}
	for _, ch := range chains {
		if ch.Providers == 0 {
			report.Status = "degraded"
		}
		report.Chains = append(report.Chains, chainHealth{
			Blockchain: ch.Blockchain,
			Family:     ch.Family,
			Providers:  ch.Providers,
		})
	}
	return report, nil
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			return writeJSON(c.App.Writer, map[string]string{
				"name":    "walletcore",
				"version": version,
				"commit":  commit,
				"built":   date,
			}, c.String("jq"))
		},
	}
}
