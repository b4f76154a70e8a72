package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/walletcore/client"
	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/wallet"
)

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Manage wallets through the walletcore HTTP API",
		Subcommands: []*cli.Command{
			chainsCommand(),
			addWalletCommand(),
			removeWalletCommand(),
			getWalletCommand(),
			listWalletsCommand(),
			refreshWalletCommand(),
			feesCommand(),
			prepareCommand(),
			submitCommand(),
			historyCommand(),
			awaitCommand(),
			streamCommand(),
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), &http.Client{Timeout: 30 * time.Second}, cliLogger(c))
}

// walletArgs parses the <blockchain> <address> positional arguments.
func walletArgs(c *cli.Context) (chain.Blockchain, string, error) {
	if c.NArg() < 2 {
		return "", "", fmt.Errorf("blockchain and address are required")
	}
	b, err := chain.ParseBlockchain(c.Args().Get(0))
	if err != nil {
		return "", "", err
	}
	return b, c.Args().Get(1), nil
}

func chainsCommand() *cli.Command {
	return &cli.Command{
		Name:  "chains",
		Usage: "List the blockchains the server has enabled",
		Action: func(c *cli.Context) error {
			chains, err := newClient(c).Chains(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list chains: %w", err)
			}
			return writeJSON(c.App.Writer, chains, c.String("jq"))
		},
	}
}

func addWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Register a wallet for refreshes and transfers",
		ArgsUsage: "<blockchain> <address>",
		Description: `Register a wallet with the service. The wallet is refreshed on a
Temporal schedule at the given interval.

Example:
  walletcore wallet add xrp rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY --public-key 02ab... --interval 2m`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "public-key",
				Usage: "Hex public key used to sign transfers",
			},
			&cli.StringFlag{
				Name:  "curve",
				Usage: "Key curve (secp256k1 or ed25519); defaults to the chain's curve",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Refresh interval; defaults to the server's interval",
			},
		},
		Action: func(c *cli.Context) error {
			b, address, err := walletArgs(c)
			if err != nil {
				return err
			}
			req := client.RegisterRequest{
				Blockchain: b,
				Address:    address,
				PublicKey:  c.String("public-key"),
				Curve:      chain.Curve(c.String("curve")),
			}
			if c.IsSet("interval") {
				req.RefreshInterval = c.Duration("interval").String()
			}
			w, err := newClient(c).Register(c.Context, req)
			if err != nil {
				return fmt.Errorf("failed to register wallet: %w", err)
			}
			return writeJSON(c.App.Writer, w, c.String("jq"))
		},
	}
}

func removeWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Unregister a wallet and delete its refresh schedule",
		ArgsUsage: "<blockchain> <address>",
		Action: func(c *cli.Context) error {
			b, address, err := walletArgs(c)
			if err != nil {
				return err
			}
			if err := newClient(c).Unregister(c.Context, b, address); err != nil {
				return fmt.Errorf("failed to unregister wallet: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "Wallet %s/%s unregistered\n", b, address)
			return nil
		},
	}
}

func getWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a wallet's state, account snapshot and pending transfers",
		ArgsUsage: "<blockchain> <address>",
		Action: func(c *cli.Context) error {
			b, address, err := walletArgs(c)
			if err != nil {
				return err
			}
			w, err := newClient(c).Get(c.Context, b, address)
			if err != nil {
				return fmt.Errorf("failed to get wallet: %w", err)
			}
			return writeJSON(c.App.Writer, w, c.String("jq"))
		},
	}
}

func listWalletsCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List registered wallets",
		Action: func(c *cli.Context) error {
			wallets, err := newClient(c).List(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}
			return writeJSON(c.App.Writer, wallets, c.String("jq"))
		},
	}
}

func refreshWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh",
		Usage:     "Refresh a wallet from the chain",
		ArgsUsage: "<blockchain> <address>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for the refresh to finish",
			},
		},
		Action: func(c *cli.Context) error {
			b, address, err := walletArgs(c)
			if err != nil {
				return err
			}
			w, err := newClient(c).Refresh(c.Context, b, address, c.Bool("wait"))
			if err != nil {
				return fmt.Errorf("failed to refresh wallet: %w", err)
			}
			return writeJSON(c.App.Writer, w, c.String("jq"))
		},
	}
}

func feesCommand() *cli.Command {
	return &cli.Command{
		Name:      "fees",
		Usage:     "Price a transfer from a wallet",
		ArgsUsage: "<blockchain> <address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Transfer amount in major units",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Destination address",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "Token symbol or contract",
			},
		},
		Action: func(c *cli.Context) error {
			b, address, err := walletArgs(c)
			if err != nil {
				return err
			}
			fees, err := newClient(c).Fees(c.Context, b, address, c.String("amount"), c.String("to"), c.String("token"))
			if err != nil {
				return fmt.Errorf("failed to get fees: %w", err)
			}
			return writeJSON(c.App.Writer, fees, c.String("jq"))
		},
	}
}

func transferFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "to",
			Usage:    "Destination address",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "amount",
			Usage:    "Transfer amount in major units",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "token",
			Usage: "Token symbol or contract",
		},
		&cli.StringFlag{
			Name:  "fee-tier",
			Usage: "Fee tier (slow, market or fast)",
		},
		&cli.StringFlag{
			Name:  "memo",
			Usage: "Memo attached to the transfer",
		},
		&cli.UintFlag{
			Name:  "destination-tag",
			Usage: "XRP destination tag",
		},
	}
}

func prepareCommand() *cli.Command {
	return &cli.Command{
		Name:      "prepare",
		Usage:     "Build a transfer and print the hashes to sign",
		ArgsUsage: "<blockchain> <address>",
		Description: `Build a transfer on the server. The result holds a sign session ID
and the hashes an external signer must sign. Submit the signatures with
"walletcore wallet submit" before the session expires.

Example:
  walletcore wallet prepare ethereum 0xabc... --to 0xdef... --amount 0.01 --jq '.hashes[]'`,
		Flags: append(transferFlags(), &cli.StringFlag{
			Name:  "replaces",
			Usage: "Hash of a pending transfer to replace; its nonce and inputs are reused",
		}),
		Action: func(c *cli.Context) error {
			b, address, err := walletArgs(c)
			if err != nil {
				return err
			}
			req := client.TransferRequest{
				Destination: c.String("to"),
				Amount:      c.String("amount"),
				Token:       c.String("token"),
				FeeTier:     c.String("fee-tier"),
				Memo:        c.String("memo"),
				Replaces:    c.String("replaces"),
			}
			if c.IsSet("destination-tag") {
				tag := uint32(c.Uint("destination-tag"))
				req.DestinationTag = &tag
			}
			session, err := newClient(c).Prepare(c.Context, b, address, req)
			if err != nil {
				return fmt.Errorf("failed to prepare transfer: %w", err)
			}
			return writeJSON(c.App.Writer, session, c.String("jq"))
		},
	}
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit signatures for a sign session and broadcast the transfer",
		ArgsUsage: "<session_id> <signature_hex>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "replaces",
				Usage: "Hash of the pending transfer this one replaces",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("session ID and at least one signature are required")
			}
			args := c.Args().Slice()
			hash, err := newClient(c).Submit(c.Context, args[0], args[1:], c.String("replaces"))
			if err != nil {
				return fmt.Errorf("failed to submit signatures: %w", err)
			}
			return writeJSON(c.App.Writer, map[string]string{"hash": hash}, c.String("jq"))
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show a wallet's recent transactions",
		ArgsUsage: "<blockchain> <address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of transactions; 0 uses the server default",
			},
		},
		Action: func(c *cli.Context) error {
			b, address, err := walletArgs(c)
			if err != nil {
				return err
			}
			h, err := newClient(c).History(c.Context, b, address, c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to get history: %w", err)
			}
			return writeJSON(c.App.Writer, h, c.String("jq"))
		},
	}
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Wait until a wallet reaches a matching state",
		ArgsUsage: "<blockchain> <address>",
		Description: `Stream a wallet's state changes until one matches. A state matches
when its status equals --status (if set) and every --must-jq filter
returns a truthy value for the state JSON.

Examples:
  # Wait for the next successful refresh
  walletcore wallet await xrp rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY --status idle

  # Wait for a failure caused by the providers
  walletcore wallet await bitcoin bc1q... --must-jq '.error_kind == "provider"' --timeout 5m`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Status to wait for (loading, idle, no_account, no_derivation, failed)",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter that must be truthy for the state (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Maximum time to wait",
				Value: 10 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			b, address, err := walletArgs(c)
			if err != nil {
				return err
			}
			var filters []*gojq.Code
			for _, f := range c.StringSlice("must-jq") {
				code, err := compileJQ(f)
				if err != nil {
					return err
				}
				filters = append(filters, code)
			}
			status := wallet.Status(c.String("status"))

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := newClient(c).Await(ctx, b, address, stateMatcher(status, filters))
			if err != nil {
				return fmt.Errorf("failed to await wallet state: %w", err)
			}
			return writeJSON(c.App.Writer, st, c.String("jq"))
		},
	}
}

// stateMatcher matches states with the given status (any when empty) for
// which every filter is truthy.
func stateMatcher(status wallet.Status, filters []*gojq.Code) func(client.State) bool {
	return func(st client.State) bool {
		if status != "" && st.Status != status {
			return false
		}
		if len(filters) == 0 {
			return true
		}
		v, err := toJQValue(st)
		if err != nil {
			return false
		}
		return matchesAll(filters, v)
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Print a wallet's events as they happen",
		ArgsUsage: "[<blockchain> <address>]",
		Description: `Follow the server-sent event stream of one wallet, or of every wallet
when no wallet is given. Each event is printed as one JSON line.

Example:
  walletcore wallet stream solana 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM`,
		Action: func(c *cli.Context) error {
			var b chain.Blockchain
			var address string
			if c.NArg() > 0 {
				var err error
				if b, address, err = walletArgs(c); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var writeErr error
			err := newClient(c).Stream(ctx, b, address, func(ev client.Event) bool {
				line, err := json.Marshal(map[string]interface{}{"event": ev.Type, "data": ev.Data})
				if err != nil {
					writeErr = fmt.Errorf("failed to marshal event: %w", err)
					return false
				}
				fmt.Fprintln(c.App.Writer, string(line))
				return true
			})
			if writeErr != nil {
				return writeErr
			}
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("stream failed: %w", err)
			}
			return nil
		},
	}
}
