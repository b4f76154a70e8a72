package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/config"
	"github.com/brojonat/walletcore/service/networks"
	"github.com/brojonat/walletcore/service/signer"
	"github.com/brojonat/walletcore/service/wallet"
)

func localCommands() *cli.Command {
	return &cli.Command{
		Name:  "local",
		Usage: "Run the wallet core in-process against the configured providers",
		Description: `Local commands skip the server and talk to the blockchain providers
directly. Providers come from the same environment variables the server
reads (for example XRP_RPC_URLS) unless --provider is given.`,
		Subcommands: []*cli.Command{
			localStateCommand(),
			localFeesCommand(),
			localHistoryCommand(),
			localSendCommand(),
		},
	}
}

func providerFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "provider",
		Usage: "Provider URL for the blockchain (repeatable, in failover order)",
	}
}

// localWallet loads the configuration for one blockchain, builds its
// network and returns a manager for address.
func localWallet(c *cli.Context, key chain.PublicKey) (*wallet.Manager, *config.Config, func(), error) {
	b, address, err := walletArgs(c)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := localConfig(b, c.StringSlice("provider"))
	if err != nil {
		return nil, nil, nil, err
	}
	logger := cliLogger(c)

	nets, err := networks.Build(c.Context, cfg, nil, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build network: %w", err)
	}
	network, err := nets.Get(b)
	if err != nil {
		nets.Close()
		return nil, nil, nil, err
	}
	m, err := wallet.NewManager(wallet.Config{
		Address:   address,
		PublicKey: key,
		Network:   network,
		Logger:    logger,
	})
	if err != nil {
		nets.Close()
		return nil, nil, nil, err
	}
	return m, cfg, nets.Close, nil
}

// localConfig reads the environment and narrows it to b. Providers given on
// the command line replace the configured ones.
func localConfig(b chain.Blockchain, providers []string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.EnabledChains = []chain.Blockchain{b}
	if len(providers) > 0 {
		cfg.Providers[b] = providers
	}
	if len(cfg.Providers[b]) == 0 {
		return nil, fmt.Errorf("no providers configured for %s", b)
	}
	return cfg, nil
}

type localStateOutput struct {
	State   wallet.State        `json:"state"`
	Account *chain.AccountState `json:"account,omitempty"`
}

func localStateCommand() *cli.Command {
	return &cli.Command{
		Name:      "state",
		Usage:     "Refresh a wallet once and print its state and account",
		ArgsUsage: "<blockchain> <address>",
		Flags:     []cli.Flag{providerFlag()},
		Action: func(c *cli.Context) error {
			m, _, closeNets, err := localWallet(c, chain.PublicKey{})
			if err != nil {
				return err
			}
			defer closeNets()

			st := m.Refresh(c.Context)
			return writeJSON(c.App.Writer, localStateOutput{State: st, Account: m.Account()}, c.String("jq"))
		},
	}
}

type localFee struct {
	Tier   chain.FeeTier   `json:"tier,omitempty"`
	Amount chain.Amount    `json:"amount"`
	Params chain.FeeParams `json:"params,omitempty"`
}

func toLocalFees(fees []chain.Fee) []localFee {
	out := make([]localFee, 0, len(fees))
	for _, f := range fees {
		out = append(out, localFee{Tier: f.Tier, Amount: f.Amount, Params: f.Params})
	}
	return out
}

func localFeesCommand() *cli.Command {
	return &cli.Command{
		Name:      "fees",
		Usage:     "Price a transfer from a wallet",
		ArgsUsage: "<blockchain> <address>",
		Flags: []cli.Flag{
			providerFlag(),
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
				Usage: "Token contract",
			},
		},
		Action: func(c *cli.Context) error {
			m, cfg, closeNets, err := localWallet(c, chain.PublicKey{})
			if err != nil {
				return err
			}
			defer closeNets()

			amount, err := cfg.ParseAmount(m.Blockchain(), c.String("amount"), c.String("token"))
			if err != nil {
				return err
			}
			// Fee estimates for UTXO and Solana chains read the account.
			if st := m.Refresh(c.Context); st.Err != nil {
				return fmt.Errorf("failed to refresh wallet: %w", st.Err)
			}
			fees, err := m.GetFee(c.Context, amount, c.String("to"))
			if err != nil {
				return err
			}
			return writeJSON(c.App.Writer, toLocalFees(fees), c.String("jq"))
		},
	}
}

func localHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show a wallet's recent transactions",
		ArgsUsage: "<blockchain> <address>",
		Flags: []cli.Flag{
			providerFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of transactions",
				Value: 25,
			},
		},
		Action: func(c *cli.Context) error {
			m, _, closeNets, err := localWallet(c, chain.PublicKey{})
			if err != nil {
				return err
			}
			defer closeNets()

			entries, err := m.History(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			return writeJSON(c.App.Writer, entries, c.String("jq"))
		},
	}
}

func localSendCommand() *cli.Command {
	flags := append([]cli.Flag{
		providerFlag(),
		&cli.StringFlag{
			Name:     "private-key",
			Usage:    "Hex private key (32-byte secp256k1 scalar or ed25519 seed)",
			EnvVars:  []string{"WALLETCORE_PRIVATE_KEY"},
			Required: true,
		},
		&cli.StringFlag{
			Name:  "curve",
			Usage: "Key curve; defaults to the chain's curve",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Build and sign the transfer without broadcasting it",
		},
	}, transferFlags()...)

	return &cli.Command{
		Name:      "send",
		Usage:     "Build, sign and broadcast a transfer with a local key",
		ArgsUsage: "<blockchain> <address>",
		Description: `Send a transfer from a wallet whose private key is held locally. The
wallet is refreshed, the fee of the requested tier is selected and the
transaction is signed in-process and broadcast.

Example:
  WALLETCORE_PRIVATE_KEY=... walletcore local send xrp rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY \
    --to rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh --amount 1.25 --destination-tag 7`,
		Flags: flags,
		Action: func(c *cli.Context) error {
			b, _, err := walletArgs(c)
			if err != nil {
				return err
			}
			curve := chain.Curve(c.String("curve"))
			if curve == "" {
				curve = chain.MustParams(b).DefaultCurve()
			}
			keys := signer.NewLocal()
			key, err := keys.ImportHex(curve, strings.TrimPrefix(c.String("private-key"), "0x"))
			if err != nil {
				return err
			}

			m, cfg, closeNets, err := localWallet(c, key)
			if err != nil {
				return err
			}
			defer closeNets()

			amount, err := cfg.ParseAmount(b, c.String("amount"), c.String("token"))
			if err != nil {
				return err
			}
			intent := chain.Intent{
				Blockchain:  b,
				Destination: c.String("to"),
				Amount:      amount,
				Memo:        c.String("memo"),
			}
			if c.IsSet("destination-tag") {
				tag := uint32(c.Uint("destination-tag"))
				intent.DestinationTag = &tag
			}

			result, err := localSend(c.Context, m, keys, intent, chain.FeeTier(c.String("fee-tier")), c.Bool("dry-run"), cliLogger(c))
			if err != nil {
				return err
			}
			return writeJSON(c.App.Writer, result, c.String("jq"))
		},
	}
}

type localSendResult struct {
	Hash    string        `json:"hash,omitempty"`
	Hashes  int           `json:"signed_hashes"`
	Fee     *localFee     `json:"fee,omitempty"`
	DryRun  bool          `json:"dry_run,omitempty"`
	Pending int           `json:"pending"`
	Amount  chain.Amount  `json:"amount"`
	Status  wallet.Status `json:"status"`
}

// localSend refreshes the wallet, prices the intent at tier and sends it
// with keys. A dry run stops after signing.
func localSend(ctx context.Context, m *wallet.Manager, keys chain.Signer, intent chain.Intent, tier chain.FeeTier, dryRun bool, logger *slog.Logger) (*localSendResult, error) {
	// Local checks run before the network is touched.
	if _, err := m.CreateTransaction(intent); err != nil && !errors.Is(err, chain.ErrFeeParamsMissing) {
		return nil, err
	}
	if st := m.Refresh(ctx); st.Err != nil {
		return nil, fmt.Errorf("failed to refresh wallet: %w", st.Err)
	}

	fees, err := m.GetFee(ctx, intent.Amount, intent.Destination)
	if err != nil {
		return nil, err
	}
	fee, err := chain.SelectFee(fees, tier)
	if err != nil {
		return nil, err
	}
	intent.Fee = fee

	tx, err := m.CreateTransaction(intent)
	if err != nil {
		return nil, err
	}

	result := &localSendResult{Amount: intent.Amount, DryRun: dryRun}
	if fee != nil {
		result.Fee = &toLocalFees([]chain.Fee{*fee})[0]
	}

	if dryRun {
		req, err := m.Prepare(ctx, tx)
		if err != nil {
			return nil, err
		}
		sigs, err := wallet.SignAll(ctx, keys, req)
		if err != nil {
			return nil, err
		}
		result.Hashes = len(sigs)
		result.Status = m.CurrentState().Status
		logger.Debug("dry run signed", "blockchain", m.Blockchain(), "hashes", len(sigs))
		return result, nil
	}

	hash, err := m.Send(ctx, tx, keys)
	if err != nil {
		return nil, err
	}
	result.Hash = hash
	result.Pending = len(m.Pending())
	result.Status = m.CurrentState().Status
	logger.Debug("transfer broadcast", "blockchain", m.Blockchain(), "hash", hash)
	return result, nil
}
