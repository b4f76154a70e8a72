package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/walletcore/service/chain"
	natspkg "github.com/brojonat/walletcore/service/nats"
)

// subscribeCommand follows wallet events on the JetStream stream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to wallet events",
		ArgsUsage: "[<blockchain> [<address>]]",
		Description: `Subscribe to wallet events published to NATS JetStream. Events are
published to the subject wallets.{blockchain}.{address}. Without arguments
every wallet is followed; with only a blockchain every wallet on it is.

Example:
  walletcore nats subscribe xrp rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY --jq 'select(.type == "state_changed")'`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "walletcore-cli",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Only print events of this type (state_changed, transaction_sent, transaction_settled)",
			},
			&cli.BoolFlag{
				Name:  "new-only",
				Usage: "Skip events already in the stream",
			},
		},
		Action: func(c *cli.Context) error {
			subject, err := subscribeSubject(c.Args().Slice())
			if err != nil {
				return err
			}

			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("new-only") {
				consumerConfig.DeliverPolicy = jetstream.DeliverNewPolicy
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			msgChan := make(chan jetstream.Msg, 10)
			consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
				msgChan <- msg
			})
			if err != nil {
				return fmt.Errorf("failed to consume: %w", err)
			}
			defer consumeCtx.Stop()

			fmt.Fprintf(os.Stderr, "Subscribed to %s (Ctrl-C to exit)\n", subject)
			for {
				select {
				case msg := <-msgChan:
					if t := c.String("type"); t != "" && msg.Headers().Get(natspkg.HeaderEventType) != t {
						_ = msg.Ack()
						continue
					}
					var event natspkg.WalletEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
						_ = msg.Ack()
						continue
					}
					if err := writeJSON(c.App.Writer, event, c.String("jq")); err != nil {
						return err
					}
					_ = msg.Ack()
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
}

// subscribeSubject maps the optional blockchain and address arguments to a
// subject filter on the wallet stream.
func subscribeSubject(args []string) (string, error) {
	switch len(args) {
	case 0:
		return natspkg.StreamSubjects, nil
	case 1, 2:
		b, err := chain.ParseBlockchain(args[0])
		if err != nil {
			return "", err
		}
		if len(args) == 1 {
			return natspkg.Subject(string(b), ">"), nil
		}
		return natspkg.Subject(string(b), args[1]), nil
	default:
		return "", fmt.Errorf("expected at most a blockchain and an address")
	}
}

type streamSummary struct {
	Name      string   `json:"name"`
	Subjects  []string `json:"subjects"`
	Messages  uint64   `json:"messages"`
	Bytes     uint64   `json:"bytes"`
	FirstSeq  uint64   `json:"first_seq"`
	LastSeq   uint64   `json:"last_seq"`
	Consumers int      `json:"consumers"`
	MaxAge    string   `json:"max_age"`
	Storage   string   `json:"storage"`
}

// inspectStreamCommand shows information about the wallet event stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the WALLETS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx := context.Background()
			stream, err := js.Stream(ctx, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			return writeJSON(c.App.Writer, streamSummary{
				Name:      info.Config.Name,
				Subjects:  info.Config.Subjects,
				Messages:  info.State.Msgs,
				Bytes:     info.State.Bytes,
				FirstSeq:  info.State.FirstSeq,
				LastSeq:   info.State.LastSeq,
				Consumers: info.State.Consumers,
				MaxAge:    info.Config.MaxAge.String(),
				Storage:   info.Config.Storage.String(),
			}, c.String("jq"))
		},
	}
}
