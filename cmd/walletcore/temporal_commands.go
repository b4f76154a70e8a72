package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/temporal"
)

// getTemporalClient connects to Temporal with the global flags.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		cliLogger(c),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}
	return tc, nil
}

type scheduleSummary struct {
	ID     string `json:"id"`
	Paused bool   `json:"paused"`
	Note   string `json:"note,omitempty"`
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-schedules",
		Usage:   "List wallet refresh schedules",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Include schedules that do not refresh wallets",
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			iter, err := tc.SDKClient().ScheduleClient().List(c.Context, client.ScheduleListOptions{
				PageSize: 100,
			})
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			schedules := []scheduleSummary{}
			for iter.HasNext() {
				entry, err := iter.Next()
				if err != nil {
					return fmt.Errorf("failed to iterate schedules: %w", err)
				}
				if !c.Bool("all") && !strings.HasPrefix(entry.ID, temporal.SchedulePrefix) {
					continue
				}
				schedules = append(schedules, scheduleSummary{
					ID:     entry.ID,
					Paused: entry.Paused,
					Note:   entry.Note,
				})
			}
			return writeJSON(c.App.Writer, schedules, c.String("jq"))
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe-schedule",
		Usage:     "Describe a wallet's refresh schedule",
		Aliases:   []string{"desc"},
		ArgsUsage: "<blockchain> <address>",
		Action: func(c *cli.Context) error {
			b, address, err := walletArgs(c)
			if err != nil {
				return err
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			info, err := tc.DescribeWalletSchedule(c.Context, string(b), address)
			if err != nil {
				return err
			}
			return writeJSON(c.App.Writer, info, c.String("jq"))
		},
	}
}

func upsertScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "upsert-schedule",
		Usage:     "Create a wallet's refresh schedule or change its interval",
		ArgsUsage: "<blockchain> <address>",
		Description: `Create or update the refresh schedule of a wallet directly in Temporal.
The worker loads the wallet from the schedule input on its first run.

Example:
  walletcore temporal upsert-schedule xrp rPEPPER7kfTD9w2To4CQk6UCfuHM9c6GDY --interval 5m`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:     "interval",
				Usage:    "Refresh interval",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "public-key",
				Usage: "Hex public key of the wallet",
			},
			&cli.StringFlag{
				Name:  "curve",
				Usage: "Key curve of the public key",
			},
		},
		Action: func(c *cli.Context) error {
			b, address, err := walletArgs(c)
			if err != nil {
				return err
			}
			if c.Duration("interval") <= 0 {
				return fmt.Errorf("interval must be positive")
			}
			curve := c.String("curve")
			if curve == "" && c.String("public-key") != "" {
				curve = string(chain.MustParams(b).DefaultCurve())
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			input := temporal.RefreshWalletInput{
				Blockchain: string(b),
				Address:    address,
				Curve:      curve,
				PublicKey:  c.String("public-key"),
			}
			if err := tc.UpsertWalletSchedule(c.Context, input, c.Duration("interval")); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Schedule %s set to every %s\n", temporal.ScheduleID(string(b), address), c.Duration("interval"))
			return nil
		},
	}
}

func triggerScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "trigger-schedule",
		Usage:     "Run a wallet's refresh now",
		ArgsUsage: "<blockchain> <address>",
		Action: func(c *cli.Context) error {
			return withSchedule(c, func(ctx context.Context, tc *temporal.Client, b chain.Blockchain, address string) error {
				if err := tc.TriggerWalletSchedule(ctx, string(b), address); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "Schedule %s triggered\n", temporal.ScheduleID(string(b), address))
				return nil
			})
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause-schedule",
		Usage:     "Pause a wallet's refresh schedule",
		ArgsUsage: "<blockchain> <address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is paused",
				Value: "Paused via walletcore CLI",
			},
		},
		Action: func(c *cli.Context) error {
			return withSchedule(c, func(ctx context.Context, tc *temporal.Client, b chain.Blockchain, address string) error {
				id := temporal.ScheduleID(string(b), address)
				handle := tc.SDKClient().ScheduleClient().GetHandle(ctx, id)
				if err := handle.Pause(ctx, client.SchedulePauseOptions{Note: c.String("note")}); err != nil {
					return fmt.Errorf("failed to pause schedule %q: %w", id, err)
				}
				fmt.Fprintf(c.App.Writer, "Schedule %s paused\n", id)
				return nil
			})
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume-schedule",
		Usage:     "Resume a paused wallet refresh schedule",
		ArgsUsage: "<blockchain> <address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is resumed",
				Value: "Resumed via walletcore CLI",
			},
		},
		Action: func(c *cli.Context) error {
			return withSchedule(c, func(ctx context.Context, tc *temporal.Client, b chain.Blockchain, address string) error {
				id := temporal.ScheduleID(string(b), address)
				handle := tc.SDKClient().ScheduleClient().GetHandle(ctx, id)
				if err := handle.Unpause(ctx, client.ScheduleUnpauseOptions{Note: c.String("note")}); err != nil {
					return fmt.Errorf("failed to resume schedule %q: %w", id, err)
				}
				fmt.Fprintf(c.App.Writer, "Schedule %s resumed\n", id)
				return nil
			})
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-schedule",
		Usage:     "Delete a wallet's refresh schedule",
		ArgsUsage: "<blockchain> <address>",
		Action: func(c *cli.Context) error {
			return withSchedule(c, func(ctx context.Context, tc *temporal.Client, b chain.Blockchain, address string) error {
				if err := tc.DeleteWalletSchedule(ctx, string(b), address); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "Schedule %s deleted\n", temporal.ScheduleID(string(b), address))
				return nil
			})
		},
	}
}

// withSchedule parses the wallet arguments, connects to Temporal and runs fn.
func withSchedule(c *cli.Context, fn func(ctx context.Context, tc *temporal.Client, b chain.Blockchain, address string) error) error {
	b, address, err := walletArgs(c)
	if err != nil {
		return err
	}
	tc, err := getTemporalClient(c)
	if err != nil {
		return err
	}
	defer tc.Close()
	return fn(c.Context, tc, b, address)
}
