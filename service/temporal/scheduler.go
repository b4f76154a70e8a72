package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for wallet refreshes.
// Each wallet gets its own schedule that triggers the RefreshWalletWorkflow.
type Scheduler interface {
	// UpsertWalletSchedule creates the schedule for a wallet, or updates its
	// interval when it already exists.
	UpsertWalletSchedule(ctx context.Context, input RefreshWalletInput, interval time.Duration) error

	// DeleteWalletSchedule deletes the schedule for a wallet.
	// This stops the wallet from being refreshed.
	DeleteWalletSchedule(ctx context.Context, blockchain, address string) error

	// TriggerWalletSchedule runs the schedule's action now.
	TriggerWalletSchedule(ctx context.Context, blockchain, address string) error
}

// SchedulePrefix starts the ID of every wallet refresh schedule.
const SchedulePrefix = "refresh-wallet-"

// ScheduleID returns the Temporal schedule ID for a wallet.
func ScheduleID(blockchain, address string) string {
	return SchedulePrefix + blockchain + "-" + address
}
