package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/metrics"
	"github.com/brojonat/walletcore/service/wallet"
)

// RefreshWalletInput identifies the wallet a scheduled refresh targets. The
// public key travels with the schedule so a fresh worker can rebuild the
// manager.
type RefreshWalletInput struct {
	Blockchain string `json:"blockchain"`
	Address    string `json:"address"`
	Curve      string `json:"curve,omitempty"`
	PublicKey  string `json:"public_key,omitempty"` // hex
}

// RefreshWalletResult contains the state a refresh ended in.
type RefreshWalletResult struct {
	Blockchain   string    `json:"blockchain"`
	Address      string    `json:"address"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	Error        *string   `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	Balance      string    `json:"balance,omitempty"`
	PendingCount int       `json:"pending_count"`
	RefreshTime  time.Time `json:"refresh_time"`
}

// Refresher is the part of a wallet manager the refresh activity drives.
// *wallet.Manager implements it.
type Refresher interface {
	Refresh(ctx context.Context) wallet.State
	Account() *chain.AccountState
	Pending() []wallet.PendingTransaction
}

// WalletSource resolves the manager for a scheduled wallet, creating it on
// first use.
type WalletSource interface {
	Wallet(ctx context.Context, input RefreshWalletInput) (Refresher, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	wallets WalletSource
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(wallets WalletSource, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		wallets: wallets,
		metrics: m,
		logger:  logger,
	}
}

// RefreshWallet runs one refresh cycle for a wallet. A refresh that ends in
// a failed state is reported in the result rather than as an activity error;
// the next scheduled run is the retry.
func (a *Activities) RefreshWallet(ctx context.Context, input RefreshWalletInput) (*RefreshWalletResult, error) {
	start := time.Now()

	w, err := a.wallets.Wallet(ctx, input)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to resolve wallet",
			"blockchain", input.Blockchain,
			"address", input.Address,
			"error", err,
		)
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("failed to resolve wallet %s:%s", input.Blockchain, input.Address),
			"WalletUnavailable",
			err,
		)
	}

	state := w.Refresh(ctx)

	result := &RefreshWalletResult{
		Blockchain:   input.Blockchain,
		Address:      input.Address,
		Status:       string(state.Status),
		Message:      state.Message,
		PendingCount: len(w.Pending()),
		RefreshTime:  start,
	}
	if state.Err != nil {
		msg := state.Err.Error()
		result.Error = &msg
		result.ErrorKind = string(chain.KindOf(state.Err))
		if ce := chain.AsError(state.Err); ce != nil {
			result.ErrorCode = ce.Code
		}
	}
	if acct := w.Account(); acct != nil && state.Status == wallet.StatusIdle {
		result.Balance = acct.Balance.String()
	}

	if a.metrics != nil {
		a.metrics.RecordWorkflowDuration(input.Blockchain, result.Status, time.Since(start).Seconds())
	}

	a.logger.InfoContext(ctx, "wallet refreshed",
		"blockchain", input.Blockchain,
		"address", input.Address,
		"status", result.Status,
		"balance", result.Balance,
		"pending", result.PendingCount,
		"duration", time.Since(start),
	)

	return result, nil
}
