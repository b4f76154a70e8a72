package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// RefreshWalletWorkflow is triggered by a per-wallet Temporal schedule. It
// runs one RefreshWallet activity and returns the state the wallet ended in.
// The activity gets a single attempt: a wallet whose providers are down is
// refreshed again on the next tick.
func RefreshWalletWorkflow(ctx workflow.Context, input RefreshWalletInput) (*RefreshWalletResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RefreshWalletWorkflow started", "blockchain", input.Blockchain, "address", input.Address)

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result *RefreshWalletResult
	err := workflow.ExecuteActivity(ctx, a.RefreshWallet, input).Get(ctx, &result)
	if err != nil {
		logger.Error("failed to refresh wallet",
			"blockchain", input.Blockchain,
			"address", input.Address,
			"error", err,
		)
		errMsg := fmt.Sprintf("failed to refresh wallet: %v", err)
		return &RefreshWalletResult{
			Blockchain:  input.Blockchain,
			Address:     input.Address,
			Error:       &errMsg,
			RefreshTime: workflow.Now(ctx),
		}, fmt.Errorf("failed to refresh wallet: %w", err)
	}

	logger.Info("RefreshWalletWorkflow completed",
		"blockchain", input.Blockchain,
		"address", input.Address,
		"status", result.Status,
		"pending", result.PendingCount,
	)

	return result, nil
}
