package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// createWalletSchedule creates a new Temporal schedule for refreshing a wallet.
func (c *Client) createWalletSchedule(ctx context.Context, input RefreshWalletInput, interval time.Duration) error {
	id := ScheduleID(input.Blockchain, input.Address)

	workflowAction := client.ScheduleWorkflowAction{
		ID:        id,
		Workflow:  RefreshWalletWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{input},
	}

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: &workflowAction,
		Memo: map[string]interface{}{
			"blockchain": input.Blockchain,
			"address":    input.Address,
			"created_by": "walletcore",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"blockchain", input.Blockchain,
			"address", input.Address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("wallet schedule created",
		"blockchain", input.Blockchain,
		"address", input.Address,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// UpsertWalletSchedule creates or updates the Temporal schedule for a wallet.
// If the schedule already exists, its interval and action arguments are
// replaced.
func (c *Client) UpsertWalletSchedule(ctx context.Context, input RefreshWalletInput, interval time.Duration) error {
	id := ScheduleID(input.Blockchain, input.Address)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.createWalletSchedule(ctx, input, interval)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			in.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			if action, ok := in.Description.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				action.Args = []interface{}{input}
			}
			return &client.ScheduleUpdate{
				Schedule: &in.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("wallet schedule updated",
		"blockchain", input.Blockchain,
		"address", input.Address,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteWalletSchedule deletes the Temporal schedule for a wallet.
func (c *Client) DeleteWalletSchedule(ctx context.Context, blockchain, address string) error {
	id := ScheduleID(blockchain, address)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("wallet schedule deleted", "schedule_id", id)
	return nil
}

// TriggerWalletSchedule starts the schedule's workflow immediately.
func (c *Client) TriggerWalletSchedule(ctx context.Context, blockchain, address string) error {
	id := ScheduleID(blockchain, address)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Trigger(ctx, client.ScheduleTriggerOptions{}); err != nil {
		return fmt.Errorf("failed to trigger schedule %q: %w", id, err)
	}

	c.logger.Debug("wallet schedule triggered", "schedule_id", id)
	return nil
}

// ScheduleInfo summarizes a wallet schedule.
type ScheduleInfo struct {
	ID          string      `json:"id"`
	Interval    string      `json:"interval"`
	Paused      bool        `json:"paused"`
	NextRuns    []time.Time `json:"next_runs"`
	RecentRuns  []time.Time `json:"recent_runs"`
	ActionCount int         `json:"action_count"`
}

// DescribeWalletSchedule returns the interval and run times of a wallet's
// schedule.
func (c *Client) DescribeWalletSchedule(ctx context.Context, blockchain, address string) (*ScheduleInfo, error) {
	id := ScheduleID(blockchain, address)

	desc, err := c.client.ScheduleClient().GetHandle(ctx, id).Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to describe schedule %q: %w", id, err)
	}

	info := &ScheduleInfo{
		ID:          id,
		NextRuns:    desc.Info.NextActionTimes,
		ActionCount: desc.Info.NumActions,
	}
	if desc.Schedule.Spec != nil && len(desc.Schedule.Spec.Intervals) > 0 {
		info.Interval = desc.Schedule.Spec.Intervals[0].Every.String()
	}
	if desc.Schedule.State != nil {
		info.Paused = desc.Schedule.State.Paused
	}
	for _, r := range desc.Info.RecentActions {
		info.RecentRuns = append(info.RecentRuns, r.ActualTime)
	}
	return info, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}

var _ Scheduler = (*Client)(nil)
