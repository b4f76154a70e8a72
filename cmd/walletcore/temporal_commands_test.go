package main

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/walletcore/service/temporal"
)

// runTemporalApp runs the CLI against the test Temporal server. Tests are
// skipped unless RUN_TEMPORAL_TESTS is set.
func runTemporalApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Skip by default - require explicit opt-in
	if os.Getenv("RUN_TEMPORAL_TESTS") == "" {
		t.Skip("Skipping Temporal integration test (set RUN_TEMPORAL_TESTS=1 to enable)")
	}

	temporalHost := os.Getenv("TEST_TEMPORAL_HOST")
	if temporalHost == "" {
		temporalHost = "localhost:7233"
	}
	t.Setenv("TEMPORAL_HOST", temporalHost)
	t.Setenv("TEMPORAL_TASK_QUEUE", "walletcore-refresh-test")

	return runApp(t, "http://unused", append([]string{"temporal"}, args...)...)
}

func TestScheduleLifecycle(t *testing.T) {
	address := "rTestSchedu1eLifecyc1e111111111111"
	t.Cleanup(func() {
		if os.Getenv("RUN_TEMPORAL_TESTS") == "" {
			return
		}
		tc, err := temporal.NewClient(os.Getenv("TEMPORAL_HOST"), "default", "walletcore-refresh-test", discardLogger())
		if err == nil {
			_ = tc.DeleteWalletSchedule(context.Background(), "xrp", address)
			tc.Close()
		}
	})

	// Create
	out, err := runTemporalApp(t, "upsert-schedule", "--interval", "30s", "xrp", address)
	require.NoError(t, err)
	assert.Contains(t, out, temporal.ScheduleID("xrp", address))

	// Pause
	out, err = runTemporalApp(t, "pause-schedule", "--note", "Test pause", "xrp", address)
	require.NoError(t, err)
	assert.Contains(t, out, "paused")

	out, err = runTemporalApp(t, "describe-schedule", "xrp", address)
	require.NoError(t, err)
	var info temporal.ScheduleInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.True(t, info.Paused)
	assert.Equal(t, "30s", info.Interval)

	// Resume
	_, err = runTemporalApp(t, "resume-schedule", "xrp", address)
	require.NoError(t, err)

	// List
	out, err = runTemporalApp(t, "list-schedules", "--jq", ".[].id")
	require.NoError(t, err)
	assert.Contains(t, out, temporal.ScheduleID("xrp", address))

	// Delete
	_, err = runTemporalApp(t, "delete-schedule", "xrp", address)
	require.NoError(t, err)

	_, err = runTemporalApp(t, "describe-schedule", "xrp", address)
	assert.Error(t, err)
}
