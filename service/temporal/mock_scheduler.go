package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu         sync.Mutex
	schedules  map[string]time.Duration // map[scheduleID]interval
	inputs     map[string]RefreshWalletInput
	triggers   map[string]int
	createErr  error
	deleteErr  error
	triggerErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
		inputs:    make(map[string]RefreshWalletInput),
		triggers:  make(map[string]int),
	}
}

// UpsertWalletSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertWalletSchedule(ctx context.Context, input RefreshWalletInput, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}

	id := ScheduleID(input.Blockchain, input.Address)
	m.schedules[id] = interval
	m.inputs[id] = input
	return nil
}

// DeleteWalletSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteWalletSchedule(ctx context.Context, blockchain, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}

	id := ScheduleID(blockchain, address)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}

	delete(m.schedules, id)
	delete(m.inputs, id)
	return nil
}

// TriggerWalletSchedule counts a manual run of an existing schedule.
func (m *MockScheduler) TriggerWalletSchedule(ctx context.Context, blockchain, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.triggerErr != nil {
		return m.triggerErr
	}

	id := ScheduleID(blockchain, address)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}
	m.triggers[id]++
	return nil
}

// SetCreateError makes UpsertWalletSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError makes DeleteWalletSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// SetTriggerError makes TriggerWalletSchedule return an error.
func (m *MockScheduler) SetTriggerError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggerErr = err
}

// ScheduleExists checks if a schedule exists for a wallet.
func (m *MockScheduler) ScheduleExists(blockchain, address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.schedules[ScheduleID(blockchain, address)]
	return exists
}

// GetScheduleInterval returns the interval for a wallet's schedule.
func (m *MockScheduler) GetScheduleInterval(blockchain, address string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	interval, exists := m.schedules[ScheduleID(blockchain, address)]
	return interval, exists
}

// GetScheduleInput returns the workflow input stored with a wallet's schedule.
func (m *MockScheduler) GetScheduleInput(blockchain, address string) (RefreshWalletInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	input, exists := m.inputs[ScheduleID(blockchain, address)]
	return input, exists
}

// TriggerCount returns how many times a wallet's schedule was triggered.
func (m *MockScheduler) TriggerCount(blockchain, address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggers[ScheduleID(blockchain, address)]
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// Reset clears all schedules and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]time.Duration)
	m.inputs = make(map[string]RefreshWalletInput)
	m.triggers = make(map[string]int)
	m.createErr = nil
	m.deleteErr = nil
	m.triggerErr = nil
}

var _ Scheduler = (*MockScheduler)(nil)
