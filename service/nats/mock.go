package nats

import (
	"context"
	"sync"
)

// MockPublisher records wallet events in memory for tests. Events with a
// MsgID it has already seen are dropped, like the stream's duplicate window.
type MockPublisher struct {
	mu       sync.Mutex
	events   []*WalletEvent
	seen     map[string]bool
	failWith error
	closed   bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{seen: make(map[string]bool)}
}

func (m *MockPublisher) PublishWalletEvent(ctx context.Context, event *WalletEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	id := event.MsgID()
	if m.seen[id] {
		return nil
	}
	m.seen[id] = true
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Events returns the events of one wallet, or of every wallet when
// blockchain is empty, in publish order.
func (m *MockPublisher) Events(blockchain, address string) []*WalletEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*WalletEvent
	for _, ev := range m.events {
		if blockchain == "" || (ev.Blockchain == blockchain && ev.Address == address) {
			out = append(out, ev)
		}
	}
	return out
}

// FailWith makes every later publish return err. A nil err clears it.
func (m *MockPublisher) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MockPublisher) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Publisher = (*MockPublisher)(nil)
