package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/metrics"
)

// Network is what a manager needs from a chain family: a builder plus the
// reads and the broadcast of one provider aggregator.
type Network interface {
	chain.Builder
	Blockchain() chain.Blockchain
	ValidateAddress(address string) error
	Refresh(ctx context.Context, address string) (*chain.AccountState, error)
	Fees(ctx context.Context, req chain.FeeRequest) ([]chain.Fee, error)
	Broadcast(ctx context.Context, tx *chain.SignedTransaction) (string, error)
}

// Validator is implemented by networks with chain-specific checks that need
// the network, such as destination reserves.
type Validator interface {
	Validate(ctx context.Context, intent chain.Intent, state *chain.AccountState) error
}

// Pusher is implemented by networks that can replace a pending transaction.
type Pusher interface {
	SupportsPush() bool
	Push(ctx context.Context, tx *chain.SignedTransaction, replacing string) (string, error)
}

// HistoryReader is implemented by networks that can list past transfers.
type HistoryReader interface {
	History(ctx context.Context, address string, limit int) ([]chain.HistoryEntry, error)
}

// Config holds the collaborators of a Manager. Sink and Metrics are optional.
type Config struct {
	Address   string
	PublicKey chain.PublicKey
	Network   Network
	Sink      EventSink
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Transaction is an intent that passed local validation and is bound to the
// wallet that created it.
type Transaction struct {
	Intent    chain.Intent `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
	// Replaces is the hash of a pending transfer this one is built to
	// replace. Its nonce, inputs and value stay available to the build.
	Replaces string `json:"replaces,omitempty"`
}

// SignRequest is a built transaction waiting for signatures. Hashes are in
// signing order and every one must be signed with PublicKey.
type SignRequest struct {
	Transaction *Transaction
	Unsigned    chain.UnsignedTransaction
	Hashes      [][]byte
	PublicKey   chain.PublicKey
}

type run struct {
	cancel context.CancelFunc
	prev   State
	done   chan struct{}
}

// Manager owns the lifecycle of one address on one blockchain.
type Manager struct {
	address string
	key     chain.PublicKey
	params  chain.Params
	network Network
	sink    EventSink
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu          sync.Mutex
	state       State
	account     *chain.AccountState
	pending     []PendingTransaction
	inflight    *run
	subscribers map[chan State]struct{}
}

// NewManager creates a manager in the created state. Nothing is fetched
// until Update or Refresh is called.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Network == nil {
		return nil, fmt.Errorf("network is required")
	}
	params, err := chain.ParamsFor(cfg.Network.Blockchain())
	if err != nil {
		return nil, err
	}
	if err := cfg.Network.ValidateAddress(cfg.Address); err != nil {
		return nil, fmt.Errorf("failed to validate wallet address: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		address:     cfg.Address,
		key:         cfg.PublicKey,
		params:      params,
		network:     cfg.Network,
		sink:        cfg.Sink,
		metrics:     cfg.Metrics,
		logger:      logger.With("component", "wallet_manager", "blockchain", string(params.Blockchain), "address", cfg.Address),
		state:       State{Status: StatusCreated, UpdatedAt: time.Now().UTC()},
		subscribers: make(map[chan State]struct{}),
	}, nil
}

func (m *Manager) Blockchain() chain.Blockchain { return m.params.Blockchain }
func (m *Manager) Address() string              { return m.address }
func (m *Manager) PublicKey() chain.PublicKey   { return m.key }

// CurrentState returns the latest state.
func (m *Manager) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Account returns the snapshot from the last successful refresh, or nil.
func (m *Manager) Account() *chain.AccountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account
}

// Pending returns a copy of the transactions not yet seen on chain.
func (m *Manager) Pending() []PendingTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.pending)
}

// Subscribe returns a channel that receives every state transition and a
// function that stops delivery. Transitions are dropped for a subscriber
// whose buffer is full.
func (m *Manager) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 16)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, ch)
			m.mu.Unlock()
		})
	}
}

// Update starts a refresh in the background and returns immediately. It is
// a no-op while a refresh is already in flight. The refresh outlives ctx;
// use Cancel to abandon it.
func (m *Manager) Update(ctx context.Context) {
	m.mu.Lock()
	if m.inflight != nil {
		m.mu.Unlock()
		return
	}
	runCtx, r, ev := m.beginLocked(context.WithoutCancel(ctx))
	m.mu.Unlock()

	m.publish(ctx, ev)
	go m.execute(runCtx, r)
}

// Refresh runs a refresh and waits for it. If one is already in flight it
// waits for that one instead. The returned state is the one the refresh
// ended in, or the current state if ctx ends first.
func (m *Manager) Refresh(ctx context.Context) State {
	m.mu.Lock()
	if r := m.inflight; r != nil {
		m.mu.Unlock()
		select {
		case <-r.done:
		case <-ctx.Done():
		}
		return m.CurrentState()
	}
	runCtx, r, ev := m.beginLocked(ctx)
	m.mu.Unlock()

	m.publish(ctx, ev)
	m.execute(runCtx, r)
	return m.CurrentState()
}

// Cancel abandons an in-flight refresh. The state reverts to what it was
// before loading and the refresh result is discarded when it arrives.
func (m *Manager) Cancel() {
	m.mu.Lock()
	r := m.inflight
	if r == nil {
		m.mu.Unlock()
		return
	}
	r.cancel()
	m.inflight = nil
	ev := m.setStateLocked(r.prev)
	close(r.done)
	m.mu.Unlock()

	m.logger.Debug("refresh cancelled")
	m.publish(context.Background(), ev)
}

func (m *Manager) beginLocked(ctx context.Context) (context.Context, *run, *Event) {
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, prev: m.state, done: make(chan struct{})}
	m.inflight = r
	return runCtx, r, m.setStateLocked(State{Status: StatusLoading})
}

func (m *Manager) execute(ctx context.Context, r *run) {
	start := time.Now()
	next, account := m.load(ctx)

	m.mu.Lock()
	if m.inflight != r {
		// Cancelled while the network calls were outstanding.
		m.mu.Unlock()
		return
	}
	r.cancel()
	m.inflight = nil

	var settled []PendingTransaction
	if account != nil {
		m.pending, settled = clearPending(m.pending, m.account, account)
		m.account = account
	}
	ev := m.setStateLocked(next)
	close(r.done)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordWalletRefresh(string(m.params.Blockchain), string(next.Status), time.Since(start).Seconds())
		if len(settled) > 0 {
			m.metrics.RecordPendingTransactions(string(m.params.Blockchain), -float64(len(settled)))
		}
	}

	switch next.Status {
	case StatusFailed:
		m.logger.ErrorContext(ctx, "refresh failed", "error", next.Err)
	case StatusIdle:
		m.logger.DebugContext(ctx, "refresh complete", "balance", account.Balance.String(), "settled", len(settled))
	default:
		m.logger.InfoContext(ctx, "refresh complete", "status", next.Status)
	}

	ctx = context.WithoutCancel(ctx)
	if ev != nil {
		ev.Account = account
	}
	m.publish(ctx, ev)
	for i := range settled {
		m.publish(ctx, m.event(EventTransactionSettled, &settled[i]))
	}
}

// load maps one refresh onto the terminal state it produces. The account
// snapshot is returned only for idle.
func (m *Manager) load(ctx context.Context) (State, *chain.AccountState) {
	if err := m.checkKey(); err != nil {
		return State{Status: StatusNoDerivation, Message: err.Error()}, nil
	}

	account, err := m.network.Refresh(ctx, m.address)
	if err != nil {
		if errors.Is(err, chain.ErrAccountNotFound) {
			return State{Status: StatusNoAccount, Message: err.Error()}, nil
		}
		return State{Status: StatusFailed, Err: err}, nil
	}
	if account.Inactive {
		return State{Status: StatusNoAccount, Message: inactiveMessage(account)}, nil
	}
	return State{Status: StatusIdle}, account
}

func inactiveMessage(account *chain.AccountState) string {
	if account.Reserve == nil {
		return "account is not activated"
	}
	return fmt.Sprintf("account is not activated: send at least %s to activate it", account.Reserve.String())
}

func (m *Manager) checkKey() error {
	if m.key.IsZero() {
		return chain.ErrNoDerivation.WithDetails(map[string]string{"blockchain": string(m.params.Blockchain)})
	}
	if !m.params.SupportsCurve(m.key.Curve) {
		return chain.ErrNoDerivation.WithDetails(map[string]string{
			"blockchain": string(m.params.Blockchain),
			"curve":      string(m.key.Curve),
		})
	}
	return nil
}

func (m *Manager) setStateLocked(s State) *Event {
	s.UpdatedAt = time.Now().UTC()
	m.state = s
	for ch := range m.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
	ev := m.event(EventStateChanged, nil)
	ev.State = &s
	return ev
}

func (m *Manager) event(t EventType, tx *PendingTransaction) *Event {
	return &Event{
		Type:        t,
		Blockchain:  m.params.Blockchain,
		Address:     m.address,
		Transaction: tx,
		Timestamp:   time.Now().UTC(),
	}
}

func (m *Manager) publish(ctx context.Context, ev *Event) {
	if m.sink == nil || ev == nil {
		return
	}
	if err := m.sink.Publish(ctx, ev); err != nil {
		m.logger.WarnContext(ctx, "failed to publish wallet event", "type", ev.Type, "error", err)
	}
}

// CreateTransaction checks an intent against this wallet and the chain's
// local rules. An empty source defaults to the wallet address.
func (m *Manager) CreateTransaction(intent chain.Intent) (*Transaction, error) {
	if intent.Blockchain == "" {
		intent.Blockchain = m.params.Blockchain
	}
	if intent.Blockchain != m.params.Blockchain {
		return nil, chain.ErrBlockchainMismatch.WithDetails(map[string]string{
			"expected": string(m.params.Blockchain),
			"got":      string(intent.Blockchain),
		})
	}
	if intent.Source == "" {
		intent.Source = m.address
	}
	if intent.Source != m.address {
		return nil, chain.ErrInvalidAddress.Withf("source %s is not this wallet", intent.Source)
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if err := m.network.ValidateAddress(intent.Destination); err != nil {
		return nil, err
	}
	return &Transaction{Intent: intent, CreatedAt: time.Now().UTC()}, nil
}

// GetFee prices a transfer of amount to destination. Chains with a fee
// market return the slow, market and fast tiers; the rest return one fee.
func (m *Manager) GetFee(ctx context.Context, amount chain.Amount, destination string) ([]chain.Fee, error) {
	if amount.Blockchain != m.params.Blockchain {
		return nil, chain.ErrBlockchainMismatch.WithDetails(map[string]string{
			"expected": string(m.params.Blockchain),
			"got":      string(amount.Blockchain),
		})
	}
	if destination != "" {
		if err := m.network.ValidateAddress(destination); err != nil {
			return nil, err
		}
	}
	fees, err := m.network.Fees(ctx, chain.FeeRequest{
		Source:      m.address,
		Destination: destination,
		Amount:      amount,
		State:       m.projected(""),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get fees: %w", err)
	}
	return fees, nil
}

// projected returns the latest snapshot with the wallet's own pending
// transfers applied, so back-to-back sends do not reuse a nonce or funds.
func (m *Manager) projected(skip string) *chain.AccountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return withPending(m.account, m.pending, skip)
}

// Prepare checks funds against the latest snapshot, less what pending
// transfers will spend, and builds the hashes to sign. The wallet is
// refreshed first if it has never loaded.
func (m *Manager) Prepare(ctx context.Context, tx *Transaction) (*SignRequest, error) {
	if tx == nil {
		return nil, chain.ErrInvalidAmount.Withf("transaction is nil")
	}
	if err := m.checkKey(); err != nil {
		return nil, err
	}
	account := m.Account()
	if account == nil {
		state := m.Refresh(ctx)
		if account = m.Account(); account == nil {
			if state.Err != nil {
				return nil, state.Err
			}
			if state.Status == StatusNoAccount {
				return nil, chain.ErrAccountNotFound.Withf("%s", state.Message)
			}
			return nil, chain.ErrStateIncomplete.Withf("wallet has not loaded: %s", state.Status)
		}
	}
	if p := m.projected(tx.Replaces); p != nil {
		account = p
	}

	if err := checkFunds(tx.Intent, account); err != nil {
		return nil, err
	}
	if v, ok := m.network.(Validator); ok {
		if err := v.Validate(ctx, tx.Intent, account); err != nil {
			return nil, err
		}
	}
	unsigned, err := m.network.BuildForSign(tx.Intent, account, m.key)
	if err != nil {
		return nil, err
	}
	return &SignRequest{
		Transaction: tx,
		Unsigned:    unsigned,
		Hashes:      unsigned.Hashes(),
		PublicKey:   m.key,
	}, nil
}

// checkFunds verifies the snapshot covers the intent. Native transfers need
// amount plus fee above any reserve; token transfers need the token amount
// and the fee in the native coin.
func checkFunds(intent chain.Intent, account *chain.AccountState) error {
	spendable := account.Spendable()
	need := intent.Total()
	if intent.Amount.IsToken() {
		have, ok := account.TokenBalances[intent.Amount.Token.Contract]
		if !ok {
			have = chain.NewTokenAmount(intent.Blockchain, *intent.Amount.Token, have.Value)
		}
		if err := cover(have, intent.Amount, nil); err != nil {
			return err
		}
		if intent.Fee == nil {
			return nil
		}
		need = intent.Fee.Amount
	}
	return cover(spendable, need, account)
}

func cover(have, need chain.Amount, account *chain.AccountState) error {
	cmp, err := have.Cmp(need)
	if err != nil {
		return err
	}
	if cmp >= 0 {
		return nil
	}
	details := map[string]string{
		"required":  need.String(),
		"available": have.String(),
	}
	if account != nil && account.Reserve != nil {
		if c, err := account.Balance.Cmp(need); err == nil && c >= 0 {
			details["reserve"] = account.Reserve.String()
			return chain.ErrReserveNotMet.WithDetails(details)
		}
	}
	return chain.ErrInsufficientFunds.WithDetails(details)
}

// Complete assembles the signed transaction and broadcasts it. The
// broadcast is not cancelled with ctx once started.
func (m *Manager) Complete(ctx context.Context, req *SignRequest, signatures [][]byte) (string, error) {
	signed, err := m.network.BuildForSend(req.Unsigned, signatures)
	if err != nil {
		return "", err
	}
	ctx = context.WithoutCancel(ctx)
	hash, err := m.network.Broadcast(ctx, signed)
	if m.metrics != nil {
		m.metrics.RecordTransactionSent(string(m.params.Blockchain), err)
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "broadcast failed", "error", err)
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	if hash == "" {
		hash = signed.Hash
	}
	m.record(ctx, req, hash, "")
	return hash, nil
}

// Send signs every hash with signer and broadcasts the result.
func (m *Manager) Send(ctx context.Context, tx *Transaction, signer chain.Signer) (string, error) {
	req, err := m.Prepare(ctx, tx)
	if err != nil {
		return "", err
	}
	sigs, err := SignAll(ctx, signer, req)
	if err != nil {
		return "", err
	}
	return m.Complete(ctx, req, sigs)
}

// SignAll asks signer for one signature per hash in req.
func SignAll(ctx context.Context, signer chain.Signer, req *SignRequest) ([][]byte, error) {
	if signer == nil {
		return nil, chain.ErrSignerUnavailable
	}
	sigs := make([][]byte, len(req.Hashes))
	for i, h := range req.Hashes {
		sig, err := signer.Sign(ctx, h, req.PublicKey.Bytes)
		if err != nil {
			if chain.AsError(err) == nil {
				err = chain.ErrSignerUnavailable.Wrap(err)
			}
			return nil, err
		}
		sigs[i] = sig
	}
	return sigs, nil
}

// Replace broadcasts req as a replacement for the pending transaction
// replacing. The replaced record is dropped.
func (m *Manager) Replace(ctx context.Context, req *SignRequest, signatures [][]byte, replacing string) (string, error) {
	p, ok := m.network.(Pusher)
	if !ok || !p.SupportsPush() {
		return "", chain.ErrPushUnsupported.WithDetails(map[string]string{"blockchain": string(m.params.Blockchain)})
	}
	signed, err := m.network.BuildForSend(req.Unsigned, signatures)
	if err != nil {
		return "", err
	}
	ctx = context.WithoutCancel(ctx)
	hash, err := p.Push(ctx, signed, replacing)
	if m.metrics != nil {
		m.metrics.RecordTransactionSent(string(m.params.Blockchain), err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to push transaction: %w", err)
	}
	if hash == "" {
		hash = signed.Hash
	}
	m.record(ctx, req, hash, replacing)
	return hash, nil
}

// History lists recent transfers if the network can read them.
func (m *Manager) History(ctx context.Context, limit int) ([]chain.HistoryEntry, error) {
	h, ok := m.network.(HistoryReader)
	if !ok {
		return nil, chain.ErrNotSupported.Withf("history is not available on %s", m.params.Blockchain)
	}
	return h.History(ctx, m.address, limit)
}

func (m *Manager) record(ctx context.Context, req *SignRequest, hash, replacing string) {
	intent := req.Transaction.Intent
	p := PendingTransaction{
		Hash:        hash,
		Blockchain:  m.params.Blockchain,
		Source:      intent.Source,
		Destination: intent.Destination,
		Value:       intent.Amount,
		Timestamp:   time.Now().UTC(),
		Direction:   chain.Outgoing,
		Replaces:    replacing,
	}
	if intent.Fee != nil {
		fee := intent.Fee.Amount
		p.Fee = &fee
	}
	if n, ok := req.Unsigned.(chain.NonceUser); ok {
		nonce := n.Nonce()
		p.Nonce = &nonce
	}
	if s, ok := req.Unsigned.(chain.InputSpender); ok {
		p.Outpoints = s.Outpoints()
	}

	m.mu.Lock()
	delta := 1
	if replacing != "" {
		before := len(m.pending)
		m.pending = slices.DeleteFunc(m.pending, func(r PendingTransaction) bool { return r.Hash == replacing })
		delta -= before - len(m.pending)
	}
	m.pending = append(m.pending, p)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordPendingTransactions(string(m.params.Blockchain), float64(delta))
	}
	m.logger.InfoContext(ctx, "transaction sent", "hash", hash, "destination", p.Destination, "amount", p.Value.String())
	m.publish(ctx, m.event(EventTransactionSent, &p))
}
