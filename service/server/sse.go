package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/walletcore/service/metrics"
	natspkg "github.com/brojonat/walletcore/service/nats"
	"github.com/brojonat/walletcore/service/wallet"
)

const keepaliveInterval = 10 * time.Second

// SSEPublisher manages Server-Sent Events connections for wallet event streaming.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher creates a new SSE publisher that subscribes to NATS internally.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("walletcore-sse-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// handleStreamWallet handles SSE streaming of wallet events. With a NATS
// publisher it relays every event on the WALLETS stream for the wallet (or
// for all wallets when the path has none). Without one it relays the state
// transitions of the wallet's manager in this process.
func handleStreamWallet(wallets *wallet.Registry, publisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blockchain := r.PathValue("blockchain")

		if publisher == nil {
			mgr, err := lookupWallet(wallets, r)
			if err != nil {
				writeChainError(w, err)
				return
			}
			streamFromManager(w, r, mgr, m, logger)
			return
		}

		subject := natspkg.StreamSubjects
		walletDesc := "all wallets"
		label := "all"
		if blockchain != "" {
			b, err := parseBlockchain(blockchain)
			if err != nil {
				writeChainError(w, err)
				return
			}
			address := r.PathValue("address")
			if err := validateAddress(address); err != nil {
				writeChainError(w, err)
				return
			}
			subject = natspkg.Subject(string(b), address)
			walletDesc = string(b) + ":" + address
			label = string(b)
		}
		streamFromNATS(w, r, publisher, subject, walletDesc, label, m, logger)
	})
}

func startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func writeKeepalive(w http.ResponseWriter) {
	fmt.Fprintf(w, ": keepalive\n\n")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func streamFromManager(w http.ResponseWriter, r *http.Request, mgr *wallet.Manager, m *metrics.Metrics, logger *slog.Logger) {
	label := string(mgr.Blockchain())
	states, unsubscribe := mgr.Subscribe()
	defer unsubscribe()

	startSSE(w)
	if m != nil {
		m.RecordSSEConnectionChange(label, 1)
		defer m.RecordSSEConnectionChange(label, -1)
	}

	logger.DebugContext(r.Context(), "SSE client connected",
		"wallet", label+":"+mgr.Address(),
		"remote_addr", r.RemoteAddr,
	)

	// Events use the same payload as the NATS stream.
	send := func(s wallet.State) {
		ev := &wallet.Event{
			Type:       wallet.EventStateChanged,
			Blockchain: mgr.Blockchain(),
			Address:    mgr.Address(),
			State:      &s,
			Timestamp:  s.UpdatedAt,
		}
		if s.Status == wallet.StatusIdle {
			ev.Account = mgr.Account()
		}
		data, err := json.Marshal(natspkg.FromWalletEvent(ev))
		if err != nil {
			logger.WarnContext(r.Context(), "failed to marshal state", "error", err)
			return
		}
		writeSSE(w, string(wallet.EventStateChanged), data)
		if m != nil {
			m.RecordSSEEventSent(label, string(wallet.EventStateChanged))
		}
	}

	connected, _ := json.Marshal(map[string]string{"wallet": label + ":" + mgr.Address()})
	writeSSE(w, "connected", connected)
	send(mgr.CurrentState())

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-keepalive.C:
			writeKeepalive(w)

		case s := <-states:
			send(s)

		case <-r.Context().Done():
			logger.DebugContext(r.Context(), "SSE client disconnected",
				"wallet", label+":"+mgr.Address(),
				"remote_addr", r.RemoteAddr,
			)
			return
		}
	}
}

func streamFromNATS(w http.ResponseWriter, r *http.Request, publisher *SSEPublisher, subject, walletDesc, label string, m *metrics.Metrics, logger *slog.Logger) {
	startSSE(w)

	logger.DebugContext(r.Context(), "SSE client connected",
		"wallet", walletDesc,
		"remote_addr", r.RemoteAddr,
	)

	// Ephemeral consumer, deleted when the connection closes
	cons, err := publisher.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to create consumer",
			"wallet", walletDesc,
			"error", err,
		)
		writeSSE(w, "error", []byte(`{"error": "failed to subscribe"}`))
		return
	}

	if m != nil {
		m.RecordSSEConnectionChange(label, 1)
		defer m.RecordSSEConnectionChange(label, -1)
	}

	msgChan := make(chan jetstream.Msg, 10)
	doneChan := make(chan struct{})

	go func() {
		defer close(doneChan)
		cc, err := cons.Consume(func(msg jetstream.Msg) {
			select {
			case msgChan <- msg:
			case <-r.Context().Done():
				return
			}
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to start consuming messages",
				"error", err,
			)
			return
		}
		<-r.Context().Done()
		cc.Stop()
	}()

	connected, _ := json.Marshal(map[string]string{"wallet": walletDesc})
	writeSSE(w, "connected", connected)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-keepalive.C:
			writeKeepalive(w)

		case msg := <-msgChan:
			var event natspkg.WalletEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				logger.WarnContext(r.Context(), "failed to unmarshal event",
					"error", err,
				)
				msg.Ack()
				continue
			}

			writeSSE(w, event.Type, msg.Data())
			msg.Ack()
			if m != nil {
				m.RecordSSEEventSent(label, event.Type)
			}

			logger.DebugContext(r.Context(), "sent wallet event",
				"wallet", walletDesc,
				"type", event.Type,
				"hash", event.Hash,
			)

		case <-r.Context().Done():
			logger.DebugContext(r.Context(), "SSE client disconnected",
				"wallet", walletDesc,
				"remote_addr", r.RemoteAddr,
			)
			return

		case <-doneChan:
			return
		}
	}
}
