package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/walletcore/service/metrics"
)

// Publisher publishes wallet events to NATS.
type Publisher interface {
	// PublishWalletEvent publishes to "wallets.{blockchain}.{address}".
	PublishWalletEvent(ctx context.Context, event *WalletEvent) error

	Close() error
}

const (
	// StreamName is the name of the JetStream stream for wallet events.
	StreamName = "WALLETS"

	subjectPrefix = "wallets"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = subjectPrefix + ".>"

	// StreamRetention is how long events are kept.
	StreamRetention = 7 * 24 * time.Hour

	// DuplicateWindow is how long JetStream remembers message IDs. A
	// republished event inside the window is stored once.
	DuplicateWindow = 2 * time.Minute

	// HeaderEventType carries the event type so consumers can filter
	// without decoding the payload.
	HeaderEventType = "Wallet-Event-Type"
)

// JetStreamPublisher publishes wallet events to the WALLETS stream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher connects to NATS and creates or updates the wallet stream.
// If m is nil, no metrics are recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	logger = logger.With("component", "nats_publisher")

	nc, err := nats.Connect(natsURL,
		nats.Name("walletcore-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info("NATS publisher initialized", "url", natsURL, "stream", StreamName)
	return p, nil
}

func streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Wallet state transitions and sent transactions",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	stream, err := p.js.CreateOrUpdateStream(ctx, streamConfig())
	if err != nil {
		return fmt.Errorf("failed to create or update stream %s: %w", StreamName, err)
	}
	info, err := stream.Info(ctx)
	if err == nil {
		p.logger.Debug("JetStream stream ready", "stream", StreamName, "messages", info.State.Msgs)
	}
	return nil
}

// PublishWalletEvent publishes one event. The event's MsgID deduplicates
// retries inside DuplicateWindow.
func (p *JetStreamPublisher) PublishWalletEvent(ctx context.Context, event *WalletEvent) error {
	msg, err := newMsg(event)
	if err != nil {
		return err
	}

	start := time.Now()
	ack, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(event.MsgID()))
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subjectPrefix+"."+event.Blockchain, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish wallet event: %w", err)
	}

	p.logger.DebugContext(ctx, "published wallet event",
		"subject", msg.Subject,
		"type", event.Type,
		"status", event.Status,
		"hash", event.Hash,
		"seq", ack.Sequence,
		"duplicate", ack.Duplicate,
	)
	return nil
}

// newMsg encodes event for its wallet subject.
func newMsg(event *WalletEvent) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal wallet event: %w", err)
	}
	msg := nats.NewMsg(Subject(event.Blockchain, event.Address))
	msg.Data = data
	msg.Header.Set(HeaderEventType, event.Type)
	return msg, nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
