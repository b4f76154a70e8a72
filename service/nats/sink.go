package nats

import (
	"context"

	"github.com/brojonat/walletcore/service/wallet"
)

// Sink publishes wallet manager events through a Publisher.
type Sink struct {
	publisher Publisher
}

func NewSink(p Publisher) *Sink {
	return &Sink{publisher: p}
}

func (s *Sink) Publish(ctx context.Context, event *wallet.Event) error {
	return s.publisher.PublishWalletEvent(ctx, FromWalletEvent(event))
}

var _ wallet.EventSink = (*Sink)(nil)
