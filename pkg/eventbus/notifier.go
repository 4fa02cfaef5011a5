// Package eventbus fans the coordinator's output out to UI observers over
// per-conversation topics. The coordinator publishes message upserts and
// status changes; renderers subscribe to the conversations they display.
package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/conversation"
)

// Event types published by the coordinator.
const (
	EventMessageUpsert   = "message.upsert"
	EventResponseStarted = "response.started"
	EventLoading         = "loading"
	EventUploadStatus    = "upload.status"
)

// Event is one coordinator output frame.
type Event struct {
	Type   string                     `json:"type"`
	ConvID string                     `json:"conv_id"`
	Msg    *conversation.Message      `json:"message,omitempty"`
	Load   *bool                      `json:"loading,omitempty"`
	Upload *conversation.UploadStatus `json:"upload,omitempty"`
}

// Notifier is an in-process pub/sub hub keyed by conversation id.
type Notifier struct {
	pubSub *gochannel.GoChannel
	log    zerolog.Logger
}

func topicForConv(convID string) string { return "chat:" + convID }

func NewNotifier() *Notifier {
	logger := log.With().Str("component", "eventbus").Logger()
	return &Notifier{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, newZerologAdapter(logger)),
		log: logger,
	}
}

// Publish sends the event to every subscriber of the conversation's topic.
// Delivery is in publish order per topic; with no subscribers the event is
// dropped.
func (n *Notifier) Publish(ev Event) {
	if n == nil || ev.ConvID == "" {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		n.log.Warn().Err(err).Str("conv_id", ev.ConvID).Msg("failed to encode event")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := n.pubSub.Publish(topicForConv(ev.ConvID), msg); err != nil {
		n.log.Warn().Err(err).Str("conv_id", ev.ConvID).Msg("failed to publish event")
	}
}

// Subscribe returns a channel of decoded events for one conversation. The
// channel closes when ctx is cancelled or the notifier shuts down.
func (n *Notifier) Subscribe(ctx context.Context, convID string) (<-chan Event, error) {
	msgs, err := n.pubSub.Subscribe(ctx, topicForConv(convID))
	if err != nil {
		return nil, err
	}
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				n.log.Warn().Err(err).Str("conv_id", convID).Msg("failed to decode event")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the hub down and closes all subscriber channels.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	if err := n.pubSub.Close(); err != nil {
		n.log.Warn().Err(err).Msg("notifier close failed")
	}
}
