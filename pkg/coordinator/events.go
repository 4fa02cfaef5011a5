package coordinator

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/marionette/pkg/conversation"
	"github.com/go-go-golems/marionette/pkg/stream"
)

const (
	streamFailText   = "Error receiving response."
	streamFailSuffix = "\n\n[Error receiving response]"
)

// consumeStream folds one response's push events into its message, in the
// order the transport delivered them. It terminates on the sentinel token
// or a transport error.
func (c *Coordinator) consumeStream(convID, msgID string, sub stream.Subscription) {
	ref := conversation.Existing(convID)
	slog := c.log.With().Str("conv_id", convID).Str("message_id", msgID).Logger()
	applyFragment := func(data string) {
		fragment := strings.ReplaceAll(data, stream.NewlineToken, "\n")
		c.store.UpdateContent(ref, msgID, func(prev string) string { return prev + fragment })
		c.markStarted(convID)
		c.notifyMessageByID(ref, msgID)
	}
	// Payloads queued before a failure still belong to the response, so on a
	// transport error we drain the message channel first; a buffered
	// termination token downgrades the error to a normal completion.
	failAfterDrain := func(err error) {
		for {
			select {
			case data, ok := <-sub.Messages():
				if !ok {
					c.finishWithTransportError(ref, msgID, sub, err)
					return
				}
				if data == stream.DoneToken {
					slog.Debug().Msg("stream complete")
					c.finishStream(ref, msgID, sub)
					return
				}
				applyFragment(data)
			default:
				c.finishWithTransportError(ref, msgID, sub, err)
				return
			}
		}
	}

	for {
		var data string
		var ok bool
		select {
		case data, ok = <-sub.Messages():
		case err := <-sub.Err():
			failAfterDrain(err)
			return
		}
		if !ok {
			err := errors.New("stream closed unexpectedly")
			select {
			case e := <-sub.Err():
				err = e
			default:
			}
			c.finishWithTransportError(ref, msgID, sub, err)
			return
		}
		if data == stream.DoneToken {
			slog.Debug().Msg("stream complete")
			c.finishStream(ref, msgID, sub)
			return
		}
		applyFragment(data)
	}
}

// finishStream handles the sentinel termination token.
func (c *Coordinator) finishStream(ref conversation.Ref, msgID string, sub stream.Subscription) {
	convID := ref.ID()
	c.dropStreamIf(convID, sub)
	c.clearPendingIf(convID, msgID)
	c.mu.Lock()
	delete(c.fresh, convID)
	c.mu.Unlock()

	c.store.Patch(ref, msgID, conversation.MessagePatch{
		Status: conversation.PatchStatus(conversation.StatusComplete),
	})
	c.setLoading(ref, false)
	c.notifyMessageByID(ref, msgID)
}

// finishWithTransportError closes and discards the connection and, unless
// the response was already finalized by the termination token, surfaces the
// failure on the message. Errors are never retried automatically.
func (c *Coordinator) finishWithTransportError(ref conversation.Ref, msgID string, sub stream.Subscription, err error) {
	convID := ref.ID()
	c.dropStreamIf(convID, sub)
	stillPending := c.clearPendingIf(convID, msgID)
	c.setLoading(ref, false)
	if !stillPending {
		return
	}
	c.log.Warn().Err(err).Str("conv_id", convID).Str("message_id", msgID).Msg("stream transport error")
	c.store.UpdateContent(ref, msgID, func(prev string) string {
		if prev == "" {
			return streamFailText
		}
		return prev + streamFailSuffix
	})
	c.store.Patch(ref, msgID, conversation.MessagePatch{
		Status: conversation.PatchStatus(conversation.StatusComplete),
	})
	c.notifyMessageByID(ref, msgID)
}
