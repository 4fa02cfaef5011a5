package coordinator

import (
	"context"

	"github.com/go-go-golems/marionette/pkg/conversation"
)

// Stop cancels the conversation's in-flight response: it signals the server
// (best effort), closes the stream handle and completes the streaming
// message in place, preserving whatever partial content it has. With no
// response in flight it is a no-op.
func (c *Coordinator) Stop(ctx context.Context, ref conversation.Ref) {
	if ref.IsDraft() {
		return
	}
	if ctx == nil {
		ctx = c.baseCtx
	}
	convID := ref.ID()

	c.mu.Lock()
	_, hasPending := c.pending[convID]
	_, hasStream := c.streams[convID]
	c.mu.Unlock()
	if !hasPending && !hasStream && !c.store.Loading(ref) {
		return
	}

	if err := c.client.Stop(ctx, convID, c.creds.Token()); err != nil {
		c.log.Warn().Err(err).Str("conv_id", convID).Msg("stop request failed")
	}
	c.closeStream(convID)

	if last, ok := c.store.Last(ref); ok && last.Status == conversation.StatusStreaming {
		c.store.Patch(ref, last.ID, conversation.MessagePatch{
			Status: conversation.PatchStatus(conversation.StatusComplete),
		})
		c.notifyMessageByID(ref, last.ID)
	}

	c.setLoading(ref, false)
	c.mu.Lock()
	delete(c.pending, convID)
	c.responseStarted = false
	c.mu.Unlock()
}
