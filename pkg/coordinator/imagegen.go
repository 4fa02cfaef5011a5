package coordinator

import (
	"context"

	"github.com/go-go-golems/marionette/pkg/api"
	"github.com/go-go-golems/marionette/pkg/conversation"
)

const imageFailText = "Image generation failed. Please try again."

// runImageGeneration is the non-streaming sibling of the query path: one
// POST, one JSON result, one message update.
func (c *Coordinator) runImageGeneration(ctx context.Context, ref conversation.Ref, msgID, prompt string, opts *ImageOptions) {
	convID := ref.ID()
	glog := c.log.With().Str("conv_id", convID).Str("message_id", msgID).Logger()

	req := api.GenerateImageRequest{
		Prompt:         prompt,
		Token:          c.creds.Token(),
		DeploymentName: c.model.DeploymentName(),
	}
	if opts != nil {
		req.Size = opts.Size
		req.Quality = opts.Quality
		req.Style = opts.Style
		req.Reference = opts.Reference
	}

	result, err := c.client.GenerateImage(ctx, req)
	patch := conversation.MessagePatch{
		Status:            conversation.PatchStatus(conversation.StatusComplete),
		IsImageGeneration: conversation.PatchFlag(false),
	}
	switch {
	case err != nil:
		glog.Error().Err(err).Msg("image generation failed")
		patch.Content = conversation.PatchContent(imageFailText)
	case result.Error != "":
		glog.Warn().Str("server_error", result.Error).Msg("image generation rejected by server")
		patch.Content = conversation.PatchContent(result.Error)
	default:
		patch.Content = conversation.PatchContent("")
		patch.Image = &conversation.ImageResult{
			URL:         result.URL,
			Prompt:      prompt,
			Filename:    result.Filename,
			CreatedAt:   result.CreatedAt,
			IsVariation: opts != nil && opts.Reference != nil,
		}
	}
	c.store.Patch(ref, msgID, patch)

	// Final step regardless of outcome.
	c.clearPendingIf(convID, msgID)
	c.mu.Lock()
	delete(c.fresh, convID)
	c.mu.Unlock()
	c.setLoading(ref, false)
	c.notifyMessageByID(ref, msgID)
}
