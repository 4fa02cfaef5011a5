package coordinator

import (
	"context"
	"unicode/utf8"

	"github.com/go-go-golems/marionette/pkg/api"
	"github.com/go-go-golems/marionette/pkg/conversation"
)

// runQuery decides whether the submission needs a staging session, builds
// the stream URL and opens the push connection that fills msgID.
func (c *Coordinator) runQuery(ctx context.Context, ref conversation.Ref, msgID, text string, images []api.File, mode conversation.Mode, keepOriginalFiles bool) {
	convID := ref.ID()
	token := c.creds.Token()
	qlog := c.log.With().Str("conv_id", convID).Str("message_id", msgID).Logger()

	// Long text and image payloads do not fit in URL query parameters, so
	// they are staged server-side first. Staging is best effort: on failure
	// we fall back to the direct query rather than aborting.
	sessionID := ""
	if utf8.RuneCountInString(text) > c.stagingThreshold || len(images) > 0 {
		sid, err := c.client.CreateSession(ctx, convID, token, text, images)
		if err != nil {
			qlog.Warn().Err(err).Msg("session staging failed, falling back to direct query")
		} else {
			sessionID = sid
		}
	}

	sq := api.StreamQuery{
		ChatID:            convID,
		Token:             token,
		DeploymentName:    c.model.DeploymentName(),
		SessionID:         sessionID,
		KeepOriginalFiles: keepOriginalFiles,
	}
	if sessionID == "" {
		sq.Query = text
	}
	switch mode {
	case conversation.ModeCodeAnalysis:
		sq.Source = "code"
	case conversation.ModeWebSearch:
		sq.Source = "web"
	case conversation.ModeKnowledgeBase:
		if name := c.modes.KnowledgeBase(ref); name != "" {
			sq.Source = "kb." + name
		}
	}

	rawURL, err := c.client.StreamURL(sq)
	if err != nil {
		qlog.Error().Err(err).Msg("failed to build stream URL")
		c.finalizeMessage(ref, msgID, streamFailText)
		return
	}

	c.closeStream(convID)
	// The subscription outlives the submitting call, so it binds to the
	// coordinator's base context rather than the request context.
	sub, err := c.opener.Open(c.baseCtx, rawURL)
	if err != nil {
		qlog.Error().Err(err).Msg("failed to open stream")
		c.finalizeMessage(ref, msgID, streamFailText)
		return
	}
	c.trackStream(convID, sub)
	go c.consumeStream(convID, msgID, sub)
}
