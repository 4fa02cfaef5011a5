package coordinator

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/go-go-golems/marionette/pkg/api"
	"github.com/go-go-golems/marionette/pkg/conversation"
)

// User-facing strings produced by the orchestrator.
const (
	filesSharedText   = "Files shared"
	uploadSuccessText = "Files uploaded successfully."
	uploadFailPrefix  = "File upload failed: "

	imageConversationTitle = "Image conversation"
	fileConversationTitle  = "File conversation"

	titleMaxRunes = 50
)

// ImageOptions carries the image-generation parameters of a submission.
// Zero fields fall back to the service defaults; Reference requests a
// variation of the supplied image.
type ImageOptions struct {
	Size      string
	Quality   string
	Style     string
	Reference *api.File
}

// SubmitInput is one user submission. The knowledge-base name, when
// relevant, comes from the tool-mode register rather than the input.
type SubmitInput struct {
	Text              string
	Files             []api.File
	Image             *ImageOptions
	KeepOriginalFiles bool
}

// Submit sequences one submission lifecycle: conversation acquisition,
// message materialization, upload, then query / image generation /
// finalization. It returns the (possibly newly created) conversation ref
// and whether the submission was accepted. A false return means no state
// changed.
func (c *Coordinator) Submit(ctx context.Context, ref conversation.Ref, in SubmitInput) (conversation.Ref, bool) {
	if ctx == nil {
		ctx = c.baseCtx
	}
	if !c.creds.Present() {
		c.creds.RequireLogin()
		return ref, false
	}

	text := strings.TrimSpace(in.Text)
	mode := c.modes.Get(ref)
	images, docs := api.PartitionFiles(in.Files)

	if text == "" && len(in.Files) == 0 && mode != conversation.ModeImageCreation {
		return ref, false
	}
	if mode == conversation.ModeImageCreation && text == "" {
		return ref, false
	}
	// Non-image attachments require an accompanying instruction.
	if len(docs) > 0 && text == "" {
		return ref, false
	}
	if !ref.IsDraft() && c.busy(ref) {
		c.log.Debug().Str("conv_id", ref.ID()).Msg("submission rejected: response in flight")
		return ref, false
	}

	if ref.IsDraft() {
		info, err := c.registry.CreateConversation(ctx)
		if err != nil || info == nil || info.ID == "" {
			c.log.Error().Err(err).Msg("conversation creation failed")
			return ref, false
		}
		ref = conversation.Existing(info.ID)
		c.modes.Promote(ref)
		mode = c.modes.Get(ref)
		c.mu.Lock()
		c.fresh[ref.ID()] = struct{}{}
		c.mu.Unlock()
		c.renameFromContent(ctx, ref, text, len(images) > 0)
	}
	convID := ref.ID()

	// Image attachments show up instantly, before any network call.
	for _, img := range images {
		m := c.store.Append(ref, conversation.RoleUser, img.DataURL(), conversation.StatusComplete, nil)
		c.notifyMessage(convID, m)
	}
	userContent := text
	if userContent == "" && len(in.Files) > 0 {
		userContent = filesSharedText
	}
	um := c.store.Append(ref, conversation.RoleUser, userContent, conversation.StatusComplete, nil)
	c.notifyMessage(convID, um)

	if len(docs) == 0 && text == "" && len(images) == 0 {
		return ref, true
	}

	asst := c.store.Append(ref, conversation.RoleAssistant, "", conversation.StatusStreaming, nil)
	c.registerPending(convID, asst.ID)
	c.setLoading(ref, true)
	c.notifyMessage(convID, asst)

	if len(docs) > 0 {
		c.store.Patch(ref, asst.ID, conversation.MessagePatch{IsUploadMessage: conversation.PatchFlag(true)})
		c.notifyMessageByID(ref, asst.ID)

		docRecs, codeRecs, err := c.runUpload(ctx, ref, docs, mode)
		if err != nil {
			c.log.Warn().Err(err).Str("conv_id", convID).Msg("upload failed, aborting submission")
			c.finalizeMessage(ref, asst.ID, uploadFailPrefix+err.Error())
			return ref, true
		}
		c.registry.SetFileLists(convID, docRecs, codeRecs, in.KeepOriginalFiles)
		c.store.Patch(ref, asst.ID, conversation.MessagePatch{IsUploadMessage: conversation.PatchFlag(false)})
		c.notifyMessageByID(ref, asst.ID)
	}

	switch {
	case mode == conversation.ModeImageCreation:
		c.store.Patch(ref, asst.ID, conversation.MessagePatch{IsImageGeneration: conversation.PatchFlag(true)})
		c.notifyMessageByID(ref, asst.ID)
		c.runImageGeneration(ctx, ref, asst.ID, text, in.Image)
	case text != "" || len(images) > 0:
		c.runQuery(ctx, ref, asst.ID, text, images, mode, in.KeepOriginalFiles)
	default:
		// Only non-image files were uploaded; nothing to stream.
		c.finalizeMessage(ref, asst.ID, uploadSuccessText)
	}
	return ref, true
}

// finalizeMessage resolves the assistant message with terminal text and
// restores the conversation to idle.
func (c *Coordinator) finalizeMessage(ref conversation.Ref, msgID, content string) {
	c.store.Patch(ref, msgID, conversation.MessagePatch{
		Content:           conversation.PatchContent(content),
		Status:            conversation.PatchStatus(conversation.StatusComplete),
		IsUploadMessage:   conversation.PatchFlag(false),
		IsImageGeneration: conversation.PatchFlag(false),
	})
	c.clearPendingIf(ref.ID(), msgID)
	c.setLoading(ref, false)
	c.notifyMessageByID(ref, msgID)
}

// renameFromContent derives a human-readable title from the submission and
// proposes it to the registry. This never blocks the message flow; failures
// are logged only.
func (c *Coordinator) renameFromContent(ctx context.Context, ref conversation.Ref, text string, hasImages bool) {
	title := deriveTitle(text, hasImages)
	if title == "" {
		return
	}
	if err := c.registry.RenameConversation(ctx, ref.ID(), title); err != nil {
		c.log.Warn().Err(err).Str("conv_id", ref.ID()).Msg("conversation rename failed")
	}
}

func deriveTitle(text string, hasImages bool) string {
	text = strings.TrimSpace(text)
	if text == "" {
		if hasImages {
			return imageConversationTitle
		}
		return fileConversationTitle
	}
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:titleMaxRunes])) + "..."
}
