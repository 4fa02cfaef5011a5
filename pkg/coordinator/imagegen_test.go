package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/marionette/pkg/api"
	"github.com/go-go-golems/marionette/pkg/conversation"
)

func TestImageGenerationProducesImageMessage(t *testing.T) {
	env := newTestEnv(t)
	env.coord.Modes().SetMode(conversation.Draft, conversation.ModeImageCreation, true)

	ref, ok := env.coord.Submit(context.Background(), conversation.Draft, SubmitInput{Text: "a red fox"})
	require.True(t, ok)
	require.Equal(t, "a red fox", env.registry.nameOf(ref.ID()))

	require.Equal(t, "a red fox", env.service.imageField("prompt"))
	require.Equal(t, api.DefaultImageSize, env.service.imageField("size"))
	require.Equal(t, api.DefaultImageQuality, env.service.imageField("quality"))
	require.Equal(t, api.DefaultImageStyle, env.service.imageField("style"))
	require.Equal(t, "tok", env.service.imageField("token"))
	require.Equal(t, "gpt-4o", env.service.imageField("deployment_name"))

	last, found := env.coord.Store().Last(ref)
	require.True(t, found)
	require.Equal(t, conversation.StatusComplete, last.Status)
	require.Empty(t, last.Content)
	require.NotNil(t, last.Image)
	require.Equal(t, "https://img.example/out.png", last.Image.URL)
	require.Equal(t, "a red fox", last.Image.Prompt)
	require.Equal(t, "out.png", last.Image.Filename)
	require.False(t, last.Image.IsVariation)
	require.False(t, last.IsImageGeneration)

	env.waitIdle(t, ref)
	require.Zero(t, env.opener.openCount())
	require.False(t, env.coord.IsFresh(ref.ID()))
}

func TestImageGenerationVariation(t *testing.T) {
	env := newTestEnv(t)
	env.coord.Modes().SetMode(conversation.Draft, conversation.ModeImageCreation, true)

	base := api.File{Name: "base.png", ContentType: "image/png", Data: []byte{0x89}}
	ref, ok := env.coord.Submit(context.Background(), conversation.Draft, SubmitInput{
		Text: "make it snowy",
		Image: &ImageOptions{
			Size:      "512x512",
			Quality:   "hd",
			Style:     "natural",
			Reference: &base,
		},
	})
	require.True(t, ok)

	require.Equal(t, "512x512", env.service.imageField("size"))
	require.Equal(t, "hd", env.service.imageField("quality"))
	require.Equal(t, "natural", env.service.imageField("style"))

	last, _ := env.coord.Store().Last(ref)
	require.NotNil(t, last.Image)
	require.True(t, last.Image.IsVariation)
	env.waitIdle(t, ref)
}

func TestImageGenerationServerError(t *testing.T) {
	env := newTestEnv(t)
	env.coord.Modes().SetMode(conversation.Draft, conversation.ModeImageCreation, true)
	env.service.mu.Lock()
	env.service.imageBody = `{"error":"content policy violation"}`
	env.service.mu.Unlock()

	ref, ok := env.coord.Submit(context.Background(), conversation.Draft, SubmitInput{Text: "nope"})
	require.True(t, ok)

	last, _ := env.coord.Store().Last(ref)
	require.Equal(t, "content policy violation", last.Content)
	require.Equal(t, conversation.StatusComplete, last.Status)
	require.Nil(t, last.Image)
	env.waitIdle(t, ref)
}
