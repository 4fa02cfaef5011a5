package coordinator

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/marionette/pkg/api"
	"github.com/go-go-golems/marionette/pkg/conversation"
	"github.com/go-go-golems/marionette/pkg/eventbus"
	"github.com/go-go-golems/marionette/pkg/stream"
)

func TestSubmitTextStreamsResponse(t *testing.T) {
	env := newTestEnv(t)

	ref, ok := env.coord.Submit(context.Background(), conversation.Draft, SubmitInput{Text: "hello"})
	require.True(t, ok)
	require.False(t, ref.IsDraft())
	require.Equal(t, "conv-1", ref.ID())
	require.Equal(t, "hello", env.registry.nameOf("conv-1"))
	require.True(t, env.coord.IsFresh("conv-1"))

	msgs := env.coord.Store().Get(ref)
	require.Len(t, msgs, 2)
	require.Equal(t, conversation.RoleUser, msgs[0].Role)
	require.Equal(t, "hello", msgs[0].Content)
	require.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	require.Equal(t, conversation.StatusStreaming, msgs[1].Status)

	u, err := url.Parse(env.opener.lastURL())
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "conv-1", q.Get("chat_id"))
	require.Equal(t, "tok", q.Get("token"))
	require.Equal(t, "gpt-4o", q.Get("deployment_name"))
	require.Equal(t, "hello", q.Get("query"))
	require.False(t, q.Has("session_id"))

	sub := env.opener.lastSub()
	sub.msgs <- "hi"
	sub.msgs <- " there"
	sub.msgs <- stream.DoneToken

	env.waitIdle(t, ref)
	last, found := env.coord.Store().Last(ref)
	require.True(t, found)
	require.Equal(t, "hi there", last.Content)
	require.Equal(t, conversation.StatusComplete, last.Status)
	require.True(t, env.coord.ResponseStarted())
	require.False(t, env.coord.IsFresh("conv-1"))
}

func TestSubmitRejectsWhenBusy(t *testing.T) {
	env := newTestEnv(t)

	ref, ok := env.coord.Submit(context.Background(), conversation.Draft, SubmitInput{Text: "first"})
	require.True(t, ok)

	_, ok = env.coord.Submit(context.Background(), ref, SubmitInput{Text: "second"})
	require.False(t, ok)
	require.Len(t, env.coord.Store().Get(ref), 2)
	require.Equal(t, 1, env.opener.openCount())

	env.opener.lastSub().msgs <- stream.DoneToken
	env.waitIdle(t, ref)

	_, ok = env.coord.Submit(context.Background(), ref, SubmitInput{Text: "second"})
	require.True(t, ok)
}

func TestSubmitRejectsEmptySubmission(t *testing.T) {
	env := newTestEnv(t)
	_, ok := env.coord.Submit(context.Background(), conversation.Draft, SubmitInput{})
	require.False(t, ok)
	require.Empty(t, env.registry.created)
}

func TestSubmitRejectsDocsWithoutText(t *testing.T) {
	env := newTestEnv(t)
	_, ok := env.coord.Submit(context.Background(), conversation.Draft, SubmitInput{
		Files: []api.File{{Name: "report.pdf", Data: []byte("pdf")}},
	})
	require.False(t, ok)
	require.Zero(t, env.service.count("/api/upload"))
	require.Empty(t, env.registry.created)
}

func TestSubmitRejectsImageModeWithoutPrompt(t *testing.T) {
	env := newTestEnv(t)
	env.coord.Modes().SetMode(conversation.Draft, conversation.ModeImageCreation, true)
	_, ok := env.coord.Submit(context.Background(), conversation.Draft, SubmitInput{})
	require.False(t, ok)
	require.Zero(t, env.service.count("/api/image"))
}

func TestSubmitRequiresCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.creds.present = false
	_, ok := env.coord.Submit(context.Background(), conversation.Draft, SubmitInput{Text: "hello"})
	require.False(t, ok)
	require.Equal(t, 1, env.creds.loginCount())
	require.Empty(t, env.registry.created)
}

func TestSubmitConversationCreateFailure(t *testing.T) {
	env := newTestEnv(t)
	env.registry.createErr = errors.New("registry down")
	ref, ok := env.coord.Submit(context.Background(), conversation.Draft, SubmitInput{Text: "hello"})
	require.False(t, ok)
	require.True(t, ref.IsDraft())
	require.Empty(t, env.coord.Store().Get(conversation.Draft))
	require.Zero(t, env.opener.openCount())
}

func TestDeriveTitle(t *testing.T) {
	require.Equal(t, "hello", deriveTitle("hello", false))
	require.Equal(t, imageConversationTitle, deriveTitle("", true))
	require.Equal(t, fileConversationTitle, deriveTitle("", false))

	long := strings.Repeat("abcde ", 12)
	title := deriveTitle(long, false)
	require.True(t, strings.HasSuffix(title, "..."))
	require.LessOrEqual(t, len([]rune(title)), titleMaxRunes+3)
}

func TestNotifierObservesLifecycle(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The registry stub hands out deterministic ids, so the observer can
	// subscribe before the conversation exists.
	events, err := env.notifier.Subscribe(ctx, "conv-1")
	require.NoError(t, err)

	ref, ok := env.coord.Submit(context.Background(), conversation.Draft, SubmitInput{Text: "hello"})
	require.True(t, ok)

	sub := env.opener.lastSub()
	sub.msgs <- "hi"
	sub.msgs <- stream.DoneToken
	env.waitIdle(t, ref)

	var sawStarted, sawComplete bool
	deadline := time.After(2 * time.Second)
	for !sawStarted || !sawComplete {
		select {
		case ev := <-events:
			switch {
			case ev.Type == eventbus.EventResponseStarted:
				sawStarted = true
			case ev.Type == eventbus.EventMessageUpsert && ev.Msg != nil &&
				ev.Msg.Role == conversation.RoleAssistant && ev.Msg.Status == conversation.StatusComplete:
				sawComplete = true
			}
		case <-deadline:
			t.Fatalf("missing events: started=%v complete=%v", sawStarted, sawComplete)
		}
	}
}
