package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/marionette/pkg/api"
	"github.com/go-go-golems/marionette/pkg/config"
	"github.com/go-go-golems/marionette/pkg/conversation"
	"github.com/go-go-golems/marionette/pkg/coordinator"
	"github.com/go-go-golems/marionette/pkg/eventbus"
	"github.com/go-go-golems/marionette/pkg/stream"
)

// envCredentials reads the bearer token from the environment. The login
// redirect of the browser client maps to a hint on stderr here.
type envCredentials struct{}

func (envCredentials) Token() string { return os.Getenv("MARIONETTE_TOKEN") }
func (envCredentials) Present() bool { return os.Getenv("MARIONETTE_TOKEN") != "" }
func (envCredentials) RequireLogin() {
	fmt.Fprintln(os.Stderr, "not authenticated: set MARIONETTE_TOKEN")
}

// localRegistry assigns conversation ids locally. A full deployment points
// the coordinator at the service's conversation registry instead.
type localRegistry struct{}

func (localRegistry) CreateConversation(context.Context) (*coordinator.ConversationInfo, error) {
	id := uuid.NewString()
	return &coordinator.ConversationInfo{ID: id, Name: "New conversation"}, nil
}

func (localRegistry) RenameConversation(_ context.Context, convID, name string) error {
	log.Info().Str("conv_id", convID).Str("name", name).Msg("conversation renamed")
	return nil
}

func (localRegistry) SetFileLists(convID string, docFiles, codeFiles []api.FileRecord, keepOriginal bool) {
	log.Info().Str("conv_id", convID).
		Int("doc_files", len(docFiles)).
		Int("code_files", len(codeFiles)).
		Bool("keep_original", keepOriginal).
		Msg("file lists updated")
}

type staticModel struct{ name string }

func (m staticModel) DeploymentName() string { return m.name }

func newChatCmd() *cobra.Command {
	var baseURL string
	var deployment string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat REPL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if baseURL != "" {
				cfg.BaseURL = baseURL
			}
			if deployment != "" {
				cfg.DeploymentName = deployment
			}
			return runChat(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "assistant service base URL")
	cmd.Flags().StringVar(&deployment, "deployment", "", "model deployment name")
	return cmd
}

func runChat(ctx context.Context, cfg *config.Config) error {
	client, err := api.NewClient(api.Config{
		BaseURL:       cfg.BaseURL,
		UploadPath:    cfg.UploadPath,
		IndexPath:     cfg.IndexPath,
		SessionPath:   cfg.SessionPath,
		StreamPath:    cfg.StreamPath,
		ImagePath:     cfg.ImagePath,
		StopPath:      cfg.StopPath,
		HealthPath:    cfg.HealthPath,
		HealthTimeout: cfg.HealthTimeout,
	})
	if err != nil {
		return err
	}
	if err := client.Health(ctx); err != nil {
		log.Warn().Err(err).Msg("service health check failed")
	}

	notifier := eventbus.NewNotifier()
	defer notifier.Close()

	coord, err := coordinator.New(coordinator.Config{
		BaseCtx:          ctx,
		Store:            conversation.NewStore(),
		Modes:            conversation.NewRegister(),
		Client:           client,
		Opener:           stream.NewSSEOpener(nil),
		Credentials:      envCredentials{},
		Registry:         localRegistry{},
		Model:            staticModel{name: cfg.DeploymentName},
		Notifier:         notifier,
		StagingThreshold: cfg.StagingThreshold,
	})
	if err != nil {
		return err
	}

	repl := &chatREPL{ctx: ctx, coord: coord, notifier: notifier, ref: conversation.Draft}
	return repl.run()
}

type chatREPL struct {
	ctx      context.Context
	coord    *coordinator.Coordinator
	notifier *eventbus.Notifier

	ref      conversation.Ref
	attached []api.File
	keep     bool
	printed  map[string]int
}

func (r *chatREPL) run() error {
	r.printed = map[string]int{}
	fmt.Println("marionette chat - /mode, /attach, /keep, /stop, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return nil
		case line == "/stop":
			r.coord.Stop(r.ctx, r.ref)
		case line == "/keep":
			r.keep = !r.keep
			fmt.Printf("keep original files: %v\n", r.keep)
		case strings.HasPrefix(line, "/mode"):
			r.setMode(strings.Fields(line)[1:])
		case strings.HasPrefix(line, "/attach "):
			r.attach(strings.TrimSpace(strings.TrimPrefix(line, "/attach ")))
		case line != "" || len(r.attached) > 0:
			r.submit(line)
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

func (r *chatREPL) setMode(args []string) {
	if len(args) == 0 {
		fmt.Println("usage: /mode code|web|image|kb <name>|off")
		return
	}
	switch args[0] {
	case "code":
		r.coord.Modes().SetMode(r.ref, conversation.ModeCodeAnalysis, true)
	case "web":
		r.coord.Modes().SetMode(r.ref, conversation.ModeWebSearch, true)
	case "image":
		r.coord.Modes().SetMode(r.ref, conversation.ModeImageCreation, true)
	case "kb":
		if len(args) < 2 {
			fmt.Println("usage: /mode kb <name>")
			return
		}
		r.coord.Modes().SetMode(r.ref, conversation.ModeKnowledgeBase, true)
		r.coord.Modes().SetKnowledgeBase(r.ref, args[1])
	case "off":
		mode := r.coord.Modes().Get(r.ref)
		r.coord.Modes().SetMode(r.ref, mode, false)
	default:
		fmt.Println("unknown mode:", args[0])
		return
	}
	fmt.Printf("mode: %s\n", r.coord.Modes().Get(r.ref))
}

func (r *chatREPL) attach(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println("attach failed:", err)
		return
	}
	r.attached = append(r.attached, api.File{Name: filepath.Base(path), Data: data})
	fmt.Printf("attached %s (%d bytes)\n", filepath.Base(path), len(data))
}

func (r *chatREPL) submit(text string) {
	wasDraft := r.ref.IsDraft()
	ref, ok := r.coord.Submit(r.ctx, r.ref, coordinator.SubmitInput{
		Text:              text,
		Files:             r.attached,
		KeepOriginalFiles: r.keep,
	})
	if !ok {
		fmt.Println("(submission rejected)")
		return
	}
	r.ref = ref
	r.attached = nil
	if wasDraft {
		go r.render(ref.ID())
	}
	r.waitForResponse(ref.ID())
}

// render prints assistant message updates as they stream in.
func (r *chatREPL) render(convID string) {
	events, err := r.notifier.Subscribe(r.ctx, convID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to subscribe to conversation events")
		return
	}
	for ev := range events {
		if ev.Type != eventbus.EventMessageUpsert || ev.Msg == nil || ev.Msg.Role != conversation.RoleAssistant {
			continue
		}
		already := r.printed[ev.Msg.ID]
		if len(ev.Msg.Content) > already {
			fmt.Print(ev.Msg.Content[already:])
			r.printed[ev.Msg.ID] = len(ev.Msg.Content)
		}
		if ev.Msg.Status == conversation.StatusComplete {
			if ev.Msg.Image != nil {
				fmt.Printf("[image] %s\n", ev.Msg.Image.URL)
			}
			fmt.Println()
		}
	}
}

// waitForResponse blocks until the pending response resolves so the prompt
// does not interleave with streamed output.
func (r *chatREPL) waitForResponse(convID string) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, ok := r.coord.PendingMessage(convID); !ok {
			return
		}
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
