// Package coordinator turns a user submission into the sequence of network
// operations behind one assistant response (optional session staging, file
// upload, indexing, a long-lived push stream) and folds the resulting
// events into per-conversation message state.
package coordinator

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/api"
	"github.com/go-go-golems/marionette/pkg/conversation"
	"github.com/go-go-golems/marionette/pkg/eventbus"
	"github.com/go-go-golems/marionette/pkg/stream"
)

// CredentialProvider supplies the bearer token. The coordinator never
// parses or validates the token itself; when no user is present it triggers
// the external login redirect and rejects the submission.
type CredentialProvider interface {
	Token() string
	Present() bool
	RequireLogin()
}

// ConversationInfo is the registry's record of a created conversation.
type ConversationInfo struct {
	ID   string
	Name string
}

// ConversationRegistry is the external collaborator owning the conversation
// list. Rename failures are logged, never surfaced.
type ConversationRegistry interface {
	CreateConversation(ctx context.Context) (*ConversationInfo, error)
	RenameConversation(ctx context.Context, convID, name string) error
	SetFileLists(convID string, docFiles, codeFiles []api.FileRecord, keepOriginal bool)
}

// ModelProvider supplies the currently selected model identifier.
type ModelProvider interface {
	DeploymentName() string
}

// pendingResponse marks which message an open stream is filling. Its
// existence is the authoritative in-flight signal; started latches the
// "response has started" transition so it fires at most once per response.
type pendingResponse struct {
	MessageID string
	started   bool
}

// Config wires the coordinator's collaborators.
type Config struct {
	BaseCtx     context.Context
	Store       *conversation.Store
	Modes       *conversation.Register
	Client      *api.Client
	Opener      stream.Opener
	Credentials CredentialProvider
	Registry    ConversationRegistry
	Model       ModelProvider
	// Notifier is optional; without it the coordinator still maintains all
	// state but emits no observer events.
	Notifier *eventbus.Notifier
	// StagingThreshold is the query text length above which a staging
	// session is created. Defaults to 1000 characters.
	StagingThreshold int
}

// Coordinator is the top-level entry point invoked by the UI.
type Coordinator struct {
	baseCtx          context.Context
	store            *conversation.Store
	modes            *conversation.Register
	client           *api.Client
	opener           stream.Opener
	creds            CredentialProvider
	registry         ConversationRegistry
	model            ModelProvider
	notifier         *eventbus.Notifier
	stagingThreshold int
	log              zerolog.Logger

	mu              sync.Mutex
	pending         map[string]*pendingResponse
	streams         map[string]stream.Subscription
	fresh           map[string]struct{}
	responseStarted bool
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("coordinator store is nil")
	}
	if cfg.Modes == nil {
		return nil, errors.New("coordinator tool-mode register is nil")
	}
	if cfg.Client == nil {
		return nil, errors.New("coordinator api client is nil")
	}
	if cfg.Opener == nil {
		return nil, errors.New("coordinator stream opener is nil")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("coordinator credential provider is nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("coordinator conversation registry is nil")
	}
	if cfg.Model == nil {
		return nil, errors.New("coordinator model provider is nil")
	}
	if cfg.BaseCtx == nil {
		cfg.BaseCtx = context.Background()
	}
	if cfg.StagingThreshold <= 0 {
		cfg.StagingThreshold = 1000
	}
	return &Coordinator{
		baseCtx:          cfg.BaseCtx,
		store:            cfg.Store,
		modes:            cfg.Modes,
		client:           cfg.Client,
		opener:           cfg.Opener,
		creds:            cfg.Credentials,
		registry:         cfg.Registry,
		model:            cfg.Model,
		notifier:         cfg.Notifier,
		stagingThreshold: cfg.StagingThreshold,
		log:              log.With().Str("component", "coordinator").Logger(),
		pending:          map[string]*pendingResponse{},
		streams:          map[string]stream.Subscription{},
		fresh:            map[string]struct{}{},
	}, nil
}

// Store exposes the conversation arena for read-only collaborators.
func (c *Coordinator) Store() *conversation.Store { return c.store }

// Modes exposes the tool-mode register.
func (c *Coordinator) Modes() *conversation.Register { return c.modes }

// PendingMessage returns the message id currently being filled for the
// conversation.
func (c *Coordinator) PendingMessage(convID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[convID]
	if !ok {
		return "", false
	}
	return p.MessageID, true
}

// ResponseStarted reports whether any content arrived for the active
// response; the UI uses it to switch from the empty-state layout to the
// transcript layout.
func (c *Coordinator) ResponseStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseStarted
}

// IsFresh reports whether the conversation was created by the current
// submission and has not yet completed a response.
func (c *Coordinator) IsFresh(convID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.fresh[convID]
	return ok
}

func (c *Coordinator) busy(ref conversation.Ref) bool {
	if c.store.Loading(ref) {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[ref.ID()]
	return ok
}

func (c *Coordinator) registerPending(convID, msgID string) {
	c.mu.Lock()
	c.pending[convID] = &pendingResponse{MessageID: msgID}
	c.mu.Unlock()
}

// clearPendingIf removes the pending entry only while it still points at
// msgID. It reports whether the entry was removed, which guards the race
// between normal completion and a delayed transport error callback.
func (c *Coordinator) clearPendingIf(convID, msgID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[convID]
	if !ok || p.MessageID != msgID {
		return false
	}
	delete(c.pending, convID)
	return true
}

func (c *Coordinator) markStarted(convID string) {
	c.mu.Lock()
	p, ok := c.pending[convID]
	if !ok || p.started {
		c.mu.Unlock()
		return
	}
	p.started = true
	c.responseStarted = true
	c.mu.Unlock()
	if c.notifier != nil {
		c.notifier.Publish(eventbus.Event{Type: eventbus.EventResponseStarted, ConvID: convID})
	}
}

// trackStream records the live subscription for the conversation, closing
// any previous one first. At most one live stream per conversation.
func (c *Coordinator) trackStream(convID string, sub stream.Subscription) {
	c.mu.Lock()
	prev := c.streams[convID]
	c.streams[convID] = sub
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

func (c *Coordinator) closeStream(convID string) {
	c.mu.Lock()
	sub := c.streams[convID]
	delete(c.streams, convID)
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// dropStreamIf discards the handle only if it still refers to sub.
func (c *Coordinator) dropStreamIf(convID string, sub stream.Subscription) {
	c.mu.Lock()
	if c.streams[convID] == sub {
		delete(c.streams, convID)
	}
	c.mu.Unlock()
	sub.Close()
}

func (c *Coordinator) setLoading(ref conversation.Ref, loading bool) {
	c.store.SetLoading(ref, loading)
	if c.notifier != nil {
		v := loading
		c.notifier.Publish(eventbus.Event{Type: eventbus.EventLoading, ConvID: ref.ID(), Load: &v})
	}
}

func (c *Coordinator) setUploadStatus(ref conversation.Ref, state conversation.UploadState, errText string) {
	c.store.SetUploadStatus(ref, state, errText)
	if c.notifier != nil {
		st := c.store.UploadStatus(ref)
		c.notifier.Publish(eventbus.Event{Type: eventbus.EventUploadStatus, ConvID: ref.ID(), Upload: &st})
	}
}

func (c *Coordinator) notifyMessage(convID string, msg conversation.Message) {
	if c.notifier == nil {
		return
	}
	m := msg
	c.notifier.Publish(eventbus.Event{Type: eventbus.EventMessageUpsert, ConvID: convID, Msg: &m})
}

func (c *Coordinator) notifyMessageByID(ref conversation.Ref, msgID string) {
	if c.notifier == nil {
		return
	}
	if msg, ok := c.store.Find(ref, msgID); ok {
		c.notifyMessage(ref.ID(), msg)
	}
}
