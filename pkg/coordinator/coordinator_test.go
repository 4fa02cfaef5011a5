package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/marionette/pkg/api"
	"github.com/go-go-golems/marionette/pkg/conversation"
	"github.com/go-go-golems/marionette/pkg/eventbus"
	"github.com/go-go-golems/marionette/pkg/stream"
)

type stubCreds struct {
	token   string
	present bool

	mu     sync.Mutex
	logins int
}

func (s *stubCreds) Token() string { return s.token }
func (s *stubCreds) Present() bool { return s.present }
func (s *stubCreds) RequireLogin() {
	s.mu.Lock()
	s.logins++
	s.mu.Unlock()
}

func (s *stubCreds) loginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

type stubRegistry struct {
	mu        sync.Mutex
	createErr error
	renameErr error
	seq       int
	created   []string
	renames   map[string]string
	docLists  map[string][]api.FileRecord
	codeLists map[string][]api.FileRecord
	keep      map[string]bool
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{
		renames:   map[string]string{},
		docLists:  map[string][]api.FileRecord{},
		codeLists: map[string][]api.FileRecord{},
		keep:      map[string]bool{},
	}
}

func (r *stubRegistry) CreateConversation(context.Context) (*ConversationInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.seq++
	id := fmt.Sprintf("conv-%d", r.seq)
	r.created = append(r.created, id)
	return &ConversationInfo{ID: id, Name: "New conversation"}, nil
}

func (r *stubRegistry) RenameConversation(_ context.Context, convID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.renameErr != nil {
		return r.renameErr
	}
	r.renames[convID] = name
	return nil
}

func (r *stubRegistry) SetFileLists(convID string, docFiles, codeFiles []api.FileRecord, keepOriginal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docLists[convID] = docFiles
	r.codeLists[convID] = codeFiles
	r.keep[convID] = keepOriginal
}

func (r *stubRegistry) nameOf(convID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renames[convID]
}

type stubModel struct{}

func (stubModel) DeploymentName() string { return "gpt-4o" }

type scriptedSub struct {
	msgs      chan string
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newScriptedSub() *scriptedSub {
	return &scriptedSub{
		msgs:   make(chan string, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *scriptedSub) Messages() <-chan string { return s.msgs }
func (s *scriptedSub) Err() <-chan error       { return s.errs }
func (s *scriptedSub) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *scriptedSub) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type stubOpener struct {
	mu      sync.Mutex
	openErr error
	urls    []string
	subs    []*scriptedSub
}

func (o *stubOpener) Open(_ context.Context, rawURL string) (stream.Subscription, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.urls = append(o.urls, rawURL)
	sub := newScriptedSub()
	o.subs = append(o.subs, sub)
	return sub, nil
}

func (o *stubOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.urls)
}

func (o *stubOpener) lastURL() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.urls) == 0 {
		return ""
	}
	return o.urls[len(o.urls)-1]
}

func (o *stubOpener) lastSub() *scriptedSub {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.subs) == 0 {
		return nil
	}
	return o.subs[len(o.subs)-1]
}

// fakeService is a scripted assistant backend for the request/response
// calls. Zero status values answer 200.
type fakeService struct {
	mu            sync.Mutex
	uploadStatus  int
	indexStatus   int
	sessionStatus int
	imageBody     string

	counts       map[string]int
	lastFileType string
	lastImage    map[string]string
}

func newFakeService() *fakeService {
	return &fakeService{counts: map[string]int{}, lastImage: map[string]string{}}
}

func (f *fakeService) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[path]
}

func (f *fakeService) fileType() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFileType
}

func (f *fakeService) imageField(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastImage[name]
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.counts[r.URL.Path]++
	f.mu.Unlock()

	status := func(s int) bool {
		if s != 0 {
			http.Error(w, "scripted failure", s)
			return false
		}
		return true
	}

	switch r.URL.Path {
	case "/api/upload":
		if !status(f.uploadStatus) {
			return
		}
		_ = r.ParseMultipartForm(1 << 20)
		f.mu.Lock()
		f.lastFileType = r.FormValue("file_type")
		f.mu.Unlock()
		var records []api.FileRecord
		for i, fh := range r.MultipartForm.File["files"] {
			records = append(records, api.FileRecord{
				ID:   fmt.Sprintf("file-%d", i+1),
				Name: fh.Filename,
				Size: fh.Size,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"files": records})
	case "/api/index":
		if !status(f.indexStatus) {
			return
		}
	case "/api/session":
		if !status(f.sessionStatus) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"sess-9"}`))
	case "/api/image":
		_ = r.ParseMultipartForm(1 << 20)
		f.mu.Lock()
		for _, k := range []string{"prompt", "size", "quality", "style", "token", "deployment_name"} {
			f.lastImage[k] = r.FormValue(k)
		}
		body := f.imageBody
		f.mu.Unlock()
		if body == "" {
			body = `{"url":"https://img.example/out.png","filename":"out.png","created_at":"2025-06-01T12:00:00Z"}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	case "/api/stop", "/api/health":
	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	coord    *Coordinator
	opener   *stubOpener
	registry *stubRegistry
	creds    *stubCreds
	service  *fakeService
	notifier *eventbus.Notifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	service := newFakeService()
	srv := httptest.NewServer(service)
	t.Cleanup(srv.Close)

	client, err := api.NewClient(api.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	env := &testEnv{
		opener:   &stubOpener{},
		registry: newStubRegistry(),
		creds:    &stubCreds{token: "tok", present: true},
		service:  service,
		notifier: eventbus.NewNotifier(),
	}
	t.Cleanup(env.notifier.Close)

	env.coord, err = New(Config{
		BaseCtx:     context.Background(),
		Store:       conversation.NewStore(),
		Modes:       conversation.NewRegister(),
		Client:      client,
		Opener:      env.opener,
		Credentials: env.creds,
		Registry:    env.registry,
		Model:       stubModel{},
		Notifier:    env.notifier,
	})
	require.NoError(t, err)
	return env
}

func (e *testEnv) waitIdle(t *testing.T, ref conversation.Ref) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, pending := e.coord.PendingMessage(ref.ID())
		return !pending && !e.coord.Store().Loading(ref)
	}, 2*time.Second, 10*time.Millisecond, "conversation did not return to idle")
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
