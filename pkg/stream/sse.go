package stream

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SSEOpener opens server-sent-event subscriptions over plain HTTP. Payloads
// are the data fields of the event stream; comments and other fields are
// ignored.
type SSEOpener struct {
	Client *http.Client
}

func NewSSEOpener(client *http.Client) *SSEOpener {
	if client == nil {
		client = &http.Client{}
	}
	return &SSEOpener{Client: client}
}

func (o *SSEOpener) Open(ctx context.Context, rawURL string) (Subscription, error) {
	readCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(readCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "building stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := o.Client.Do(req)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "opening stream")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		cancel()
		return nil, errors.Errorf("stream rejected: status %d", resp.StatusCode)
	}

	sub := &sseSubscription{
		cancel: cancel,
		body:   resp.Body,
		msgs:   make(chan string, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
		log:    log.With().Str("component", "stream").Logger(),
	}
	go sub.read()
	return sub, nil
}

type sseSubscription struct {
	cancel context.CancelFunc
	body   io.ReadCloser
	msgs   chan string
	errs   chan error
	closed chan struct{}
	log    zerolog.Logger

	closeOnce sync.Once
}

func (s *sseSubscription) Messages() <-chan string { return s.msgs }
func (s *sseSubscription) Err() <-chan error       { return s.errs }

func (s *sseSubscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		_ = s.body.Close()
	})
}

func (s *sseSubscription) read() {
	defer close(s.msgs)
	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
		select {
		case s.msgs <- data:
		case <-s.closed:
			return
		}
	}
	// The consumer closes the subscription after the termination token, so
	// reaching EOF here only counts as a transport error while the
	// subscription is still considered live.
	select {
	case <-s.closed:
		return
	default:
	}
	err := scanner.Err()
	if err == nil {
		err = errors.New("stream closed unexpectedly")
	}
	s.log.Debug().Err(err).Msg("stream read loop end")
	select {
	case s.errs <- err:
	default:
	}
}
