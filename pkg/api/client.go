package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the assistant service endpoints. Only BaseURL is required;
// paths default to the service's conventional layout.
type Config struct {
	BaseURL string

	UploadPath  string
	IndexPath   string
	SessionPath string
	StreamPath  string
	ImagePath   string
	StopPath    string
	HealthPath  string

	HTTPClient *http.Client
	// HealthTimeout bounds identity/health probes. Other calls rely on the
	// HTTPClient's transport limits.
	HealthTimeout time.Duration
}

// Client issues the coordinator's request/response calls: upload, index
// trigger, session staging, image generation, stop and health. The
// long-lived push stream is not opened here; StreamURL builds its URL and
// the stream package owns the connection.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("api client base URL is empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}
	if cfg.UploadPath == "" {
		cfg.UploadPath = "/api/upload"
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = "/api/index"
	}
	if cfg.SessionPath == "" {
		cfg.SessionPath = "/api/session"
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = "/api/stream"
	}
	if cfg.ImagePath == "" {
		cfg.ImagePath = "/api/image"
	}
	if cfg.StopPath == "" {
		cfg.StopPath = "/api/stop"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/api/health"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: cfg.HTTPClient,
		log:  log.With().Str("component", "api").Logger(),
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// UploadFiles posts every attachment as one multipart request with the
// file_type classification. The returned records are the server's canonical
// file metadata.
func (c *Client) UploadFiles(ctx context.Context, convID, token, fileType string, files []File) ([]FileRecord, error) {
	if len(files) == 0 {
		return nil, errors.New("no files to upload")
	}
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, f := range files {
		part, err := w.CreatePart(filePartHeader("files", f))
		if err != nil {
			return nil, errors.Wrap(err, "creating upload part")
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, errors.Wrap(err, "writing upload part")
		}
	}
	if err := w.WriteField("file_type", fileType); err != nil {
		return nil, errors.Wrap(err, "writing file_type field")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "closing multipart body")
	}

	q := url.Values{}
	q.Set("chat_id", convID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.cfg.UploadPath, q), body)
	if err != nil {
		return nil, errors.Wrap(err, "building upload request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "upload request")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UploadError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var parsed struct {
		Files []FileRecord `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "decoding upload response")
	}
	c.log.Debug().Str("conv_id", convID).Str("file_type", fileType).Int("count", len(parsed.Files)).Msg("upload complete")
	return parsed.Files, nil
}

// TriggerIndex asks the server to index the conversation's uploaded
// documents. Only document uploads are indexed; code uploads skip this.
func (c *Client) TriggerIndex(ctx context.Context, convID, token string) error {
	q := url.Values{}
	q.Set("chat_id", convID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.cfg.IndexPath, q), nil)
	if err != nil {
		return errors.Wrap(err, "building index request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "index request")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &IndexError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return nil
}

// CreateSession stages a large query payload (long text or images) server
// side and returns the session id to pass on the stream URL instead of the
// raw query text.
func (c *Client) CreateSession(ctx context.Context, convID, token, text string, images []File) (string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if err := w.WriteField("chat_id", convID); err != nil {
		return "", errors.Wrap(err, "writing chat_id field")
	}
	if err := w.WriteField("text", text); err != nil {
		return "", errors.Wrap(err, "writing text field")
	}
	for _, img := range images {
		part, err := w.CreatePart(filePartHeader("images", img))
		if err != nil {
			return "", errors.Wrap(err, "creating image part")
		}
		if _, err := part.Write(img.Data); err != nil {
			return "", errors.Wrap(err, "writing image part")
		}
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "closing multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.cfg.SessionPath, nil), body)
	if err != nil {
		return "", errors.Wrap(err, "building session request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "session request")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &SessionStageError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var parsed struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "decoding session response")
	}
	if parsed.SessionID == "" {
		return "", &SessionStageError{StatusCode: resp.StatusCode, Body: "empty session id"}
	}
	return parsed.SessionID, nil
}

// Stop sends the best-effort cancellation signal for the conversation's
// in-flight response.
func (c *Client) Stop(ctx context.Context, convID, token string) error {
	q := url.Values{}
	q.Set("chat_id", convID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.cfg.StopPath, q), nil)
	if err != nil {
		return errors.Wrap(err, "building stop request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "stop request")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("stop failed: status %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	return nil
}

// Health probes the service with a short deadline. It is the only call with
// a client-enforced timeout.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.cfg.HealthPath, nil), nil)
	if err != nil {
		return errors.Wrap(err, "building health request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "health request")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func filePartHeader(field string, f File) textproto.MIMEHeader {
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition",
		`form-data; name="`+escapeQuotes(field)+`"; filename="`+escapeQuotes(f.Name)+`"`)
	h.Set("Content-Type", f.DetectedContentType())
	return h
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(b))
}
