package api

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// StreamQuery carries the parameters of the server-push stream URL. The
// stream transport supports no custom headers, so the bearer token travels
// as a query parameter.
type StreamQuery struct {
	ChatID         string
	Token          string
	DeploymentName string

	// Exactly one of SessionID / Query ends up on the URL; SessionID wins
	// when both are set.
	SessionID string
	Query     string

	// Source selects mode-specific routing: "code", "web" or "kb.<name>".
	Source string

	KeepOriginalFiles bool
}

// StreamURL builds the push-stream URL for the query.
func (c *Client) StreamURL(sq StreamQuery) (string, error) {
	if strings.TrimSpace(sq.ChatID) == "" {
		return "", errors.New("stream URL requires a chat id")
	}
	q := url.Values{}
	q.Set("chat_id", sq.ChatID)
	q.Set("token", sq.Token)
	q.Set("deployment_name", sq.DeploymentName)
	if sq.SessionID != "" {
		q.Set("session_id", sq.SessionID)
	} else {
		q.Set("query", sq.Query)
	}
	if sq.Source != "" {
		q.Set("source", sq.Source)
	}
	if sq.KeepOriginalFiles {
		q.Set("keep_original_files", "true")
	}
	return c.endpoint(c.cfg.StreamPath, q), nil
}
