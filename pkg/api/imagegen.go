package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Image generation defaults applied when the caller leaves options empty.
const (
	DefaultImageSize    = "1024x1024"
	DefaultImageQuality = "standard"
	DefaultImageStyle   = "vivid"
)

// GenerateImageRequest describes one non-streaming image generation call.
// Reference, when set, turns the call into a variation of that image.
type GenerateImageRequest struct {
	Prompt         string
	Size           string
	Quality        string
	Style          string
	Token          string
	DeploymentName string
	Reference      *File
}

// GenerateImageResult is the server's answer. Either URL or Error is set; a
// populated Error on a 2xx response is a server-side generation failure the
// UI surfaces as message text.
type GenerateImageResult struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
	Error     string    `json:"error"`
}

// GenerateImage posts the prompt and options as multipart form data and
// awaits the single JSON result.
func (c *Client) GenerateImage(ctx context.Context, in GenerateImageRequest) (*GenerateImageResult, error) {
	if in.Size == "" {
		in.Size = DefaultImageSize
	}
	if in.Quality == "" {
		in.Quality = DefaultImageQuality
	}
	if in.Style == "" {
		in.Style = DefaultImageStyle
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fields := map[string]string{
		"prompt":          in.Prompt,
		"size":            in.Size,
		"quality":         in.Quality,
		"style":           in.Style,
		"token":           in.Token,
		"deployment_name": in.DeploymentName,
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, errors.Wrapf(err, "writing %s field", name)
		}
	}
	if in.Reference != nil {
		part, err := w.CreatePart(filePartHeader("image", *in.Reference))
		if err != nil {
			return nil, errors.Wrap(err, "creating reference image part")
		}
		if _, err := part.Write(in.Reference.Data); err != nil {
			return nil, errors.Wrap(err, "writing reference image part")
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "closing multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.cfg.ImagePath, nil), body)
	if err != nil {
		return nil, errors.Wrap(err, "building image generation request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "image generation request")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ImageGenError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var result GenerateImageResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "decoding image generation response")
	}
	return &result, nil
}
