package api

import "fmt"

// UploadError reports a rejected multipart upload. StatusCode and Body are
// the server's authoritative answer; callers surface Body to the user.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: status %d: %s", e.StatusCode, e.Body)
}

// IndexError reports a failed index-trigger call after a document upload.
type IndexError struct {
	StatusCode int
	Body       string
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("indexing failed: status %d: %s", e.StatusCode, e.Body)
}

// SessionStageError reports a failed staging-session creation. Staging is a
// best-effort optimization; callers fall back to direct querying.
type SessionStageError struct {
	StatusCode int
	Body       string
}

func (e *SessionStageError) Error() string {
	return fmt.Sprintf("session staging failed: status %d: %s", e.StatusCode, e.Body)
}

// ImageGenError reports a transport-level image generation failure. A 2xx
// response carrying a server-side error text is not an ImageGenError; it is
// returned as a result with the Error field set.
type ImageGenError struct {
	StatusCode int
	Body       string
}

func (e *ImageGenError) Error() string {
	return fmt.Sprintf("image generation failed: status %d: %s", e.StatusCode, e.Body)
}
