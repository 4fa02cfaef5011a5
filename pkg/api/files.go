package api

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// File is a binary attachment captured from the UI. URL is set instead of
// Data when the attachment is a pass-through reference the client never
// held bytes for.
type File struct {
	Name        string
	ContentType string
	Data        []byte
	URL         string
}

// FileRecord is the server's canonical description of an uploaded file. The
// server is authoritative for ids and names; the client never invents this
// metadata.
type FileRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// DetectedContentType resolves the file's content type: the explicit type
// if present, then the filename extension, then content sniffing.
func (f File) DetectedContentType() string {
	if f.ContentType != "" {
		return f.ContentType
	}
	if ext := strings.ToLower(filepath.Ext(f.Name)); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
			return ct
		}
	}
	if len(f.Data) > 0 {
		return http.DetectContentType(f.Data)
	}
	return "application/octet-stream"
}

// IsImage reports whether the attachment classifies as an image.
func (f File) IsImage() bool {
	return strings.HasPrefix(f.DetectedContentType(), "image/")
}

// DataURL renders the attachment as an inline base64 data URL, or returns
// the pass-through URL when one was provided.
func (f File) DataURL() string {
	if f.URL != "" {
		return f.URL
	}
	return fmt.Sprintf("data:%s;base64,%s", f.DetectedContentType(), base64.StdEncoding.EncodeToString(f.Data))
}

// PartitionFiles splits attachments into images and everything else.
func PartitionFiles(files []File) (images []File, others []File) {
	for _, f := range files {
		if f.IsImage() {
			images = append(images, f)
		} else {
			others = append(others, f)
		}
	}
	return images, others
}
