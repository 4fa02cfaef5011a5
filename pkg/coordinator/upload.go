package coordinator

import (
	"context"

	"github.com/go-go-golems/marionette/pkg/api"
	"github.com/go-go-golems/marionette/pkg/conversation"
)

// File-type classification sent with the upload multipart request.
const (
	fileTypeDoc  = "doc"
	fileTypeCode = "code"
)

// runUpload performs the two-phase upload pipeline: post all files as one
// multipart request, then trigger indexing for document uploads. Code
// uploads never trigger indexing. The upload status moves
// idle → uploading → (indexing) → idle, with the last error recorded on
// failure.
func (c *Coordinator) runUpload(ctx context.Context, ref conversation.Ref, files []api.File, mode conversation.Mode) (docFiles, codeFiles []api.FileRecord, err error) {
	convID := ref.ID()
	fileType := fileTypeDoc
	if mode == conversation.ModeCodeAnalysis {
		fileType = fileTypeCode
	}

	c.setUploadStatus(ref, conversation.UploadUploading, "")
	records, err := c.client.UploadFiles(ctx, convID, c.creds.Token(), fileType, files)
	if err != nil {
		c.setUploadStatus(ref, conversation.UploadIdle, err.Error())
		return nil, nil, err
	}

	if fileType == fileTypeCode {
		c.setUploadStatus(ref, conversation.UploadIdle, "")
		return nil, records, nil
	}

	c.setUploadStatus(ref, conversation.UploadIndexing, "")
	if err := c.client.TriggerIndex(ctx, convID, c.creds.Token()); err != nil {
		c.setUploadStatus(ref, conversation.UploadIdle, err.Error())
		return nil, nil, err
	}
	c.setUploadStatus(ref, conversation.UploadIdle, "")
	return records, nil, nil
}
