// Package documents stores uploaded health documents and asks the triage
// function to extract intake fields from them.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/smarttriage/platform/pkg/classifier"
	"github.com/smarttriage/platform/pkg/common/logger"
	"github.com/smarttriage/platform/pkg/common/models"
	"github.com/smarttriage/platform/pkg/observability/metrics"
	"github.com/smarttriage/platform/pkg/patient"
)

var (
	ErrEmptyDocument    = errors.New("uploaded document is empty")
	ErrDocumentTooLarge = errors.New("uploaded document is too large")
)

type Service struct {
	blobs    BlobStore
	parser   classifier.Client
	maxBytes int64
}

func NewService(blobs BlobStore, parser classifier.Client, maxBytes int64) *Service {
	return &Service{blobs: blobs, parser: parser, maxBytes: maxBytes}
}

// Upload stores the document under a fresh random name keeping the original
// extension, then returns whatever fields the triage function could parse.
func (s *Service) Upload(ctx context.Context, filename, contentType string, r io.Reader) (models.ParsedDocument, error) {
	data, err := s.read(r)
	if err != nil {
		metrics.ObserveDocument(false)
		return models.ParsedDocument{}, err
	}

	path := BlobPath(filename)
	log := logger.FromContext(ctx).WithFields(map[string]interface{}{
		"path": path,
		"size": len(data),
	})

	if err := s.blobs.UploadBlob(ctx, path, contentType, data); err != nil {
		metrics.ObserveDocument(false)
		log.WithError(err).Error("failed to store document")
		return models.ParsedDocument{}, &patient.PersistenceError{Op: "upload", Err: err}
	}

	parsed, err := s.parser.ParseDocument(ctx, path)
	if err != nil {
		metrics.ObserveDocument(false)
		log.WithError(err).Warn("document stored but could not be parsed")
		if !classifier.IsRemoteProcedureError(err) {
			err = &classifier.RemoteProcedureError{Action: classifier.ActionParseDocument, Err: err}
		}
		return models.ParsedDocument{}, err
	}

	metrics.ObserveDocument(true)
	log.Info("document parsed")
	return parsed, nil
}

func (s *Service) read(r io.Reader) ([]byte, error) {
	if s.maxBytes > 0 {
		r = io.LimitReader(r, s.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrDocumentTooLarge, s.maxBytes)
	}
	return data, nil
}

// BlobPath is "<uuid>.<ext>", or just the uuid when filename has no extension.
func BlobPath(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		return uuid.New().String()
	}
	return uuid.New().String() + "." + strings.ToLower(ext)
}
