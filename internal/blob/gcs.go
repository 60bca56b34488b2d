package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"github.com/auditkit/guideline-rag/internal/apperr"
)

// GCSStore stores blobs as objects in a Google Cloud Storage bucket.
// Credentials come from Application Default Credentials.
type GCSStore struct {
	svc    *storage.Service
	bucket string
	prefix string
}

var _ Store = (*GCSStore)(nil)

// NewGCSStore creates a GCS-backed store. prefix, when non-empty, is
// prepended to every object name.
func NewGCSStore(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, apperr.Config("blob.gcs", "bucket name is empty")
	}
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.Unavailable("blob.gcs", fmt.Errorf("create storage service: %w", err))
	}
	return &GCSStore{svc: svc, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSStore) object(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// isNotFound reports whether the API error is a 404.
func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// Exists reports whether the object is present.
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.svc.Objects.Get(s.bucket, s.object(key)).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, apperr.Unavailable("blob.exists", err)
	}
	return true, nil
}

// Get downloads the object bytes.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.svc.Objects.Get(s.bucket, s.object(key)).Context(ctx).Download()
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound("blob.get", fmt.Sprintf("key %q not found", key))
		}
		return nil, apperr.Unavailable("blob.get", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Unavailable("blob.get", err)
	}
	return data, nil
}

// Put uploads the object, replacing any existing value.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	obj := &storage.Object{Name: s.object(key)}
	_, err := s.svc.Objects.Insert(s.bucket, obj).
		Media(bytes.NewReader(data)).
		Context(ctx).
		Do()
	if err != nil {
		return apperr.Unavailable("blob.put", err)
	}
	return nil
}

// Delete removes the object. Absent keys are not an error.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.svc.Objects.Delete(s.bucket, s.object(key)).Context(ctx).Do()
	if err != nil && !isNotFound(err) {
		return apperr.Unavailable("blob.delete", err)
	}
	return nil
}
