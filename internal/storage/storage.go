// Package storage contains the object store for uploaded document content.
// Implementations must avoid using local disk and rely on streaming I/O only.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// User metadata keys attached to every uploaded object.
const (
	MetaOriginalFilename = "original-filename"
	MetaDetectedType     = "detected-type"
	MetaScanState        = "scan-state"
	MetaScanProvider     = "scan-provider"
)

// Scan states recorded under MetaScanState.
const (
	ScanStateClean    = "clean"
	ScanStateDegraded = "degraded"
	ScanStateSkipped  = "skipped"
	ScanStateThreat   = "threat"
)

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1 and the implementation
// will buffer/chunk as supported by the backend.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is an S3-compatible object storage client.
type Storage interface {
	// Put uploads an object under the given key using the provided reader and options.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Get retrieves an object's content as a streaming reader alongside its info.
	// A missing key yields an error wrapping ErrObjectNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Delete removes an object by key.
	Delete(ctx context.Context, key string) error
	// PresignGet returns a time-limited URL that can be used to download the object without credentials.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// UpdateMetadata replaces the user metadata of an existing object.
	UpdateMetadata(ctx context.Context, key string, meta map[string]string) error
}

// UploadMetadata builds the user metadata stored with a freshly validated upload.
func UploadMetadata(originalFilename, detectedType, scanState, provider string) map[string]string {
	m := map[string]string{
		MetaOriginalFilename: originalFilename,
		MetaScanState:        scanState,
	}
	if detectedType != "" {
		m[MetaDetectedType] = detectedType
	}
	if provider != "" {
		m[MetaScanProvider] = provider
	}
	return m
}

// WithScanState returns a copy of meta with the scan state and provider replaced.
func WithScanState(meta map[string]string, state, provider string) map[string]string {
	out := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		out[canonicalKey(k)] = v
	}
	out[MetaScanState] = state
	if provider != "" {
		out[MetaScanProvider] = provider
	}
	return out
}

// ScanState reads the recorded scan state from object metadata. S3 backends
// return user metadata keys in canonical header form, so lookup is case-insensitive.
func ScanState(meta map[string]string) string {
	for k, v := range meta {
		if canonicalKey(k) == MetaScanState {
			return v
		}
	}
	return ""
}

func canonicalKey(k string) string {
	return strings.ToLower(k)
}
