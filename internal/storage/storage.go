// Package storage turns media references found in query results into links
// a browser can fetch: remote objects are presigned, local paths are routed
// through the file endpoint.
package storage

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/smoosense/smoosense/pkg/types"
)

// Presigner issues time-limited GET URLs for objects in a bucket.
type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string) (string, error)
}

// MediaLinker implements format.Linker. It works on strings only and never
// opens files.
type MediaLinker struct {
	fileEndpoint string
	presigner    Presigner

	// base is the root-relative path of the dataset that relative
	// references are resolved against
	base string
}

// NewMediaLinker creates a linker routing local media to fileEndpoint,
// e.g. "/api/file". presigner may be nil, in which case s3:// references
// get no link.
func NewMediaLinker(fileEndpoint string, presigner Presigner) *MediaLinker {
	return &MediaLinker{fileEndpoint: fileEndpoint, presigner: presigner}
}

// ForDataset returns a linker resolving relative references against the
// dataset at relPath.
func (l *MediaLinker) ForDataset(relPath string) *MediaLinker {
	cp := *l
	cp.base = relPath
	return &cp
}

// Link returns the fetchable URL of ref.
func (l *MediaLinker) Link(ctx context.Context, ref string, _ types.SemanticTag) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}

	scheme, rest, hasScheme := strings.Cut(ref, "://")
	if !hasScheme {
		return l.fileLink(ref), true
	}

	switch strings.ToLower(scheme) {
	case "http", "https":
		return ref, true
	case "s3":
		if l.presigner == nil {
			return "", false
		}
		bucket, key, ok := ParseS3URI(ref)
		if !ok {
			return "", false
		}
		href, err := l.presigner.PresignGet(ctx, bucket, key)
		if err != nil {
			slog.Warn("Failed to presign media reference.", "bucket", bucket, "key", key, "error", err)
			return "", false
		}
		return href, true
	case "gs":
		return "https://storage.googleapis.com/" + rest, true
	case "file":
		return l.fileLink(rest), true
	}
	return "", false
}

func (l *MediaLinker) fileLink(path string) string {
	q := url.Values{}
	q.Set("path", path)
	if l.base != "" && !strings.HasPrefix(path, "/") {
		q.Set("base", l.base)
	}
	return l.fileEndpoint + "?" + q.Encode()
}

// ParseS3URI splits "s3://bucket/key" into bucket and key.
func ParseS3URI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		if rest, found = strings.CutPrefix(uri, "S3://"); !found {
			return "", "", false
		}
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
