// Package blob reads and writes network dumps as whole objects, either on the
// local filesystem or in an S3-compatible bucket (AWS S3, MinIO).
//
// A location is a file path or an s3://bucket/key URL:
//
//	store, key, err := blob.Open(ctx, "s3://dumps/2024/case.yaml", cfg.S3)
//	rc, err := store.Get(ctx, key)
package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"evalgo.org/gridstore/internal/config"
)

// Store reads and writes whole objects by key.
type Store interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, r io.Reader) error
}

// Location is a parsed dump location.
type Location struct {
	// Bucket is empty for local files
	Bucket string
	Key    string
}

// IsS3 reports whether l names an object in a bucket.
func (l Location) IsS3() bool { return l.Bucket != "" }

func (l Location) String() string {
	if l.IsS3() {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return l.Key
}

// ParseLocation splits an s3://bucket/key URL. Anything else is a file path.
func ParseLocation(location string) (Location, error) {
	if location == "" {
		return Location{}, fmt.Errorf("empty location")
	}
	if !strings.HasPrefix(location, "s3://") {
		return Location{Key: location}, nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return Location{}, fmt.Errorf("invalid location %q: %w", location, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return Location{}, fmt.Errorf("invalid location %q: want s3://bucket/key", location)
	}
	return Location{Bucket: u.Host, Key: key}, nil
}

// Open returns the store serving location and the key to use with it.
func Open(ctx context.Context, location string, cfg config.S3Config, opts ...Option) (Store, string, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, "", err
	}
	if !loc.IsS3() {
		return Files{}, loc.Key, nil
	}
	s, err := NewS3(ctx, loc.Bucket, cfg, opts...)
	if err != nil {
		return nil, "", err
	}
	return s, loc.Key, nil
}
