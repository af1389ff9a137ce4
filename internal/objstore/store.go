// Package objstore abstracts the bundle transport used by replication.
//
// A Store holds opaque byte objects under slash-separated keys. Three
// implementations exist: a local directory for same-host replicas and
// development, an S3 bucket for wide distribution, and an in-memory
// store for tests. A missing key is reported by wrapping fs.ErrNotExist
// so callers can tell "not published yet" from a transport failure.
package objstore

import (
	"context"
)

// Store is the object transport shared by the sync publisher and applier.
//
// Keys are slash-separated paths. Put replaces the object under key;
// where the backend allows it the replacement is atomic, and a reader
// never observes a partial object. List returns the objects under
// prefix in ascending key order.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]Object, error)
}

// Object describes a stored object.
type Object struct {
	Key  string
	Size int64
}
