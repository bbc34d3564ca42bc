// Package store persists continuation tokens so lists can resume following
// a collection's tail after a restart.
package store

import (
	"errors"
	"fmt"

	"github.com/dgnsrekt/servalsync/internal/feed"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendNone   = "none"
)

// ErrUnknownBackend is returned by Open for an unrecognised backend name.
var ErrUnknownBackend = errors.New("unknown token store backend")

// TokenStore is a feed.TokenStore that holds resources.
type TokenStore interface {
	feed.TokenStore
	Close() error
}

// Open returns the token store for backend rooted at path. BackendNone
// returns a nil store and no error.
func Open(backend, path string) (TokenStore, error) {
	switch backend {
	case BackendSQLite:
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendFile:
		return NewFile(path), nil
	case BackendNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

var (
	_ TokenStore = (*SQLite)(nil)
	_ TokenStore = (*File)(nil)
)
