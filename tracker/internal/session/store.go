// Package session persists the authenticated browser session between runs
// so that a valid session skips the login sequence.
//
// The stored blob is opaque here: whether it is still valid is only known
// once the browser lands on an authenticated page.
package session

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no session has been saved yet.
var ErrNotFound = errors.New("session: no saved session")

// ErrCorrupt is returned by Load when a saved session cannot be decoded.
// Callers treat it like ErrNotFound: the run re-authenticates.
var ErrCorrupt = errors.New("session: saved session unreadable")

// Store loads and saves the session blob.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, state []byte) error
	Close() error
}

// Options selects and configures a Store backend.
type Options struct {
	// Backend is "file" (default) or "sqlite".
	Backend string
	// Path is the session file, or the database file for sqlite.
	Path string
	// Key identifies the session row in the sqlite backend (site identifier).
	Key string
	// Passphrase, when set, encrypts the blob at rest.
	Passphrase string
}

// Open returns the Store described by opts.
func Open(opts Options) (Store, error) {
	var s Store
	switch opts.Backend {
	case "", "file":
		s = NewFileStore(opts.Path)
	case "sqlite":
		db, err := OpenSQLite(opts.Path, opts.Key)
		if err != nil {
			return nil, err
		}
		s = db
	default:
		return nil, fmt.Errorf("session: unknown backend %q", opts.Backend)
	}

	if opts.Passphrase != "" {
		s = Seal(s, opts.Passphrase)
	}
	return s, nil
}
