package history

import (
	"context"
	"errors"
	"os"

	"github.com/cockroachdb/pebble"
)

// PebbleBackend stores documents in a local pebble database.
type PebbleBackend struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the database in dir.
func OpenPebble(dir string) (*PebbleBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleBackend{db: db}, nil
}

func (p *PebbleBackend) Name() string { return "pebble" }

func (p *PebbleBackend) Put(_ context.Context, key string, doc []byte) error {
	return p.db.Set([]byte(key), doc, pebble.Sync)
}

func (p *PebbleBackend) Get(_ context.Context, key string) ([]byte, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Delete is a tombstone write; pebble treats deleting a missing key as success.
func (p *PebbleBackend) Delete(_ context.Context, key string) error {
	return p.db.Delete([]byte(key), pebble.Sync)
}

func (p *PebbleBackend) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
