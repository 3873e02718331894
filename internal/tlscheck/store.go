package tlscheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.trai.ch/zerr"
)

// KV is the byte store under the Cache. It has no expiry of its own.
type KV interface {
	// Get returns ok=false when key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// OpenKV opens the backend selected by cfg.Storage.Backend.
func OpenKV(cfg Config) (KV, error) {
	switch cfg.Storage.Backend {
	case "leveldb":
		return openLevelKV(cfg.Storage.LevelDB.Path)
	case "memory":
		return openMemoryKV()
	case "redis":
		return openRedisKV(cfg)
	}
	return nil, zerr.With(ErrUnknownBackend, "backend", cfg.Storage.Backend)
}

// ---- leveldb ----

type levelKV struct {
	db *leveldb.DB
}

func openLevelKV(path string) (*levelKV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, zerr.Wrap(err, "failed to create leveldb directory")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to open leveldb"), "path", path)
	}
	return &levelKV{db: db}, nil
}

func openMemoryKV() (*levelKV, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to open in-memory leveldb")
	}
	return &levelKV{db: db}, nil
}

func (l *levelKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (l *levelKV) Set(_ context.Context, key string, value []byte) error {
	return l.db.Put([]byte(key), value, nil)
}

func (l *levelKV) Ping(context.Context) error {
	_, err := l.db.GetProperty("leveldb.stats")
	return err
}

// Keys lists stored keys that start with prefix.
func (l *levelKV) Keys(prefix string) ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *levelKV) Close() error {
	return l.db.Close()
}
