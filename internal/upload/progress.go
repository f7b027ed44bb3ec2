package upload

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// ProgressCache accelerates Probe by answering "is this chunk already
// written" from an embedded badger/v4 store instead of a filesystem
// Stat call. It is strictly a cache: a miss or any internal error falls
// back to the filesystem check in Probe, since the chunk directory on
// disk is the only source of truth (spec.md §4.3 concurrency notes —
// state lives on disk so restarts are recoverable; this cache is an
// optimization layered on top, not a replacement).
type ProgressCache struct {
	db *badger.DB
}

// OpenProgressCache opens (or creates) a badger database at dir.
func OpenProgressCache(dir string) (*ProgressCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &ProgressCache{db: db}, nil
}

func (p *ProgressCache) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func progressKey(identifier string, chunkNumber int) []byte {
	return []byte(fmt.Sprintf("chunk:%s:%d", identifier, chunkNumber))
}

// Has returns (present, ok): a stored entry gives (true, true), a missing
// key gives (false, true), and an internal error gives ok false. Probe
// trusts only (true, true) and checks disk in every other case.
func (p *ProgressCache) Has(identifier string, chunkNumber int) (present bool, ok bool) {
	if p == nil || p.db == nil {
		return false, false
	}
	err := p.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(progressKey(identifier, chunkNumber))
		return err
	})
	if err == nil {
		return true, true
	}
	if err == badger.ErrKeyNotFound {
		return false, true
	}
	return false, false
}

// MarkPresent records that a chunk has been durably written. Failures are
// swallowed: this is an accelerator, not a correctness requirement.
func (p *ProgressCache) MarkPresent(identifier string, chunkNumber int) {
	if p == nil || p.db == nil {
		return
	}
	_ = p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(progressKey(identifier, chunkNumber), []byte{1})
	})
}

// ForgetUpload removes every cached chunk entry for identifier once an
// upload has committed or been abandoned, keeping the cache from growing
// unbounded across the lifetime of the process.
func (p *ProgressCache) ForgetUpload(identifier string, totalChunks int) {
	if p == nil || p.db == nil {
		return
	}
	_ = p.db.Update(func(txn *badger.Txn) error {
		for n := 1; n <= totalChunks; n++ {
			if err := txn.Delete(progressKey(identifier, n)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}
