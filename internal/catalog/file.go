package catalog

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/edvin/statekeeper/internal/lock"
	"github.com/edvin/statekeeper/internal/model"
)

const (
	opAppend = "append"
	opRemove = "remove"
)

// fileLockTimeout bounds how long a writer waits for another process
// appending to the same catalog document.
const fileLockTimeout = 30 * time.Second

// fileLine is one line of an environment's catalog document. Appends carry the
// full record; removals carry the record ID and the time of removal.
type fileLine struct {
	Op string `json:"op"`
	model.Record
}

// FileStore keeps one JSON Lines document per environment. The document is
// only ever appended to: pruning appends a removal line rather than rewriting
// earlier entries. Writers hold a host-wide mutex per document while they
// read and append, so sequence numbers stay unique across processes.
type FileStore struct {
	dir    string
	now    func() time.Time
	locker *lock.MutexLocker
}

// NewFileStore creates a FileStore writing <dir>/<environment>.jsonl.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		dir:    dir,
		now:    time.Now,
		locker: lock.NewMutexLocker(fileLockPrefix(dir), fileLockTimeout),
	}
}

// fileLockPrefix derives a mutex name prefix from the catalog directory, so
// two catalogs on one host do not contend.
func fileLockPrefix(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	sum := sha256.Sum256([]byte(dir))
	return "skcat-" + hex.EncodeToString(sum[:4])
}

// exclusive runs fn while holding the writer mutex for env's document.
func (s *FileStore) exclusive(ctx context.Context, env model.Environment, fn func() error) error {
	lease, err := s.locker.Acquire(ctx, env)
	if err != nil {
		return fmt.Errorf("lock catalog %s: %w", env, err)
	}
	defer lease.Release(ctx)
	return fn()
}

func (s *FileStore) path(env model.Environment) string {
	return filepath.Join(s.dir, string(env)+".jsonl")
}

func (s *FileStore) Append(ctx context.Context, rec model.Record) (model.Record, error) {
	err := s.exclusive(ctx, rec.Environment, func() error {
		live, maxSeq, err := s.read(rec.Environment)
		if err != nil {
			return err
		}
		for _, r := range live {
			if r.ID == rec.ID {
				return fmt.Errorf("duplicate record id %s", rec.ID)
			}
		}
		rec.Seq = maxSeq + 1
		return s.write(rec.Environment, fileLine{Op: opAppend, Record: rec})
	})
	if err != nil {
		return model.Record{}, err
	}
	return rec, nil
}

func (s *FileStore) Load(_ context.Context, envs []model.Environment) ([]model.Record, error) {
	var all []model.Record
	for _, env := range envs {
		recs, _, err := s.read(env)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

func (s *FileStore) Remove(ctx context.Context, env model.Environment, id string) error {
	return s.exclusive(ctx, env, func() error {
		live, _, err := s.read(env)
		if err != nil {
			return err
		}
		found := false
		for _, r := range live {
			if r.ID == id {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s in %s", ErrNotFound, id, env)
		}
		return s.write(env, fileLine{Op: opRemove, Record: model.Record{
			ID:          id,
			Environment: env,
			Timestamp:   s.now().UTC().Truncate(model.TimestampPrecision),
		}})
	})
}

// read folds the document into the live records, in insertion order, and
// returns the highest sequence number seen.
func (s *FileStore) read(env model.Environment) ([]model.Record, int64, error) {
	f, err := os.Open(s.path(env))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open catalog %s: %w", env, err)
	}
	defer f.Close()

	var (
		order   []string
		seen    = map[string]bool{}
		records = map[string]model.Record{}
		maxSeq  int64
		lineNo  int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var l fileLine
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, 0, fmt.Errorf("parse catalog %s line %d: %w", env, lineNo, err)
		}
		switch l.Op {
		case opAppend:
			if !seen[l.ID] {
				seen[l.ID] = true
				order = append(order, l.ID)
			}
			records[l.ID] = l.Record
			if l.Seq > maxSeq {
				maxSeq = l.Seq
			}
		case opRemove:
			delete(records, l.ID)
		default:
			return nil, 0, fmt.Errorf("parse catalog %s line %d: unknown op %q", env, lineNo, l.Op)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read catalog %s: %w", env, err)
	}

	live := make([]model.Record, 0, len(records))
	for _, id := range order {
		if r, ok := records[id]; ok {
			live = append(live, r)
		}
	}
	return live, maxSeq, nil
}

func (s *FileStore) write(env model.Environment, l fileLine) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode catalog line: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path(env), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open catalog %s: %w", env, err)
	}
	// One write per line keeps concurrent appenders from interleaving.
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append catalog %s: %w", env, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync catalog %s: %w", env, err)
	}
	return f.Close()
}
