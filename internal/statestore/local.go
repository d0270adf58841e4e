package statestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/edvin/statekeeper/internal/model"
)

const (
	localStateFile  = "terraform.tfstate"
	localVersionDir = "versions"
)

// LocalStore keeps state on a local or mounted filesystem, one directory per
// environment, with every put also retained under versions/.
type LocalStore struct {
	root string
	now  func() time.Time
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{root: dir, now: time.Now}
}

func (s *LocalStore) statePath(env model.Environment) string {
	return filepath.Join(s.root, string(env), localStateFile)
}

func (s *LocalStore) Location(env model.Environment) string {
	return "file://" + s.statePath(env)
}

func (s *LocalStore) Get(_ context.Context, env model.Environment) ([]byte, error) {
	data, err := os.ReadFile(s.statePath(env))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", env, err)
	}
	return data, nil
}

func (s *LocalStore) Put(_ context.Context, env model.Environment, blob []byte) error {
	dir := filepath.Join(s.root, string(env))
	versions := filepath.Join(dir, localVersionDir)
	if err := os.MkdirAll(versions, 0o750); err != nil {
		return fmt.Errorf("create state dir %s: %w", env, err)
	}

	versionPath, err := createExclusive(versions, s.now().UTC().Format("20060102T150405.000000000Z"), blob)
	if err != nil {
		return fmt.Errorf("write state version %s: %w", env, err)
	}

	tmp := s.statePath(env) + ".tmp"
	if err := writeFileSync(tmp, blob); err != nil {
		return fmt.Errorf("write state %s: %w", env, err)
	}
	if err := os.Rename(tmp, s.statePath(env)); err != nil {
		_ = os.Remove(tmp)
		_ = os.Remove(versionPath)
		return fmt.Errorf("replace state %s: %w", env, err)
	}
	return nil
}

func (s *LocalStore) ListVersions(_ context.Context, env model.Environment) ([]model.BlobRef, error) {
	dir := filepath.Join(s.root, string(env), localVersionDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list state versions %s: %w", env, err)
	}

	var refs []model.BlobRef
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tfstate") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat state version %s: %w", e.Name(), err)
		}
		refs = append(refs, model.BlobRef{
			Environment:  env,
			VersionID:    strings.TrimSuffix(e.Name(), ".tfstate"),
			LastModified: info.ModTime().UTC(),
			Size:         info.Size(),
		})
	}
	// Version IDs are timestamp-prefixed, so lexical order is chronological.
	sort.Slice(refs, func(i, j int) bool { return refs[i].VersionID > refs[j].VersionID })
	if len(refs) > 0 {
		refs[0].IsLatest = true
	}
	return refs, nil
}

// createExclusive writes data to dir/<base>.tfstate, adding a numeric suffix if
// that name is taken.
func createExclusive(dir, base string, data []byte) (string, error) {
	for i := 0; i < 100; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s-%02d", base, i)
		}
		p := filepath.Join(dir, name+".tfstate")
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(p)
			return "", err
		}
		if err := f.Close(); err != nil {
			os.Remove(p)
			return "", err
		}
		return p, nil
	}
	return "", fmt.Errorf("no free version name for %s", base)
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
