package statestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/edvin/statekeeper/internal/model"
)

// GCSStore reads and writes state in a Google Cloud Storage bucket with object
// versioning enabled, using the <prefix>/<environment>.tfstate layout of the
// Terraform gcs backend.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSClient creates a storage client. credentialsFile may be empty to use
// application default credentials. Extra options are applied last.
func NewGCSClient(ctx context.Context, credentialsFile string, extra ...option.ClientOption) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return client, nil
}

// NewGCSStore creates a GCSStore.
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}
}

func gcsObjectName(prefix string, env model.Environment) string {
	return path.Join(prefix, string(env)+".tfstate")
}

func (s *GCSStore) Location(env model.Environment) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, gcsObjectName(s.prefix, env))
}

func (s *GCSStore) Get(ctx context.Context, env model.Environment) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(gcsObjectName(s.prefix, env)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Location(env), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Location(env), err)
	}
	return data, nil
}

func (s *GCSStore) Put(ctx context.Context, env model.Environment, blob []byte) error {
	w := s.client.Bucket(s.bucket).Object(gcsObjectName(s.prefix, env)).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := w.Write(blob); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", s.Location(env), err)
	}
	// The object only becomes visible once Close succeeds.
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", s.Location(env), err)
	}
	return nil
}

func (s *GCSStore) ListVersions(ctx context.Context, env model.Environment) ([]model.BlobRef, error) {
	name := gcsObjectName(s.prefix, env)
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: name, Versions: true})

	var refs []model.BlobRef
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list versions %s: %w", s.Location(env), err)
		}
		if attrs.Name != name {
			continue
		}
		refs = append(refs, model.BlobRef{
			Environment:  env,
			VersionID:    strconv.FormatInt(attrs.Generation, 10),
			LastModified: attrs.Updated.UTC(),
			Size:         attrs.Size,
			IsLatest:     attrs.Deleted.IsZero(),
		})
	}

	sort.SliceStable(refs, func(i, j int) bool { return refs[i].LastModified.After(refs[j].LastModified) })
	return refs, nil
}
