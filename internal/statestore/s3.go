package statestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/edvin/statekeeper/internal/model"
	"github.com/edvin/statekeeper/internal/objectstore"
)

// S3Store reads and writes state in a versioned S3 bucket, one object per
// environment at <prefix>/<environment>/<key>.
type S3Store struct {
	client objectstore.S3API
	bucket string
	prefix string
	key    string
}

// NewS3Store creates an S3Store. An empty key defaults to terraform.tfstate.
func NewS3Store(client objectstore.S3API, bucket, prefix, key string) *S3Store {
	if key == "" {
		key = localStateFile
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix, key: key}
}

func (s *S3Store) objectKey(env model.Environment) string {
	return path.Join(s.prefix, string(env), s.key)
}

func (s *S3Store) Location(env model.Environment) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.objectKey(env))
}

func (s *S3Store) Get(ctx context.Context, env model.Environment) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(env)),
	})
	if err != nil {
		if objectstore.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", s.Location(env), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Location(env), err)
	}
	return data, nil
}

func (s *S3Store) Put(ctx context.Context, env model.Environment, blob []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(env)),
		Body:          bytes.NewReader(blob),
		ContentLength: aws.Int64(int64(len(blob))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.Location(env), err)
	}
	return nil
}

func (s *S3Store) ListVersions(ctx context.Context, env model.Environment) ([]model.BlobRef, error) {
	key := s.objectKey(env)
	input := &s3.ListObjectVersionsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key),
	}

	var refs []model.BlobRef
	for {
		out, err := s.client.ListObjectVersions(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list versions %s: %w", s.Location(env), err)
		}
		for _, v := range out.Versions {
			// The prefix also matches keys like terraform.tfstate.backup.
			if aws.ToString(v.Key) != key {
				continue
			}
			refs = append(refs, model.BlobRef{
				Environment:  env,
				VersionID:    aws.ToString(v.VersionId),
				LastModified: aws.ToTime(v.LastModified).UTC(),
				Size:         aws.ToInt64(v.Size),
				IsLatest:     aws.ToBool(v.IsLatest),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.KeyMarker = out.NextKeyMarker
		input.VersionIdMarker = out.NextVersionIdMarker
	}

	sort.SliceStable(refs, func(i, j int) bool { return refs[i].LastModified.After(refs[j].LastModified) })
	return refs, nil
}
