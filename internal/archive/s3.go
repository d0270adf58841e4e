package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/edvin/statekeeper/internal/objectstore"
)

// S3 stores artifacts as objects under a bucket prefix. Writes are conditional
// on the key not existing.
type S3 struct {
	client objectstore.S3API
	bucket string
	prefix string
}

// NewS3 creates an S3 archive.
func NewS3(client objectstore.S3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (a *S3) key(location string) string {
	return path.Join(a.prefix, location)
}

func (a *S3) URI(location string) string {
	return fmt.Sprintf("s3://%s/%s", a.bucket, a.key(location))
}

func (a *S3) Write(ctx context.Context, location string, blob []byte) error {
	if err := validLocation(location); err != nil {
		return err
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(a.key(location)),
		Body:          bytes.NewReader(blob),
		ContentLength: aws.Int64(int64(len(blob))),
		ContentType:   aws.String("application/json"),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if objectstore.IsPreconditionFailed(err) {
			return fmt.Errorf("%w: %s", ErrExists, location)
		}
		return fmt.Errorf("put artifact %s: %w", a.URI(location), err)
	}
	return nil
}

func (a *S3) Read(ctx context.Context, location string) ([]byte, error) {
	if err := validLocation(location); err != nil {
		return nil, err
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(location)),
	})
	if err != nil {
		if objectstore.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("get artifact %s: %w", a.URI(location), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", a.URI(location), err)
	}
	return data, nil
}

// Delete removes the object. S3 deletes are idempotent, so a missing artifact
// is not reported.
func (a *S3) Delete(ctx context.Context, location string) error {
	if err := validLocation(location); err != nil {
		return err
	}
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(location)),
	})
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", a.URI(location), err)
	}
	return nil
}
