package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/edvin/statekeeper/internal/model"
	"github.com/edvin/statekeeper/internal/objectstore"
	"github.com/edvin/statekeeper/internal/platform"
)

const s3PollDelay = time.Second

// leaseDocument is the body of a lock object.
type leaseDocument struct {
	Token      string    `json:"token"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// S3Locker implements leases as lock objects created with a conditional
// write (If-None-Match: *). A lease whose TTL has passed may be broken by
// the next acquirer, so a crashed operator never wedges an environment.
type S3Locker struct {
	client  objectstore.S3API
	bucket  string
	prefix  string
	owner   string
	timeout time.Duration
	ttl     time.Duration
	clock   clock.Clock
	logger  zerolog.Logger
}

// NewS3Locker creates an S3Locker storing lock objects under prefix/locks/.
func NewS3Locker(client objectstore.S3API, bucket, prefix, owner string, timeout, ttl time.Duration, logger zerolog.Logger) *S3Locker {
	return &S3Locker{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		owner:   owner,
		timeout: timeout,
		ttl:     ttl,
		clock:   clock.WallClock,
		logger:  logger.With().Str("component", "s3-lock").Logger(),
	}
}

func (l *S3Locker) key(env model.Environment) string {
	return path.Join(l.prefix, "locks", string(env)+".lock")
}

func (l *S3Locker) Acquire(ctx context.Context, env model.Environment) (Lease, error) {
	key := l.key(env)
	deadline := l.clock.Now().Add(l.timeout)

	for {
		doc := leaseDocument{
			Token:      platform.NewID(),
			Owner:      l.owner,
			AcquiredAt: l.clock.Now().UTC(),
		}
		doc.ExpiresAt = doc.AcquiredAt.Add(l.ttl)
		body, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode lease: %w", err)
		}

		out, err := l.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(l.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			IfNoneMatch: aws.String("*"),
			ContentType: aws.String("application/json"),
		})
		if err == nil {
			l.logger.Debug().Str("environment", string(env)).Str("key", key).Msg("lease acquired")
			return &s3Lease{locker: l, key: key, doc: doc, etag: aws.ToString(out.ETag)}, nil
		}
		if !objectstore.IsPreconditionFailed(err) {
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}

		holder, etag, err := l.current(ctx, key)
		if err != nil {
			return nil, err
		}
		if holder == nil {
			// Released between our put and read.
			continue
		}
		if l.clock.Now().After(holder.ExpiresAt) {
			l.logger.Warn().
				Str("environment", string(env)).
				Str("holder", holder.Owner).
				Time("expired_at", holder.ExpiresAt).
				Msg("breaking expired lease")
			// Only the expired object we just read may be removed; if another
			// acquirer replaced it in the meantime the delete fails and we retry.
			if err := l.delete(ctx, key, etag); err != nil && !errors.Is(err, errChanged) {
				return nil, err
			}
			continue
		}

		if !l.clock.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s held by %s since %s", ErrHeld, key, holder.Owner, holder.AcquiredAt.Format(time.RFC3339))
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lease %s: %w", key, ctx.Err())
		case <-l.clock.After(s3PollDelay):
		}
	}
}

// errChanged reports that a conditional write or delete found a different
// lock object than expected.
var errChanged = errors.New("lease object changed")

// current returns the lease document at key and its ETag, or nil if none exists.
func (l *S3Locker) current(ctx context.Context, key string) (*leaseDocument, string, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	})
	if objectstore.IsNotFound(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read lease %s: %w", key, err)
	}
	defer out.Body.Close()

	etag := aws.ToString(out.ETag)
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read lease %s: %w", key, err)
	}
	var doc leaseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		// Unreadable leases are treated as expired.
		return &leaseDocument{Owner: "unknown"}, etag, nil
	}
	return &doc, etag, nil
}

// delete removes the lock object at key if its ETag still matches.
// A missing object counts as deleted.
func (l *S3Locker) delete(ctx context.Context, key, etag string) error {
	in := &s3.DeleteObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	}
	if etag != "" {
		in.IfMatch = aws.String(etag)
	}
	_, err := l.client.DeleteObject(ctx, in)
	switch {
	case err == nil, objectstore.IsNotFound(err):
		return nil
	case objectstore.IsPreconditionFailed(err):
		return fmt.Errorf("delete lease %s: %w", key, errChanged)
	default:
		return fmt.Errorf("delete lease %s: %w", key, err)
	}
}

type s3Lease struct {
	locker *S3Locker
	key    string
	doc    leaseDocument
	etag   string
}

// Refresh rewrites the lock object with a new expiry, conditional on it
// still being the object this lease last wrote.
func (s *s3Lease) Refresh(ctx context.Context) error {
	l := s.locker
	etag := s.etag
	if etag == "" {
		holder, current, err := l.current(ctx, s.key)
		if err != nil {
			return err
		}
		if holder == nil || holder.Token != s.doc.Token {
			return fmt.Errorf("refresh lease %s: %w", s.key, ErrLost)
		}
		etag = current
	}

	doc := s.doc
	doc.ExpiresAt = l.clock.Now().UTC().Add(l.ttl)
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}
	out, err := l.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(l.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(body),
		IfMatch:     aws.String(etag),
		ContentType: aws.String("application/json"),
	})
	if objectstore.IsPreconditionFailed(err) || objectstore.IsNotFound(err) {
		return fmt.Errorf("refresh lease %s: %w", s.key, ErrLost)
	}
	if err != nil {
		return fmt.Errorf("refresh lease %s: %w", s.key, err)
	}
	s.doc = doc
	s.etag = aws.ToString(out.ETag)
	l.logger.Debug().Str("key", s.key).Time("expires_at", doc.ExpiresAt).Msg("lease refreshed")
	return nil
}

// Release deletes the lock object if it still carries this lease's token.
func (s *s3Lease) Release(ctx context.Context) error {
	holder, etag, err := s.locker.current(ctx, s.key)
	if err != nil {
		return err
	}
	if holder == nil || holder.Token != s.doc.Token {
		s.locker.logger.Warn().Str("key", s.key).Msg("lease lost before release")
		return nil
	}
	err = s.locker.delete(ctx, s.key, etag)
	if errors.Is(err, errChanged) {
		s.locker.logger.Warn().Str("key", s.key).Msg("lease lost before release")
		return nil
	}
	return err
}
