package statestore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/statekeeper/internal/model"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *mockS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.DeleteObjectOutput), args.Error(1)
}

func (m *mockS3) ListObjectVersions(ctx context.Context, in *s3.ListObjectVersionsInput, _ ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.ListObjectVersionsOutput), args.Error(1)
}

func TestS3Store_Get(t *testing.T) {
	client := &mockS3{}
	s := NewS3Store(client, "tf-state", "infra", "")
	ctx := context.Background()

	client.On("GetObject", ctx, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Bucket) == "tf-state" && aws.ToString(in.Key) == "infra/staging/terraform.tfstate"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(`{"serial": 3}`))}, nil)

	got, err := s.Get(ctx, model.EnvStaging)
	require.NoError(t, err)
	assert.Equal(t, `{"serial": 3}`, string(got))
	client.AssertExpectations(t)
}

func TestS3Store_GetNotFound(t *testing.T) {
	client := &mockS3{}
	s := NewS3Store(client, "tf-state", "", "")
	ctx := context.Background()

	client.On("GetObject", ctx, mock.Anything).Return(nil, &s3types.NoSuchKey{})

	_, err := s.Get(ctx, model.EnvProduction)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_GetError(t *testing.T) {
	client := &mockS3{}
	s := NewS3Store(client, "tf-state", "", "")
	ctx := context.Background()

	client.On("GetObject", ctx, mock.Anything).Return(nil, errors.New("access denied"))

	_, err := s.Get(ctx, model.EnvProduction)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "s3://tf-state/production/terraform.tfstate")
}

func TestS3Store_Put(t *testing.T) {
	client := &mockS3{}
	s := NewS3Store(client, "tf-state", "infra", "main.tfstate")
	ctx := context.Background()

	client.On("PutObject", ctx, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		body, _ := io.ReadAll(in.Body)
		return aws.ToString(in.Key) == "infra/development/main.tfstate" &&
			aws.ToInt64(in.ContentLength) == 2 && string(body) == "{}"
	})).Return(&s3.PutObjectOutput{}, nil)

	require.NoError(t, s.Put(ctx, model.EnvDevelopment, []byte("{}")))
	client.AssertExpectations(t)
}

func TestS3Store_ListVersions(t *testing.T) {
	client := &mockS3{}
	s := NewS3Store(client, "tf-state", "", "")
	ctx := context.Background()
	t1 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	client.On("ListObjectVersions", ctx, mock.MatchedBy(func(in *s3.ListObjectVersionsInput) bool {
		return in.KeyMarker == nil
	})).Return(&s3.ListObjectVersionsOutput{
		Versions: []s3types.ObjectVersion{
			{Key: aws.String("staging/terraform.tfstate"), VersionId: aws.String("v1"), LastModified: aws.Time(t1), Size: aws.Int64(10), IsLatest: aws.Bool(false)},
			{Key: aws.String("staging/terraform.tfstate.backup"), VersionId: aws.String("bk"), LastModified: aws.Time(t2), Size: aws.Int64(1)},
		},
		IsTruncated:         aws.Bool(true),
		NextKeyMarker:       aws.String("staging/terraform.tfstate"),
		NextVersionIdMarker: aws.String("v1"),
	}, nil).Once()
	client.On("ListObjectVersions", ctx, mock.MatchedBy(func(in *s3.ListObjectVersionsInput) bool {
		return aws.ToString(in.VersionIdMarker) == "v1"
	})).Return(&s3.ListObjectVersionsOutput{
		Versions: []s3types.ObjectVersion{
			{Key: aws.String("staging/terraform.tfstate"), VersionId: aws.String("v2"), LastModified: aws.Time(t2), Size: aws.Int64(20), IsLatest: aws.Bool(true)},
		},
		IsTruncated: aws.Bool(false),
	}, nil).Once()

	refs, err := s.ListVersions(ctx, model.EnvStaging)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "v2", refs[0].VersionID)
	assert.True(t, refs[0].IsLatest)
	assert.Equal(t, int64(20), refs[0].Size)
	assert.Equal(t, "v1", refs[1].VersionID)
	client.AssertExpectations(t)
}
