package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects   map[string][]byte
	metadata  map[string]map[string]string
	headErr   error
	createErr error
	putErr    error
	created   bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	f.metadata[*in.Key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = true
	return &s3.CreateBucketOutput{}, nil
}

func TestS3Client_PutObject(t *testing.T) {
	fake := newFakeS3()
	c := &S3Client{client: fake, bucket: "audit"}

	data := []byte(`{"action":"http.request"}`)
	require.NoError(t, c.PutObject(context.Background(), "audit/2026/01/01/batch.jsonl", data, "application/x-ndjson"))

	assert.Equal(t, data, fake.objects["audit/2026/01/01/batch.jsonl"])
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), fake.metadata["audit/2026/01/01/batch.jsonl"]["checksum-sha256"])
}

func TestS3Client_PutObjectError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	c := &S3Client{client: fake, bucket: "audit"}

	err := c.PutObject(context.Background(), "k", []byte("x"), "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload to s3")
}

func TestS3Client_EnsureBucket(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		fake := newFakeS3()
		c := &S3Client{client: fake, bucket: "audit"}
		require.NoError(t, c.ensureBucket(context.Background()))
		assert.False(t, fake.created)
	})

	t.Run("missing is created", func(t *testing.T) {
		fake := newFakeS3()
		fake.headErr = &types.NotFound{}
		c := &S3Client{client: fake, bucket: "audit"}
		require.NoError(t, c.ensureBucket(context.Background()))
		assert.True(t, fake.created)
	})

	t.Run("create race is ignored", func(t *testing.T) {
		fake := newFakeS3()
		fake.headErr = &types.NotFound{}
		fake.createErr = &types.BucketAlreadyOwnedByYou{}
		c := &S3Client{client: fake, bucket: "audit"}
		assert.NoError(t, c.ensureBucket(context.Background()))
	})

	t.Run("head failure surfaces", func(t *testing.T) {
		fake := newFakeS3()
		fake.headErr = errors.New("forbidden")
		c := &S3Client{client: fake, bucket: "audit"}
		assert.Error(t, c.ensureBucket(context.Background()))
		assert.False(t, fake.created)
	})
}

func TestS3Client_HealthCheck(t *testing.T) {
	fake := newFakeS3()
	c := &S3Client{client: fake, bucket: "audit"}
	assert.NoError(t, c.HealthCheck(context.Background()))

	fake.headErr = errors.New("timeout")
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestNewS3Client_RequiresBucket(t *testing.T) {
	_, err := NewS3Client(context.Background(), S3Config{Region: "us-east-1"})
	assert.EqualError(t, err, "s3 bucket is required")
}
