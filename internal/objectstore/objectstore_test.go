package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
)

// mockS3 is a map-backed fake of the narrow api surface, mirroring
// dolthub-dolt's chunks/s3_store_test.go mockS3.
type mockS3 map[string][]byte

func (m mockS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...func(*s3.Request)) (*s3.GetObjectOutput, error) {
	data, ok := m[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{Body: ioutil.NopCloser(bytes.NewReader(data))}, nil
}

func (m mockS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...func(*s3.Request)) (*s3.PutObjectOutput, error) {
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, in.Body); err != nil {
		return nil, err
	}
	m[aws.StringValue(in.Key)] = buf.Bytes()
	return &s3.PutObjectOutput{}, nil
}

func (m mockS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...func(*s3.Request)) (*s3.HeadObjectOutput, error) {
	if _, ok := m[aws.StringValue(in.Key)]; !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m mockS3) ListObjectsV2WithContext(_ aws.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Request)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for k := range m {
		key := k
		out.Contents = append(out.Contents, &s3.Object{Key: &key})
	}
	return out, nil
}

// fakePresigner avoids reconstructing the SDK's real request-signing
// machinery in tests; it just renders a deterministic, inspectable URL.
type fakePresigner struct{}

func (fakePresigner) PresignGet(bucket, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://mock.local/%s/%s", bucket, key), nil
}

func TestUploadIsIdempotentByContentHash(t *testing.T) {
	store := mockS3{}
	c := newWithAPI(store, fakePresigner{}, "bucket")

	h1, err := c.Upload(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	h2, err := c.Upload(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("Upload (repeat): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected stable content hash, got %s and %s", h1, h2)
	}
	if len(store) != 1 {
		t.Fatalf("expected exactly one stored object, got %d", len(store))
	}
}

func TestUploadFetchRoundTrip(t *testing.T) {
	store := mockS3{}
	c := newWithAPI(store, fakePresigner{}, "bucket")

	payload := []byte("round trip payload")
	hash, err := c.Upload(context.Background(), payload)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := c.Fetch(context.Background(), hash)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("fetched payload mismatch: got %q want %q", got, payload)
	}
}

func TestUploadDatasetAsChunksPreservesHeader(t *testing.T) {
	store := mockS3{}
	c := newWithAPI(store, fakePresigner{}, "bucket")

	var buf bytes.Buffer
	buf.WriteString("id,value\n")
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&buf, "%d,value-%d\n", i, i)
	}

	manifestURL, chunkCount, err := c.UploadDatasetAsChunks(context.Background(), buf.Bytes(), 1024)
	if err != nil {
		t.Fatalf("UploadDatasetAsChunks: %v", err)
	}
	if chunkCount < 2 {
		t.Fatalf("expected multiple chunks for a large dataset, got %d", chunkCount)
	}
	if manifestURL == "" {
		t.Fatalf("expected non-empty manifest url")
	}

	for key, data := range store {
		if key == "" {
			continue
		}
		if !bytes.HasPrefix(data, []byte("id,value\n")) && !bytes.Contains(data, []byte("https://mock.local/")) {
			t.Fatalf("stored object missing header: %q", data)
		}
	}
}
