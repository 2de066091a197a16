// Package objectstore adapts the coordination plane to the external
// content-addressed blob store: content-hash upload, presigned
// GET URLs, and a CSV-header-preserving dataset chunker. Grounded on
// dolthub-dolt's chunks/s3_store_test.go, which accesses S3 through a
// narrow interface exposing only GetObject/PutObject rather than the full
// s3iface.S3API surface; this package extends that same narrow-interface
// shape with HeadObject (for upload idempotence) and the presign request
// builder, backed in production by aws-sdk-go's service/s3 client.
package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

const defaultPresignTTL = time.Hour

// StorageError marks a permanent object-store failure that has already
// exhausted its retry budget and aborts the surrounding operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// api is the narrow surface this package needs from an S3-compatible
// client; production code satisfies it with *s3.S3, tests with a map-backed
// fake.
type api interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...func(*s3.Request)) (*s3.GetObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...func(*s3.Request)) (*s3.PutObjectOutput, error)
	HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...func(*s3.Request)) (*s3.HeadObjectOutput, error)
	ListObjectsV2WithContext(ctx aws.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Request)) (*s3.ListObjectsV2Output, error)
}

// presigner builds a time-limited GET URL for a bucket/key pair. Kept
// separate from api so tests can stub presigning without reconstructing the
// SDK's full request-signing machinery.
type presigner interface {
	PresignGet(bucket, key string, ttl time.Duration) (string, error)
}

// sdkPresigner is the production presigner, backed by the real S3 client's
// request builder.
type sdkPresigner struct{ svc *s3.S3 }

func (p sdkPresigner) PresignGet(bucket, key string, ttl time.Duration) (string, error) {
	req, _ := p.svc.GetObjectRequest(&s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	return req.Presign(ttl)
}

// Client is the production object-store adapter.
type Client struct {
	svc     api
	presign presigner
	bucket  string
}

// New builds a Client against endpoint/bucket using static credentials, the
// shape used for any S3-compatible custom endpoint.
func New(accessKey, secretKey, endpoint, bucket string) (*Client, error) {
	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials(accessKey, secretKey, ""),
		Endpoint:         aws.String(endpoint),
		S3ForcePathStyle: aws.Bool(true),
		Region:           aws.String("us-east-1"),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: create session: %w", err)
	}
	svc := s3.New(sess)
	return &Client{svc: svc, presign: sdkPresigner{svc: svc}, bucket: bucket}, nil
}

func newWithAPI(svc api, presign presigner, bucket string) *Client {
	return &Client{svc: svc, presign: presign, bucket: bucket}
}

// Upload computes the SHA-256 content hash of payload and stores it under
// that hex digest, skipping the PUT if the object already exists.
func (c *Client) Upload(ctx context.Context, payload []byte) (string, error) {
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	if err := c.withRetry(ctx, "head", func() error {
		_, err := c.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(hash),
		})
		return err
	}); err == nil {
		return hash, nil // already present
	}

	err := c.withRetry(ctx, "put", func() error {
		_, err := c.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(hash),
			Body:   bytes.NewReader(payload),
		})
		return err
	})
	if err != nil {
		return "", &StorageError{Op: "upload", Err: err}
	}
	return hash, nil
}

// Fetch retrieves the raw bytes stored under contentHash.
func (c *Client) Fetch(ctx context.Context, contentHash string) ([]byte, error) {
	var out *s3.GetObjectOutput
	err := c.withRetry(ctx, "get", func() error {
		var getErr error
		out, getErr = c.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(contentHash),
		})
		return getErr
	})
	if err != nil {
		return nil, &StorageError{Op: "fetch", Err: err}
	}
	defer out.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, &StorageError{Op: "fetch", Err: err}
	}
	return buf.Bytes(), nil
}

// PresignGet signs a time-limited GET URL for contentHash, default TTL one
// hour.
func (c *Client) PresignGet(contentHash string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	url, err := c.presign.PresignGet(c.bucket, contentHash, ttl)
	if err != nil {
		return "", &StorageError{Op: "presign", Err: err}
	}
	return url, nil
}

// List returns every object key currently in the bucket, for administrative
// use.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := c.withRetry(ctx, "list", func() error {
		out, err := c.svc.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(c.bucket)})
		if err != nil {
			return err
		}
		keys = keys[:0]
		for _, obj := range out.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return keys, nil
}

// withRetry retries op up to 3 times with linear backoff.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
				return err // not found is not a transient failure; don't retry
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("objectstore: %s failed after 3 attempts: %w", op, lastErr)
}
