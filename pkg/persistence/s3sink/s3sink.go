// Package s3sink implements a persistence.Sink against an S3-compatible
// object store, for cold storage of historical frames under the same RANGE/lsn-{n} keyspace as badgersink. Grounded on
// dittofs's S3 client setup (e.g. test/e2e/localstack.go): aws-sdk-go-v2
// config/credentials plus service/s3, constructed once and reused.
package s3sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Sink is a persistence.Sink backed by one S3 bucket, namespacing every
// key under Prefix (e.g. a document or journal id) so one bucket can
// serve many documents.
type Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// New wraps client as a Sink scoped to bucket, namespacing keys under
// prefix (which may be empty).
func New(client *s3.Client, bucket, prefix string) *Sink {
	return &Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *Sink) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Get implements persistence.Sink.
func (s *Sink) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("s3sink: get %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("s3sink: get %q: read body: %w", key, err)
	}
	return data, true, nil
}

// Put implements persistence.Sink.
func (s *Sink) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return fmt.Errorf("s3sink: put %q: %w", key, err)
	}
	return nil
}
