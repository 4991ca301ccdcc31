package s3sink_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsync/sqlsync/pkg/persistence/s3sink"
)

// fakeS3 is a minimal in-process stand-in for the S3 object API: enough
// of PUT/GET against /{bucket}/{key} to exercise s3sink without a real
// bucket or network access.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3Server(t *testing.T) *httptest.Server {
	t.Helper()
	f := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")

		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			body, err := io.ReadAll(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			f.objects[path] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			data, ok := f.objects[path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`<Error><Code>NoSuchKey</Code></Error>`))
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write(data)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, endpoint string) *s3.Client {
	t.Helper()
	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	srv := newFakeS3Server(t)
	client := newTestClient(t, srv.URL)
	sink := s3sink.New(client, "sqlsync-test", "doc1")

	_, found, err := sink.Get(context.Background(), "lsn-0")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	srv := newFakeS3Server(t)
	client := newTestClient(t, srv.URL)
	sink := s3sink.New(client, "sqlsync-test", "doc1")

	require.NoError(t, sink.Put(ctx, "RANGE", []byte{0, 0, 1}))
	data, found, err := sink.Get(ctx, "RANGE")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte{0, 0, 1}, data)
}
