package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/apk-analysis/apk-drift/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	require.NoError(t, store.Put(ctx, "direct_vector/mal_2016.npy", []byte("mal")))
	require.NoError(t, store.Put(ctx, "direct_vector/ben_2016.npy", []byte("ben")))
	require.NoError(t, store.Put(ctx, "graph_vector/mal_2016.npy", []byte("graph")))

	data, err := store.Get(ctx, "direct_vector/mal_2016.npy")
	require.NoError(t, err)
	assert.Equal(t, []byte("mal"), data)

	keys, err := store.List(ctx, "direct_vector")
	require.NoError(t, err)
	assert.Equal(t, []string{"direct_vector/ben_2016.npy", "direct_vector/mal_2016.npy"}, keys)
}

func TestLocalStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	require.NoError(t, store.Put(ctx, "a.npy", []byte("first")))
	require.NoError(t, store.Put(ctx, "a.npy", []byte("second")))

	data, err := store.Get(ctx, "a.npy")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.npy"}, keys, "no temp files left behind")
}

// TestLocalStore_NotFound 测试缺失 key 返回 ErrNotFound
func TestLocalStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	_, err := store.Get(ctx, "direct_vector/mal_1999.npy")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := store.List(ctx, "missing_prefix")
	assert.NoError(t, err)
	assert.Empty(t, keys)
}

// fakeS3 最小化的路径风格 S3 服务
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// 路径风格: /bucket/key
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	switch {
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var sb strings.Builder
		sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>vectors</Name><IsTruncated>false</IsTruncated>`)
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				sb.WriteString("<Contents><Key>" + k + "</Key></Contents>")
			}
		}
		sb.WriteString("</ListBucketResult>")
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(sb.String()))

	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		w.Write(data)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Store(t *testing.T, prefix string) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(server.URL),
		UsePathStyle: true,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}, nil
		}),
	})
	return NewS3Store(client, "vectors", prefix), fake
}

func TestS3Store_PutGetList(t *testing.T) {
	ctx := context.Background()
	store, fake := newTestS3Store(t, "runs/")

	require.NoError(t, store.Put(ctx, "graph_vector/mal_2016.npy", []byte("matrix")))
	assert.Contains(t, fake.objects, "runs/graph_vector/mal_2016.npy")

	data, err := store.Get(ctx, "graph_vector/mal_2016.npy")
	require.NoError(t, err)
	assert.Equal(t, []byte("matrix"), data)

	keys, err := store.List(ctx, "graph_vector/")
	require.NoError(t, err)
	assert.Equal(t, []string{"graph_vector/mal_2016.npy"}, keys)
}

func TestS3Store_NotFound(t *testing.T) {
	store, _ := newTestS3Store(t, "")

	_, err := store.Get(context.Background(), "direct_vector/ben_2030.npy")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew_Backends(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := New(context.Background(), &config.StorageConfig{Backend: "local", Root: t.TempDir()}, logger)
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)

	_, err = New(context.Background(), &config.StorageConfig{Backend: "s3"}, logger)
	assert.Error(t, err)

	_, err = New(context.Background(), &config.StorageConfig{Backend: "ftp"}, logger)
	assert.Error(t, err)
}
