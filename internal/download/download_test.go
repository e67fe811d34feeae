package download

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apk-analysis/apk-drift/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "sha256,sha1,md5,dex_date,apk_size,pkg_name,vercode,vt_detection,vt_scan_date,dex_size,markets\n"

const sampleCSV = header +
	"aaa1,x,x,2018-03-01 10:00:00,1,com.evil.one,1,12,x,1,play\n" +
	"aaa2,x,x,2018-05-01 10:00:00,1,com.evil.two,1,3,x,1,play\n" +
	"bbb1,x,x,2018-06-01,1,com.good.one,1,0,x,1,play\n" +
	"bbb2,x,x,2018-07-01 10:00:00,1,com.good.two,1,,x,1,play\n" +
	"ccc1,x,x,2017-01-01 10:00:00,1,com.old,1,20,x,1,play\n" +
	"ddd1,x,x,not-a-date,1,com.bad,1,20,x,1,play\n" +
	"eee1,x,x,2018-01-01 10:00:00,1,com.bad,1,abc,x,1,play\n" +
	"short,row\n" +
	"fff1,x,x,2018-08-01 10:00:00,1,com.tencent.mm,1,30,x,1,play\n"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestFilterCSV_Malicious(t *testing.T) {
	shas, err := FilterCSV(strings.NewReader(sampleCSV), Criteria{
		Year:            2018,
		Malicious:       true,
		Threshold:       10,
		ExcludePackages: []string{"com.tencent"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA1"}, shas)
}

func TestFilterCSV_Benign(t *testing.T) {
	shas, err := FilterCSV(strings.NewReader(sampleCSV), Criteria{Year: 2018})
	require.NoError(t, err)
	assert.Equal(t, []string{"BBB1", "BBB2"}, shas)
}

func TestFilterCSV_LimitAndExclude(t *testing.T) {
	shas, err := FilterCSV(strings.NewReader(sampleCSV), Criteria{
		Year:       2018,
		Malicious:  true,
		Threshold:  1,
		Limit:      2,
		ExcludeSHA: map[string]struct{}{"AAA1": {}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA2", "FFF1"}, shas)
}

func TestFilterCSV_Empty(t *testing.T) {
	shas, err := FilterCSV(strings.NewReader(""), Criteria{Year: 2018})
	require.NoError(t, err)
	assert.Empty(t, shas)
}

func TestLoadExcludeList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclude.txt")
	require.NoError(t, os.WriteFile(path, []byte("# old\nabc\n\n  def  \n"), 0644))

	excluded, err := LoadExcludeList(path)
	require.NoError(t, err)
	assert.Len(t, excluded, 2)
	assert.Contains(t, excluded, "ABC")
	assert.Contains(t, excluded, "DEF")

	empty, err := LoadExcludeList("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOutputSubdir(t *testing.T) {
	assert.Equal(t, "malicious_2019", OutputSubdir(true, 2019))
	assert.Equal(t, "benign_2019", OutputSubdir(false, 2019))
}

type fakeAndroZoo struct {
	mu       sync.Mutex
	requests map[string]int
	flaky    int32 // 前 N 次请求返回 503
}

func (f *fakeAndroZoo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sha := r.URL.Query().Get("sha256")
	f.mu.Lock()
	f.requests[sha]++
	f.mu.Unlock()

	if r.URL.Query().Get("apikey") != "key" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if sha == "MISSING" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if sha == "FLAKY" && atomic.AddInt32(&f.flaky, -1) >= 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("PK-" + sha))
}

func (f *fakeAndroZoo) count(sha string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[sha]
}

func newTestDownloader(t *testing.T, baseURL string, m *metrics.Metrics) (*Downloader, string) {
	out := t.TempDir()
	return NewDownloader(Options{
		BaseURL:      baseURL,
		APIKey:       "key",
		OutputDir:    out,
		Workers:      2,
		Timeout:      5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, m, quietLogger()), out
}

func TestDownloader_Download(t *testing.T) {
	api := &fakeAndroZoo{requests: map[string]int{}, flaky: 2}
	server := httptest.NewServer(api)
	defer server.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)
	d, out := newTestDownloader(t, server.URL, m)

	require.NoError(t, os.WriteFile(filepath.Join(out, "EXISTS.apk"), []byte("old"), 0644))

	stats, err := d.Download(context.Background(), []string{"AAA", "EXISTS", "MISSING", "FLAKY"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Downloaded)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Equal(t, int64(1), stats.Failed)

	data, err := os.ReadFile(filepath.Join(out, "AAA.apk"))
	require.NoError(t, err)
	assert.Equal(t, "PK-AAA", string(data))

	data, err = os.ReadFile(filepath.Join(out, "FLAKY.apk"))
	require.NoError(t, err)
	assert.Equal(t, "PK-FLAKY", string(data))

	// 已存在的文件不请求，404 不重试，503 重试到成功
	assert.Equal(t, 0, api.count("EXISTS"))
	assert.Equal(t, 1, api.count("MISSING"))
	assert.Equal(t, 3, api.count("FLAKY"))

	_, err = os.Stat(filepath.Join(out, "MISSING.apk"))
	assert.True(t, os.IsNotExist(err))

	leftovers, err := filepath.Glob(filepath.Join(out, "*.part"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	count, err := testutil.GatherAndCount(reg, "test_downloads_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestDownloader_ContextCanceled(t *testing.T) {
	api := &fakeAndroZoo{requests: map[string]int{}}
	server := httptest.NewServer(api)
	defer server.Close()

	d, _ := newTestDownloader(t, server.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Download(ctx, []string{"AAA", "BBB"})
	assert.ErrorIs(t, err, context.Canceled)
}
