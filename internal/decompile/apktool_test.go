package decompile

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/apk-analysis/apk-drift/internal/watcher"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 参数顺序: d <apk> -f -o <out>
const fakeApktool = `#!/bin/sh
case "$2" in
  *bad*) echo "brut.androlib.AndrolibException" >&2; exit 1 ;;
  *slow*) sleep 5 ;;
esac
mkdir -p "$5/smali"
echo "$2" > "$5/apktool.yml"
`

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupApktool(t *testing.T, timeout time.Duration) *Apktool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake apktool needs /bin/sh")
	}
	script := filepath.Join(t.TempDir(), "apktool")
	require.NoError(t, os.WriteFile(script, []byte(fakeApktool), 0755))
	return NewApktool(script, timeout, quietLogger())
}

func writeAPK(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("PK"), 0644))
	return path
}

func TestOutputDir(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "ABC"), OutputDir("out", "/tmp/apks/ABC.apk"))
}

func TestDecompile(t *testing.T) {
	a := setupApktool(t, 5*time.Second)
	apk := writeAPK(t, t.TempDir(), "good.apk")
	outRoot := t.TempDir()

	out, err := a.Decompile(context.Background(), apk, outRoot)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outRoot, "good"), out)
	assert.DirExists(t, filepath.Join(out, "smali"))
}

func TestDecompile_Failure(t *testing.T) {
	a := setupApktool(t, 5*time.Second)
	apk := writeAPK(t, t.TempDir(), "bad.apk")

	_, err := a.Decompile(context.Background(), apk, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AndrolibException")
}

func TestDecompile_Timeout(t *testing.T) {
	a := setupApktool(t, 100*time.Millisecond)
	apk := writeAPK(t, t.TempDir(), "slow.apk")

	_, err := a.Decompile(context.Background(), apk, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestDecompileDir(t *testing.T) {
	a := setupApktool(t, 5*time.Second)
	apkDir := t.TempDir()
	writeAPK(t, apkDir, "a.apk")
	writeAPK(t, apkDir, "bad_one.apk")
	writeAPK(t, apkDir, "c.APK")
	writeAPK(t, apkDir, "notes.txt")
	outRoot := filepath.Join(t.TempDir(), "bad_2016")

	stats, err := a.DecompileDir(context.Background(), apkDir, outRoot)
	require.NoError(t, err)
	assert.Equal(t, &Stats{Total: 3, Succeeded: 2, Failed: 1}, stats)
	assert.DirExists(t, filepath.Join(outRoot, "a"))
	assert.DirExists(t, filepath.Join(outRoot, "c"))
	assert.NoDirExists(t, filepath.Join(outRoot, "bad_one"))
}

func TestDecompileDir_MissingInput(t *testing.T) {
	a := setupApktool(t, 5*time.Second)
	_, err := a.DecompileDir(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir())
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	a := setupApktool(t, 5*time.Second)
	apkDir := t.TempDir()
	outRoot := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		opts := watcher.DefaultOptions()
		opts.Debounce = 50 * time.Millisecond
		opts.PollInterval = 20 * time.Millisecond
		done <- a.Watch(ctx, apkDir, outRoot, opts)
	}()

	// 等待监控启动
	time.Sleep(200 * time.Millisecond)
	writeAPK(t, apkDir, "fresh.apk")

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(outRoot, "fresh", "apktool.yml"))
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
