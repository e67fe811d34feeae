package smali

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// TestParseInvokeLine_LogD 测试最基本的虚方法调用
func TestParseInvokeLine_LogD(t *testing.T) {
	symbol, ok := ParseInvokeLine("    invoke-virtual {p0}, Landroid/util/Log;->d(Ljava/lang/String;Ljava/lang/String;)I")

	require.True(t, ok)
	assert.Equal(t, "android.util.Log.d", symbol)
}

// TestParseInvokeLine_Constructor 测试构造方法归一化
func TestParseInvokeLine_Constructor(t *testing.T) {
	lines := []string{
		"invoke-direct {v0}, Ljava/lang/Object;-><init>()V",
		"invoke-direct/range {v0 .. v3}, Landroid/content/Intent;-><init>(Landroid/content/Context;Ljava/lang/Class;)V",
	}

	for _, line := range lines {
		symbol, ok := ParseInvokeLine(line)
		require.True(t, ok, line)
		assert.NotContains(t, symbol, "<init>")
		assert.Equal(t, ConstructorToken, symbol[len(symbol)-len(ConstructorToken):])
	}
}

// TestParseInvokeLine_Families 测试各类 invoke 指令
func TestParseInvokeLine_Families(t *testing.T) {
	tests := []struct {
		line     string
		expected string
	}{
		{"invoke-static {v1}, Ljava/lang/System;->loadLibrary(Ljava/lang/String;)V", "java.lang.System.loadLibrary"},
		{"invoke-interface {v2, v3}, Ljava/util/List;->add(Ljava/lang/Object;)Z", "java.util.List.add"},
		{"invoke-super {p0, p1}, Landroid/app/Activity;->onCreate(Landroid/os/Bundle;)V", "android.app.Activity.onCreate"},
		{"invoke-virtual/range {v0 .. v5}, Ljavax/crypto/Cipher;->doFinal([B)[B", "javax.crypto.Cipher.doFinal"},
		{"invoke-polymorphic {v0, v1}, Ljava/lang/invoke/MethodHandle;->invoke([Ljava/lang/Object;)Ljava/lang/Object;, (I)V", "java.lang.invoke.MethodHandle.invoke"},
	}

	for _, tt := range tests {
		symbol, ok := ParseInvokeLine(tt.line)
		require.True(t, ok, tt.line)
		assert.Equal(t, tt.expected, symbol)
	}
}

// TestParseInvokeLine_Rejected 测试非平台命名空间和非调用指令
func TestParseInvokeLine_Rejected(t *testing.T) {
	lines := []string{
		"invoke-virtual {p0}, Lcom/google/ads/AdView;->init()V",
		"invoke-static {}, Lcom/example/app/Util;->run()V",
		"const-string v0, \"Landroid/util/Log;->d\"",
		"sget-object v0, Landroid/os/Build;->MODEL:Ljava/lang/String;",
		".method public constructor <init>()V",
		"",
	}

	for _, line := range lines {
		_, ok := ParseInvokeLine(line)
		assert.False(t, ok, line)
	}
}

// TestExtractSymbols_Deduplicates 测试同一符号只记录一次
func TestExtractSymbols_Deduplicates(t *testing.T) {
	content := []byte(`.class public Lcom/example/Main;
.method public run()V
    invoke-virtual {p0}, Landroid/util/Log;->d(Ljava/lang/String;Ljava/lang/String;)I
    invoke-virtual {p0}, Landroid/util/Log;->d(Ljava/lang/String;Ljava/lang/String;)I
    invoke-virtual {p0}, Lcom/google/ads/AdView;->init()V
    invoke-direct {p0}, Ljava/lang/Object;-><init>()V
.end method
`)

	symbols := ExtractSymbols(content)

	assert.Len(t, symbols, 2)
	assert.True(t, symbols.Has("android.util.Log.d"))
	assert.True(t, symbols.Has("java.lang.Object."+ConstructorToken))
	assert.Equal(t, []string{"android.util.Log.d", "java.lang.Object.init"}, symbols.Sorted())
}

// TestExtractSymbols_GarbledBytes 测试损坏字节不影响其余行
func TestExtractSymbols_GarbledBytes(t *testing.T) {
	content := []byte("\xff\xfe\x00garbage\n    invoke-static {}, Ljava/lang/System;->exit(I)V\n\xc3\x28 invoke-\n")

	symbols := ExtractSymbols(content)

	assert.Len(t, symbols, 1)
	assert.True(t, symbols.Has("java.lang.System.exit"))
}

// TestDottedClass 测试类描述符归一化
func TestDottedClass(t *testing.T) {
	assert.Equal(t, "android.util.Log", DottedClass("Landroid/util/Log;"))
	assert.Equal(t, "android.util.Log", DottedClass("Landroid/util/Log"))
	assert.Equal(t, "com.google.ads.AdView", DottedClass("com.google.ads.AdView"))
}

// TestExtractDir 测试目录扫描
func TestExtractDir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "com", "example")
	require.NoError(t, os.MkdirAll(nested, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(nested, "A.smali"),
		[]byte("invoke-virtual {p0}, Landroid/util/Log;->d(Ljava/lang/String;Ljava/lang/String;)I\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "B.smali"),
		[]byte("invoke-static {}, Ljava/lang/System;->exit(I)V"), 0644))
	// 非 smali 文件应被忽略
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte("invoke-static {}, Ljava/lang/Runtime;->getRuntime()Ljava/lang/Runtime;"), 0644))

	symbols, stats, err := ExtractDir(dir, ".smali", quietLogger())

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, []string{"android.util.Log.d", "java.lang.System.exit"}, symbols.Sorted())
}

// TestExtractDir_Missing 测试目录不存在
func TestExtractDir_Missing(t *testing.T) {
	symbols, _, err := ExtractDir(filepath.Join(t.TempDir(), "smali"), ".smali", quietLogger())

	assert.Error(t, err)
	assert.Empty(t, symbols)
}

// TestExtractDir_MatchesExtractSymbols 测试文件扫描与内存扫描结果一致
func TestExtractDir_MatchesExtractSymbols(t *testing.T) {
	content := []byte("\xff\xfe garbage\r\n" +
		"    invoke-direct {p0}, Ljava/lang/Object;-><init>()V\r\n" +
		"    invoke-virtual {v0, v1}, Landroid/telephony/SmsManager;->sendTextMessage(Ljava/lang/String;)V\r\n" +
		"\xc3\x28 invoke-static {}, Lcom/example/Util;->run()V\n" +
		"    invoke-static {}, Ljava/lang/System;->exit(I)V")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Main.smali"), content, 0644))

	fromDir, stats, err := ExtractDir(dir, ".smali", quietLogger())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, ExtractSymbols(content).Sorted(), fromDir.Sorted())
	assert.Equal(t, []string{
		"android.telephony.SmsManager.sendTextMessage",
		"java.lang.Object.init",
		"java.lang.System.exit",
	}, fromDir.Sorted())
}
