package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/lingtin/lingtin/server/domain"
)

// fakeFFmpeg writes a shell script that copies the input file (arg 3) to the last argument
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in for ffmpeg requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write fake ffmpeg: %v", err)
	}
	return path
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected temp files to be removed, found %d entries", len(entries))
	}
}

func TestFFmpegTranscoder_PCMPassthrough(t *testing.T) {
	transcoder := NewFFmpegTranscoder("/nonexistent/ffmpeg", t.TempDir(), zaptest.NewLogger(t))

	input := []byte{1, 2, 3, 4}
	out, err := transcoder.Normalize(context.Background(), input, string(FormatPCM))
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if string(out) != string(input) {
		t.Errorf("Expected PCM to pass through unchanged")
	}
}

func TestFFmpegTranscoder_Success(t *testing.T) {
	binary := fakeFFmpeg(t, `for last; do :; done
cp "$3" "$last"`)
	tempDir := t.TempDir()
	transcoder := NewFFmpegTranscoder(binary, tempDir, zaptest.NewLogger(t))

	out, err := transcoder.Normalize(context.Background(), []byte("webm-bytes"), string(FormatWebM))
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if string(out) != "webm-bytes" {
		t.Errorf("Expected converted output, got %q", out)
	}
	assertEmptyDir(t, tempDir)
}

func TestFFmpegTranscoder_FailureIsFatalAndCleansUp(t *testing.T) {
	binary := fakeFFmpeg(t, `echo "Invalid data found when processing input" >&2
exit 1`)
	tempDir := t.TempDir()
	transcoder := NewFFmpegTranscoder(binary, tempDir, zaptest.NewLogger(t))

	_, err := transcoder.Normalize(context.Background(), []byte("garbage"), string(FormatMP3))
	if err == nil {
		t.Fatal("Expected error from failing converter")
	}
	if !errors.Is(err, domain.ErrTranscodeFailed) {
		t.Errorf("Expected ErrTranscodeFailed, got %v", err)
	}
	if !domain.IsFatal(err) {
		t.Error("Expected transcode failure to be fatal")
	}
	assertEmptyDir(t, tempDir)
}

func TestFFmpegTranscoder_MissingBinary(t *testing.T) {
	tempDir := t.TempDir()
	transcoder := NewFFmpegTranscoder(filepath.Join(tempDir, "missing-ffmpeg"), tempDir, zaptest.NewLogger(t))

	_, err := transcoder.Normalize(context.Background(), []byte("x"), string(FormatOGG))
	if !errors.Is(err, domain.ErrTranscodeFailed) {
		t.Errorf("Expected ErrTranscodeFailed, got %v", err)
	}
	assertEmptyDir(t, tempDir)
}
