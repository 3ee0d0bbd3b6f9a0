package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/repositories"
)

const defaultFFmpegBinary = "ffmpeg"

// FFmpegTranscoder converts recordings to 16 kHz mono s16le PCM with an ffmpeg subprocess
type FFmpegTranscoder struct {
	binary  string
	tempDir string
	logger  *zap.Logger
}

var _ repositories.Transcoder = (*FFmpegTranscoder)(nil)

// NewFFmpegTranscoder creates a transcoder. Empty binary and tempDir use "ffmpeg" and os.TempDir().
func NewFFmpegTranscoder(binary, tempDir string, logger *zap.Logger) *FFmpegTranscoder {
	if binary == "" {
		binary = defaultFFmpegBinary
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &FFmpegTranscoder{
		binary:  binary,
		tempDir: tempDir,
		logger:  logger,
	}
}

// Normalize implements repositories.Transcoder
func (t *FFmpegTranscoder) Normalize(ctx context.Context, data []byte, format string) ([]byte, error) {
	if Format(format) == FormatPCM {
		return data, nil
	}

	id := uuid.New().String()
	inputFile := filepath.Join(t.tempDir, fmt.Sprintf("input_%s.%s", id, format))
	outputFile := filepath.Join(t.tempDir, fmt.Sprintf("output_%s.pcm", id))

	defer t.remove(inputFile)
	if err := os.WriteFile(inputFile, data, 0o600); err != nil {
		return nil, fmt.Errorf("%w: write input: %v", domain.ErrTranscodeFailed, err)
	}

	defer t.remove(outputFile)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.binary,
		"-y", "-i", inputFile,
		"-ar", "16000", "-ac", "1",
		"-f", "s16le",
		outputFile,
	)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v: %s", domain.ErrTranscodeFailed, t.binary, err, lastLine(stderr.String()))
	}

	pcm, err := os.ReadFile(outputFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", domain.ErrTranscodeFailed, err)
	}

	t.logger.Debug("Audio normalized to PCM",
		zap.String("format", format),
		zap.Int("inputBytes", len(data)),
		zap.Int("outputBytes", len(pcm)))

	return pcm, nil
}

func (t *FFmpegTranscoder) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Warn("Failed to remove temp file", zap.String("path", path), zap.Error(err))
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
