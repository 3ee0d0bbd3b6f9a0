package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/repositories"
)

// googleChunkSize keeps each streaming request well below the 25 KB request limit
const googleChunkSize = 16 * 1024

// GoogleConfig holds configuration for the Google Cloud adapter.
// Timeout bounds a whole recognition and defaults to 60 seconds.
type GoogleConfig struct {
	Audio         repositories.AudioConfig
	Timeout       time.Duration
	ClientOptions []option.ClientOption
}

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	config        repositories.AudioConfig
	timeout       time.Duration
	clientOptions []option.ClientOption
	logger        *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a Google Cloud speech client for normalized PCM.
// Credentials are resolved by the client library from the environment.
func NewGoogleSpeechToText(config GoogleConfig, logger *zap.Logger) (*GoogleSpeechToText, error) {
	if _, err := getAudioEncoding(config.Audio.Encoding); err != nil {
		return nil, err
	}
	if config.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.Audio.SampleRate)
	}
	if config.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultSTTTimeout
		logger.Info("Using default Google STT timeout", zap.Duration("timeout", timeout))
	}

	return &GoogleSpeechToText{
		config:        config.Audio,
		timeout:       timeout,
		clientOptions: config.ClientOptions,
		logger:        logger,
	}, nil
}

// TranscribePCM implements repositories.SpeechToText
func (g *GoogleSpeechToText) TranscribePCM(ctx context.Context, pcm []byte) (repositories.Transcript, error) {
	if len(pcm) == 0 {
		return repositories.Transcript{}, domain.ErrEmptyAudio
	}

	// The caller's context may be detached, so the session bounds itself
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	client, err := speech.NewClient(ctx, g.clientOptions...)
	if err != nil {
		return repositories.Transcript{}, fmt.Errorf("failed to create speech client: %w", err)
	}
	defer client.Close()

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		return repositories.Transcript{}, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	encoding, _ := getAudioEncoding(g.config.Encoding)
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(g.config.SampleRate),
					LanguageCode:    g.config.Language,
				},
				InterimResults: false,
			},
		},
	}); err != nil {
		return repositories.Transcript{}, fmt.Errorf("failed to send streaming config: %w", err)
	}

	frames := 0
	for start := 0; start < len(pcm); start += googleChunkSize {
		end := start + googleChunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: pcm[start:end],
			},
		}); err != nil {
			return repositories.Transcript{}, fmt.Errorf("failed to send audio data: %w", err)
		}
		frames++
	}

	if err := stream.CloseSend(); err != nil {
		return repositories.Transcript{}, fmt.Errorf("failed to close send stream: %w", err)
	}

	var parts []string
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
			if len(parts) > 0 {
				reason := repositories.TerminationErrorPartial
				if timedOut {
					reason = repositories.TerminationTimeoutPartial
				}
				g.logger.Warn("Google STT ended early, keeping partial transcript",
					zap.String("reason", string(reason)),
					zap.Error(err))
				return repositories.Transcript{
					Text:   strings.Join(parts, ""),
					Reason: reason,
					Frames: frames,
				}, nil
			}
			if timedOut {
				return repositories.Transcript{}, fmt.Errorf("%w after %s", domain.ErrTranscriptionTimeout, g.timeout)
			}
			return repositories.Transcript{}, fmt.Errorf("failed to receive response: %w", err)
		}

		// Only final results are kept
		for _, result := range resp.Results {
			if result.IsFinal && len(result.Alternatives) > 0 {
				parts = append(parts, result.Alternatives[0].Transcript)
			}
		}
	}

	if len(parts) == 0 {
		return repositories.Transcript{}, fmt.Errorf("no speech detected in audio")
	}

	g.logger.Info("Google STT finished", zap.Int("chunks", frames), zap.Int("results", len(parts)))
	return repositories.Transcript{
		Text:   strings.Join(parts, ""),
		Reason: repositories.TerminationComplete,
		Frames: frames,
	}, nil
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
