package repositories

import "context"

// AudioFetcher retrieves raw audio bytes
type AudioFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Transcoder normalizes audio of the given format to 16 kHz mono s16le PCM
type Transcoder interface {
	Normalize(ctx context.Context, data []byte, format string) ([]byte, error)
}
