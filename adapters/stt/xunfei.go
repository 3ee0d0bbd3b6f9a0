package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/repositories"
)

const (
	defaultXunfeiEndpoint = "wss://iat-api.xfyun.cn/v2/iat"
	defaultFrameSize      = 1280
	defaultFrameInterval  = 40 * time.Millisecond
	defaultSTTTimeout     = 60 * time.Second
	defaultLanguage       = "zh_cn"
	defaultDomain         = "iat"
	defaultAccent         = "mandarin"
	defaultVADEOS         = 3000
	defaultDWA            = "wpgs"

	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	handshakeTimeout = 10 * time.Second
)

// XunfeiConfig holds configuration for the Xunfei IAT adapter
// Required fields:
// - AppID, APIKey, APISecret: credentials provisioned by the speech service
// Optional fields fall back to the protocol defaults when zero.
type XunfeiConfig struct {
	AppID         string
	APIKey        string
	APISecret     string
	Endpoint      string
	FrameSize     int
	FrameInterval time.Duration
	Timeout       time.Duration
	Language      string
	Domain        string
	Accent        string
	VADEOS        int
}

// ValidateXunfeiConfig validates the XunfeiConfig
func ValidateXunfeiConfig(config XunfeiConfig) error {
	if config.AppID == "" || config.APIKey == "" || config.APISecret == "" {
		return fmt.Errorf("xunfei app id, api key and api secret are required: %w", domain.ErrCredentialsMissing)
	}
	if config.FrameSize < 0 {
		return fmt.Errorf("frame size must be positive, got %d", config.FrameSize)
	}
	if config.FrameInterval < 0 {
		return fmt.Errorf("frame interval must be positive, got %s", config.FrameInterval)
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}
	return nil
}

// NewXunfeiConfigFromEnv creates a new XunfeiConfig from environment variables
func NewXunfeiConfigFromEnv() XunfeiConfig {
	config := XunfeiConfig{
		AppID:     os.Getenv("XUNFEI_APP_ID"),
		APIKey:    os.Getenv("XUNFEI_API_KEY"),
		APISecret: os.Getenv("XUNFEI_API_SECRET"),
		Endpoint:  os.Getenv("XUNFEI_ENDPOINT"),
	}
	if v, err := strconv.Atoi(os.Getenv("XUNFEI_TIMEOUT_SECONDS")); err == nil && v > 0 {
		config.Timeout = time.Duration(v) * time.Second
	}
	return config
}

// XunfeiSpeechToText implements SpeechToText over the Xunfei IAT websocket protocol
type XunfeiSpeechToText struct {
	appID         string
	apiKey        string
	apiSecret     string
	endpoint      string
	frameSize     int
	frameInterval time.Duration
	timeout       time.Duration
	business      frameBusiness
	dialer        *websocket.Dialer
	now           func() time.Time
	logger        *zap.Logger
}

var _ repositories.SpeechToText = (*XunfeiSpeechToText)(nil)

// NewXunfeiSpeechToText creates a new Xunfei speech-to-text client
func NewXunfeiSpeechToText(config XunfeiConfig, logger *zap.Logger) (*XunfeiSpeechToText, error) {
	if err := ValidateXunfeiConfig(config); err != nil {
		return nil, err
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = defaultXunfeiEndpoint
	}
	frameSize := config.FrameSize
	if frameSize == 0 {
		frameSize = defaultFrameSize
	}
	frameInterval := config.FrameInterval
	if frameInterval == 0 {
		frameInterval = defaultFrameInterval
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultSTTTimeout
	}

	business := frameBusiness{
		Language: config.Language,
		Domain:   config.Domain,
		Accent:   config.Accent,
		VADEOS:   config.VADEOS,
		DWA:      defaultDWA,
		PTT:      0,
	}
	if business.Language == "" {
		business.Language = defaultLanguage
	}
	if business.Domain == "" {
		business.Domain = defaultDomain
	}
	if business.Accent == "" {
		business.Accent = defaultAccent
	}
	if business.VADEOS == 0 {
		business.VADEOS = defaultVADEOS
	}

	logger.Info("Xunfei speech client configured",
		zap.String("endpoint", endpoint),
		zap.Int("frameSize", frameSize),
		zap.Duration("frameInterval", frameInterval),
		zap.Duration("timeout", timeout))

	return &XunfeiSpeechToText{
		appID:         config.AppID,
		apiKey:        config.APIKey,
		apiSecret:     config.APISecret,
		endpoint:      endpoint,
		frameSize:     frameSize,
		frameInterval: frameInterval,
		timeout:       timeout,
		business:      business,
		dialer:        &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		now:           time.Now,
		logger:        logger,
	}, nil
}

// sessionState is the protocol state of one transcription session
type sessionState string

const (
	stateConnecting sessionState = "connecting"
	stateStreaming  sessionState = "streaming"
	stateDraining   sessionState = "draining"
	stateTerminal   sessionState = "terminal"
)

type eventKind int

const (
	eventMessage eventKind = iota
	eventDrained
	eventClosed
	eventTransportError
)

// sessionEvent is passed from the socket goroutines to the resolving loop
type sessionEvent struct {
	kind eventKind
	resp *response
	err  error
}

// transcriptionSession is the ephemeral state of one TranscribePCM call
type transcriptionSession struct {
	state     sessionState
	fragments []string
	sent      atomic.Int64
}

func (s *transcriptionSession) transcript(reason repositories.TerminationReason) repositories.Transcript {
	s.state = stateTerminal
	return repositories.Transcript{
		Text:   joinFragments(s.fragments),
		Reason: reason,
		Frames: int(s.sent.Load()),
	}
}

// TranscribePCM implements repositories.SpeechToText
func (x *XunfeiSpeechToText) TranscribePCM(ctx context.Context, pcm []byte) (repositories.Transcript, error) {
	if len(pcm) == 0 {
		return repositories.Transcript{}, domain.ErrEmptyAudio
	}

	authURL, err := BuildAuthURL(x.endpoint, x.apiKey, x.apiSecret, x.now())
	if err != nil {
		return repositories.Transcript{}, err
	}

	session := &transcriptionSession{state: stateConnecting}
	conn, resp, err := x.dialer.DialContext(ctx, authURL, nil)
	if err != nil {
		if resp != nil {
			return repositories.Transcript{}, fmt.Errorf("speech handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return repositories.Transcript{}, fmt.Errorf("failed to connect to speech service: %w", err)
	}
	defer conn.Close()

	timer := time.NewTimer(x.timeout)
	defer timer.Stop()

	done := make(chan struct{})
	defer close(done)

	events := make(chan sessionEvent, 16)
	session.state = stateStreaming
	totalFrames := frameCount(len(pcm), x.frameSize)

	x.logger.Info("STT started", zap.Int("frames", totalFrames), zap.Int("bytes", len(pcm)))

	go x.writeFrames(conn, pcm, totalFrames, &session.sent, events, done)
	go x.readMessages(conn, events, done)

	// Only this loop resolves the call, so it resolves at most once.
	for {
		select {
		case <-timer.C:
			if len(session.fragments) > 0 {
				return x.finish(session, repositories.TerminationTimeoutPartial), nil
			}
			return repositories.Transcript{}, fmt.Errorf("%w after %s", domain.ErrTranscriptionTimeout, x.timeout)

		case <-ctx.Done():
			if len(session.fragments) > 0 {
				return x.finish(session, repositories.TerminationErrorPartial), nil
			}
			return repositories.Transcript{}, fmt.Errorf("transcription aborted: %w", ctx.Err())

		case ev := <-events:
			switch ev.kind {
			case eventDrained:
				session.state = stateDraining
				x.logger.Debug("All frames sent", zap.Int64("frames", session.sent.Load()))

			case eventMessage:
				if ev.resp.Code != 0 {
					session.state = stateTerminal
					return repositories.Transcript{}, &domain.ProtocolError{
						Code:    ev.resp.Code,
						Message: ev.resp.Message,
						SID:     ev.resp.SID,
					}
				}
				session.fragments = append(session.fragments, ev.resp.words()...)
				if ev.resp.final() {
					return x.finish(session, repositories.TerminationComplete), nil
				}

			case eventClosed:
				if len(session.fragments) > 0 {
					return x.finish(session, repositories.TerminationClosed), nil
				}
				return repositories.Transcript{}, fmt.Errorf("speech connection closed before any result: %w", ev.err)

			case eventTransportError:
				if len(session.fragments) > 0 {
					return x.finish(session, repositories.TerminationErrorPartial), nil
				}
				return repositories.Transcript{}, fmt.Errorf("speech connection error: %w", ev.err)
			}
		}
	}
}

func (x *XunfeiSpeechToText) finish(session *transcriptionSession, reason repositories.TerminationReason) repositories.Transcript {
	transcript := session.transcript(reason)
	x.logger.Info("STT finished",
		zap.String("reason", string(reason)),
		zap.Int("chars", utf8.RuneCountInString(transcript.Text)),
		zap.Int("framesSent", transcript.Frames))
	return transcript
}

// writeFrames sends frames strictly in index order, one every frameInterval.
// It is the only writer on conn.
func (x *XunfeiSpeechToText) writeFrames(conn *websocket.Conn, pcm []byte, total int, sent *atomic.Int64, events chan<- sessionEvent, done <-chan struct{}) {
	common := &frameCommon{AppID: x.appID}
	business := x.business

	ticker := time.NewTicker(x.frameInterval)
	defer ticker.Stop()

	for i := 0; i < total; i++ {
		if i > 0 {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}

		payload, err := json.Marshal(buildFrame(pcm, i, x.frameSize, common, &business))
		if err != nil {
			x.emit(events, done, sessionEvent{kind: eventTransportError, err: fmt.Errorf("failed to encode frame %d: %w", i, err)})
			return
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			x.emit(events, done, sessionEvent{kind: eventTransportError, err: fmt.Errorf("failed to send frame %d: %w", i, err)})
			return
		}
		sent.Add(1)
	}

	x.emit(events, done, sessionEvent{kind: eventDrained})
}

// readMessages forwards inbound envelopes in arrival order
func (x *XunfeiSpeechToText) readMessages(conn *websocket.Conn, events chan<- sessionEvent, done <-chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				x.emit(events, done, sessionEvent{kind: eventClosed, err: err})
			} else {
				x.emit(events, done, sessionEvent{kind: eventTransportError, err: err})
			}
			return
		}

		var resp response
		if err := json.Unmarshal(message, &resp); err != nil {
			x.logger.Debug("Ignoring undecodable speech message", zap.Error(err))
			continue
		}
		if !x.emit(events, done, sessionEvent{kind: eventMessage, resp: &resp}) {
			return
		}
	}
}

func (x *XunfeiSpeechToText) emit(events chan<- sessionEvent, done <-chan struct{}, ev sessionEvent) bool {
	select {
	case events <- ev:
		return true
	case <-done:
		return false
	}
}
