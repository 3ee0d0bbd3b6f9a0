package stt_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/lingtin/lingtin/server/adapters/stt"
	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/repositories"
)

func TestBuildAuthURL(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	signed, err := stt.BuildAuthURL("wss://iat-api.xfyun.cn/v2/iat", "key", "secret", now)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("Failed to parse signed url: %v", err)
	}
	if u.Scheme != "wss" || u.Host != "iat-api.xfyun.cn" || u.Path != "/v2/iat" {
		t.Errorf("Expected endpoint to be preserved, got %s", signed)
	}

	query := u.Query()
	if got := query.Get("date"); got != "Tue, 02 Jan 2024 03:04:05 GMT" {
		t.Errorf("Expected RFC1123 GMT date, got %q", got)
	}
	if got := query.Get("host"); got != "iat-api.xfyun.cn" {
		t.Errorf("Expected host iat-api.xfyun.cn, got %q", got)
	}
	want := "YXBpX2tleT0ia2V5IiwgYWxnb3JpdGhtPSJobWFjLXNoYTI1NiIsIGhlYWRlcnM9Imhvc3QgZGF0ZSByZXF1ZXN0LWxpbmUiLCBzaWduYXR1cmU9Im1PcS9lTE1JQWJhbXpTWENIcENzTHNPdG94VUhJQS9hOHJFbW4yTm9aL289Ig=="
	if got := query.Get("authorization"); got != want {
		t.Errorf("Expected authorization %q, got %q", want, got)
	}
}

func TestBuildAuthURLInvalidEndpoint(t *testing.T) {
	if _, err := stt.BuildAuthURL("not a url", "key", "secret", time.Now()); err == nil {
		t.Error("Expected error for endpoint without host")
	}
}

func TestNewXunfeiSpeechToTextRequiresCredentials(t *testing.T) {
	_, err := stt.NewXunfeiSpeechToText(stt.XunfeiConfig{AppID: "app"}, zaptest.NewLogger(t))
	if !errors.Is(err, domain.ErrCredentialsMissing) {
		t.Errorf("Expected ErrCredentialsMissing, got %v", err)
	}
}

// inboundFrame is what the fake service decodes from each client message
type inboundFrame struct {
	Common   map[string]interface{} `json:"common"`
	Business map[string]interface{} `json:"business"`
	Data     struct {
		Status int    `json:"status"`
		Audio  string `json:"audio"`
	} `json:"data"`
	receivedAt time.Time
}

// fakeIAT is a scripted speech service
type fakeIAT struct {
	t      *testing.T
	script func(conn *websocket.Conn, frames <-chan inboundFrame)

	mu       sync.Mutex
	received []inboundFrame
}

func (f *fakeIAT) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("authorization") == "" || q.Get("date") == "" || q.Get("host") == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("Failed to upgrade: %v", err)
		return
	}
	defer conn.Close()

	frames := make(chan inboundFrame, 256)
	go func() {
		defer close(frames)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame inboundFrame
			if err := json.Unmarshal(msg, &frame); err != nil {
				f.t.Errorf("Failed to decode frame: %v", err)
				return
			}
			frame.receivedAt = time.Now()
			f.mu.Lock()
			f.received = append(f.received, frame)
			f.mu.Unlock()
			frames <- frame
		}
	}()

	f.script(conn, frames)
}

func (f *fakeIAT) frames() []inboundFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]inboundFrame(nil), f.received...)
}

func newFakeIAT(t *testing.T, script func(conn *websocket.Conn, frames <-chan inboundFrame)) (*fakeIAT, string) {
	t.Helper()
	fake := &fakeIAT{t: t, script: script}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return fake, "ws" + strings.TrimPrefix(server.URL, "http") + "/v2/iat"
}

func newTestClient(t *testing.T, endpoint string, interval, timeout time.Duration) *stt.XunfeiSpeechToText {
	t.Helper()
	client, err := stt.NewXunfeiSpeechToText(stt.XunfeiConfig{
		AppID:         "app",
		APIKey:        "key",
		APISecret:     "secret",
		Endpoint:      endpoint,
		FrameInterval: interval,
		Timeout:       timeout,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func sendResult(conn *websocket.Conn, status int, words ...string) error {
	ws := make([]map[string]interface{}, 0, len(words))
	for _, w := range words {
		ws = append(ws, map[string]interface{}{"cw": []map[string]string{{"w": w}}})
	}
	return conn.WriteJSON(map[string]interface{}{
		"code": 0,
		"sid":  "iat-test",
		"data": map[string]interface{}{
			"status": status,
			"result": map[string]interface{}{"ws": ws},
		},
	})
}

// waitForLast drains frames until the status 2 frame arrives
func waitForLast(frames <-chan inboundFrame) bool {
	for frame := range frames {
		if frame.Data.Status == 2 {
			return true
		}
	}
	return false
}

// drain blocks until the client goes away
func drain(frames <-chan inboundFrame) {
	for range frames {
	}
}

func TestTranscribePCMComplete(t *testing.T) {
	fake, endpoint := newFakeIAT(t, func(conn *websocket.Conn, frames <-chan inboundFrame) {
		if !waitForLast(frames) {
			return
		}
		time.Sleep(20 * time.Millisecond)
		sendResult(conn, 1, "今天的", "清蒸")
		sendResult(conn, 2, "鲈鱼")
		drain(frames)
	})
	client := newTestClient(t, endpoint, 5*time.Millisecond, 5*time.Second)

	pcm := make([]byte, 1280*3+100)
	transcript, err := client.TranscribePCM(context.Background(), pcm)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if transcript.Text != "今天的清蒸鲈鱼" {
		t.Errorf("Expected 今天的清蒸鲈鱼, got %q", transcript.Text)
	}
	if transcript.Reason != repositories.TerminationComplete {
		t.Errorf("Expected reason complete, got %s", transcript.Reason)
	}
	if transcript.Frames != 4 {
		t.Errorf("Expected 4 frames sent, got %d", transcript.Frames)
	}

	received := fake.frames()
	if len(received) != 4 {
		t.Fatalf("Expected 4 frames received, got %d", len(received))
	}
	wantStatus := []int{0, 1, 1, 2}
	for i, frame := range received {
		if frame.Data.Status != wantStatus[i] {
			t.Errorf("Frame %d: expected status %d, got %d", i, wantStatus[i], frame.Data.Status)
		}
		if (i == 0) != (frame.Common != nil) {
			t.Errorf("Frame %d: unexpected common section presence", i)
		}
	}
	if received[0].Common["app_id"] != "app" {
		t.Errorf("Expected app_id app, got %v", received[0].Common["app_id"])
	}
	if received[0].Business["language"] != "zh_cn" || received[0].Business["accent"] != "mandarin" {
		t.Errorf("Unexpected business section %v", received[0].Business)
	}
}

func TestTranscribePCMSingleFrame(t *testing.T) {
	fake, endpoint := newFakeIAT(t, func(conn *websocket.Conn, frames <-chan inboundFrame) {
		if waitForLast(frames) {
			sendResult(conn, 2, "好")
		}
		drain(frames)
	})
	client := newTestClient(t, endpoint, 5*time.Millisecond, 5*time.Second)

	transcript, err := client.TranscribePCM(context.Background(), make([]byte, 640))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if transcript.Text != "好" {
		t.Errorf("Expected 好, got %q", transcript.Text)
	}
	received := fake.frames()
	if len(received) != 1 || received[0].Data.Status != 2 {
		t.Errorf("Expected exactly one frame with status 2, got %+v", received)
	}
}

func TestTranscribePCMEarlyCompletion(t *testing.T) {
	_, endpoint := newFakeIAT(t, func(conn *websocket.Conn, frames <-chan inboundFrame) {
		<-frames
		sendResult(conn, 2, "提前结束")
		drain(frames)
	})
	client := newTestClient(t, endpoint, 50*time.Millisecond, 5*time.Second)

	start := time.Now()
	transcript, err := client.TranscribePCM(context.Background(), make([]byte, 1280*20))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if transcript.Reason != repositories.TerminationComplete {
		t.Errorf("Expected reason complete, got %s", transcript.Reason)
	}
	if transcript.Frames >= 20 {
		t.Errorf("Expected streaming to stop early, sent %d frames", transcript.Frames)
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("Expected early resolution, took %s", elapsed)
	}
}

func TestTranscribePCMProtocolError(t *testing.T) {
	_, endpoint := newFakeIAT(t, func(conn *websocket.Conn, frames <-chan inboundFrame) {
		<-frames
		conn.WriteJSON(map[string]interface{}{"code": 10165, "message": "invalid handle", "sid": "iat-err"})
		drain(frames)
	})
	client := newTestClient(t, endpoint, 5*time.Millisecond, 5*time.Second)

	_, err := client.TranscribePCM(context.Background(), make([]byte, 2560))
	var protocolErr *domain.ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Fatalf("Expected ProtocolError, got %v", err)
	}
	if protocolErr.Code != 10165 || protocolErr.SID != "iat-err" {
		t.Errorf("Unexpected protocol error %+v", protocolErr)
	}
	if !domain.IsFatal(err) {
		t.Error("Expected protocol error to be fatal")
	}
}

func TestTranscribePCMTimeout(t *testing.T) {
	t.Run("partial", func(t *testing.T) {
		_, endpoint := newFakeIAT(t, func(conn *websocket.Conn, frames <-chan inboundFrame) {
			<-frames
			sendResult(conn, 1, "等的时间")
			drain(frames)
		})
		client := newTestClient(t, endpoint, 5*time.Millisecond, 200*time.Millisecond)

		transcript, err := client.TranscribePCM(context.Background(), make([]byte, 1280))
		if err != nil {
			t.Fatalf("Expected partial transcript, got %v", err)
		}
		if transcript.Reason != repositories.TerminationTimeoutPartial {
			t.Errorf("Expected reason timeout-partial, got %s", transcript.Reason)
		}
		if transcript.Text != "等的时间" {
			t.Errorf("Expected 等的时间, got %q", transcript.Text)
		}
		if !transcript.Partial() {
			t.Error("Expected transcript to be partial")
		}
	})

	t.Run("empty", func(t *testing.T) {
		_, endpoint := newFakeIAT(t, func(conn *websocket.Conn, frames <-chan inboundFrame) {
			drain(frames)
		})
		client := newTestClient(t, endpoint, 5*time.Millisecond, 200*time.Millisecond)

		_, err := client.TranscribePCM(context.Background(), make([]byte, 1280))
		if !errors.Is(err, domain.ErrTranscriptionTimeout) {
			t.Errorf("Expected ErrTranscriptionTimeout, got %v", err)
		}
	})
}

func TestTranscribePCMPeerClose(t *testing.T) {
	t.Run("after fragments", func(t *testing.T) {
		_, endpoint := newFakeIAT(t, func(conn *websocket.Conn, frames <-chan inboundFrame) {
			<-frames
			sendResult(conn, 1, "服务态度很好")
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		})
		client := newTestClient(t, endpoint, 5*time.Millisecond, 5*time.Second)

		transcript, err := client.TranscribePCM(context.Background(), make([]byte, 1280*3))
		if err != nil {
			t.Fatalf("Expected partial transcript, got %v", err)
		}
		if transcript.Reason != repositories.TerminationClosed {
			t.Errorf("Expected reason closed, got %s", transcript.Reason)
		}
		if transcript.Text != "服务态度很好" {
			t.Errorf("Expected 服务态度很好, got %q", transcript.Text)
		}
	})

	t.Run("without fragments", func(t *testing.T) {
		_, endpoint := newFakeIAT(t, func(conn *websocket.Conn, frames <-chan inboundFrame) {
			conn.UnderlyingConn().Close()
		})
		client := newTestClient(t, endpoint, 5*time.Millisecond, 5*time.Second)

		start := time.Now()
		_, err := client.TranscribePCM(context.Background(), make([]byte, 1280*3))
		if err == nil {
			t.Fatal("Expected error when the connection drops before any result")
		}
		if errors.Is(err, domain.ErrTranscriptionTimeout) {
			t.Errorf("Expected immediate failure instead of timeout, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("Expected failure without waiting for the timeout, took %s", elapsed)
		}
	})
}

func TestTranscribePCMTransportErrorKeepsFragments(t *testing.T) {
	t.Run("after fragments", func(t *testing.T) {
		_, endpoint := newFakeIAT(t, func(conn *websocket.Conn, frames <-chan inboundFrame) {
			<-frames
			sendResult(conn, 1, "清蒸")
			sendResult(conn, 1, "鲈鱼")
			sendResult(conn, 1, "很新鲜")
			// A frame with reserved opcode 3 is a protocol violation, not a close
			conn.UnderlyingConn().Write([]byte{0x83, 0x00})
			drain(frames)
		})
		client := newTestClient(t, endpoint, 5*time.Millisecond, 5*time.Second)

		transcript, err := client.TranscribePCM(context.Background(), make([]byte, 1280*3))
		if err != nil {
			t.Fatalf("Expected partial transcript, got %v", err)
		}
		if transcript.Reason != repositories.TerminationErrorPartial {
			t.Errorf("Expected reason error-partial, got %s", transcript.Reason)
		}
		if transcript.Text != "清蒸鲈鱼很新鲜" {
			t.Errorf("Expected 清蒸鲈鱼很新鲜, got %q", transcript.Text)
		}
	})

	t.Run("without fragments", func(t *testing.T) {
		_, endpoint := newFakeIAT(t, func(conn *websocket.Conn, frames <-chan inboundFrame) {
			<-frames
			conn.UnderlyingConn().Write([]byte{0x83, 0x00})
			drain(frames)
		})
		client := newTestClient(t, endpoint, 5*time.Millisecond, 5*time.Second)

		_, err := client.TranscribePCM(context.Background(), make([]byte, 1280*3))
		if err == nil || !strings.Contains(err.Error(), "speech connection error") {
			t.Errorf("Expected connection error, got %v", err)
		}
		if domain.IsFatal(err) {
			t.Error("Expected transport failure not to be fatal")
		}
	})
}

func TestTranscribePCMPacing(t *testing.T) {
	const interval = 30 * time.Millisecond

	fake, endpoint := newFakeIAT(t, func(conn *websocket.Conn, frames <-chan inboundFrame) {
		if waitForLast(frames) {
			sendResult(conn, 2, "ok")
		}
		drain(frames)
	})
	client := newTestClient(t, endpoint, interval, 5*time.Second)

	if _, err := client.TranscribePCM(context.Background(), make([]byte, 1280*5)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	received := fake.frames()
	if len(received) != 5 {
		t.Fatalf("Expected 5 frames, got %d", len(received))
	}
	span := received[4].receivedAt.Sub(received[0].receivedAt)
	if span < 100*time.Millisecond {
		t.Errorf("Expected frames to be paced about %s apart, whole stream took %s", interval, span)
	}
}

func TestTranscribePCMHandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, "ws"+strings.TrimPrefix(server.URL, "http")+"/v2/iat", 5*time.Millisecond, time.Second)
	_, err := client.TranscribePCM(context.Background(), make([]byte, 1280))
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("Expected handshake error with status 401, got %v", err)
	}
	if domain.IsFatal(err) {
		t.Error("Expected handshake failure not to be fatal")
	}
}

func TestTranscribePCMEmptyAudio(t *testing.T) {
	client := newTestClient(t, "ws://127.0.0.1:1/v2/iat", 5*time.Millisecond, time.Second)
	if _, err := client.TranscribePCM(context.Background(), nil); !errors.Is(err, domain.ErrEmptyAudio) {
		t.Errorf("Expected ErrEmptyAudio, got %v", err)
	}
}
