// Command lingtinctl submits one recording to a running server and follows its
// status over the live feed until the run settles.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain/entities"
	"github.com/lingtin/lingtin/server/internal/api"
	"github.com/lingtin/lingtin/server/internal/auth"
	feed "github.com/lingtin/lingtin/server/internal/websocket"
	"github.com/lingtin/lingtin/server/usecase"
)

func main() {
	_ = godotenv.Load()

	host := flag.String("host", "localhost:8080", "server host and port")
	recordingID := flag.String("recording", "", "recording id to process")
	audioURL := flag.String("audio", "", "public URL of the recording")
	restaurantID := flag.String("restaurant", "", "restaurant id")
	tableID := flag.String("table", "", "table id")
	tokenOnly := flag.Bool("token", false, "print a service token and exit")
	timeout := flag.Duration("timeout", 5*time.Minute, "how long to wait for the run to settle")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	token, err := serviceToken(logger, *restaurantID)
	if err != nil {
		log.Fatalf("Failed to generate service token: %v", err)
	}
	if *tokenOnly {
		fmt.Println(token)
		return
	}

	req := usecase.ProcessRequest{
		RecordingID:  *recordingID,
		AudioURL:     *audioURL,
		TableID:      *tableID,
		RestaurantID: *restaurantID,
	}
	if err := req.Validate(); err != nil {
		flag.Usage()
		log.Fatalf("Invalid request: %v", err)
	}

	headers := http.Header{}
	if token != "" {
		headers.Add("Authorization", "Bearer "+token)
	}

	// Subscribe before submitting so the processing transition is not missed
	u := url.URL{Scheme: "ws", Host: *host, Path: "/ws/status"}
	log.Printf("connecting to %s", u.String())
	c, _, err := websocket.DefaultDialer.Dial(u.String(), headers)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.WriteJSON(map[string]string{
		"type":         string(feed.MessageTypeSubscribe),
		"recording_id": req.RecordingID,
	}); err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}

	settled := make(chan entities.RecordingStatus, 1)
	go followStatus(c, settled)

	go func() {
		if err := submit(*host, token, req); err != nil {
			log.Printf("❌ %v", err)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	select {
	case status := <-settled:
		log.Printf("Recording %s settled as %s", req.RecordingID, status)
		// Give the HTTP response a moment to print
		time.Sleep(200 * time.Millisecond)
	case <-time.After(*timeout):
		log.Printf("Timed out after %v waiting for %s", *timeout, req.RecordingID)
	case <-interrupt:
		log.Println("interrupt")
	}

	err = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		log.Println("write close:", err)
	}
}

// serviceToken mints a token with the server's shared secret. It returns an
// empty token when JWT_SECRET is unset, matching a server with auth disabled.
func serviceToken(logger *zap.Logger, restaurantID string) (string, error) {
	authenticator := auth.NewAuthenticator(os.Getenv("JWT_SECRET"), logger)
	if !authenticator.Enabled() {
		return "", nil
	}
	return authenticator.GenerateToken("lingtinctl", auth.RoleService, restaurantID, time.Hour)
}

func submit(host, token string, req usecase.ProcessRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequest(http.MethodPost, "http://"+host+"/api/audio/process", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("process request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("process rejected (%d): %s: %s", resp.StatusCode, apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("process rejected (%d): %s", resp.StatusCode, string(raw))
	}

	var result api.ProcessResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}

	log.Printf("📥 Transcript: %s", result.Transcript)
	log.Printf("📥 Corrected: %s", result.CorrectedTranscript)
	log.Printf("📥 Summary: %s (sentiment %.2f)", result.AISummary, result.SentimentScore)
	log.Printf("📥 Keywords: %v", result.Keywords)
	return nil
}

func followStatus(c *websocket.Conn, settled chan<- entities.RecordingStatus) {
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			log.Println("read:", err)
			return
		}

		var base feed.BaseMessage
		if err := json.Unmarshal(message, &base); err != nil {
			log.Println("unmarshal error:", err)
			continue
		}

		switch base.Type {
		case feed.MessageTypeStatus:
			var status feed.StatusMessage
			if err := json.Unmarshal(message, &status); err != nil {
				log.Println("unmarshal error:", err)
				continue
			}
			log.Printf("🎵 %s -> %s %s", status.RecordingID, status.Status, status.Message)
			if status.Status == entities.RecordingStatusProcessed || status.Status == entities.RecordingStatusError {
				settled <- status.Status
				return
			}
		case feed.MessageTypeError:
			var errMsg feed.ErrorMessage
			if err := json.Unmarshal(message, &errMsg); err == nil {
				log.Printf("Server error %s: %s", errMsg.Code, errMsg.Message)
			}
		default:
			log.Printf("Received message type: %s", base.Type)
		}
	}
}
