package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lingtin/lingtin/server/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeStatus      MessageType = "recording_status"
	MessageTypeError       MessageType = "error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

// SubscribeMessage narrows (or widens) the recordings a client is told about.
// An empty restaurant id subscribes to every restaurant.
type SubscribeMessage struct {
	BaseMessage
	RestaurantID string `json:"restaurant_id,omitempty"`
	RecordingID  string `json:"recording_id,omitempty"`
}

// PingMessage represents an application-level ping
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// StatusMessage announces a recording status transition
type StatusMessage struct {
	BaseMessage
	RecordingID  string                   `json:"recording_id"`
	RestaurantID string                   `json:"restaurant_id,omitempty"`
	Status       entities.RecordingStatus `json:"status"`
	Message      string                   `json:"message,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// MessageValidator provides validation for incoming WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses and validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		var msg SubscribeMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid %s message: %w", base.Type, err)
		}
		if msg.RestaurantID != "" && msg.RecordingID != "" {
			return nil, fmt.Errorf("subscribe to a restaurant or a recording, not both")
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	case "":
		return nil, fmt.Errorf("message type is required")

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// CreateStatusMessage creates a status announcement
func CreateStatusMessage(recordingID, restaurantID string, status entities.RecordingStatus, message string) *StatusMessage {
	return &StatusMessage{
		BaseMessage:  newBase(MessageTypeStatus),
		RecordingID:  recordingID,
		RestaurantID: restaurantID,
		Status:       status,
		Message:      message,
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong),
		Data:        data,
	}
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}
