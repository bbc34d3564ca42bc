package relay

import (
	"encoding/json"
	"fmt"
)

// Upstream message types.
const (
	msgJoinGroup  = "joinGroup"
	msgLeaveGroup = "leaveGroup"
	msgPing       = "ping"
)

type upstream struct {
	Type  string  `json:"type"`
	Group string  `json:"group"`
	AckID *uint64 `json:"ackId,omitempty"`
}

func parseUpstream(data []byte) (*upstream, error) {
	var msg upstream
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal upstream message: %w", err)
	}
	switch msg.Type {
	case msgJoinGroup, msgLeaveGroup:
		if msg.Group == "" {
			return nil, fmt.Errorf("%s without group", msg.Type)
		}
		return &msg, nil
	case msgPing:
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", msg.Type)
	}
}

type ackError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func buildConnectedMessage(connID string) []byte {
	return mustJSON(map[string]any{
		"type":         "system",
		"event":        "connected",
		"connectionId": connID,
	})
}

func buildAckMessage(ackID uint64, err error) []byte {
	msg := map[string]any{
		"type":    "ack",
		"ackId":   ackID,
		"success": err == nil,
	}
	if err != nil {
		msg["error"] = ackError{Name: "JoinFailed", Message: err.Error()}
	}
	return mustJSON(msg)
}

// buildDataMessage wraps payload as a group message. event names the frame:
// "snapshot" or a change kind.
func buildDataMessage(group, event string, payload any) ([]byte, error) {
	data, err := json.Marshal(map[string]any{
		"type":     "message",
		"from":     "group",
		"group":    group,
		"event":    event,
		"dataType": "json",
		"data":     payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s message for %s: %w", event, group, err)
	}
	return data, nil
}

func buildPongMessage() []byte {
	return mustJSON(map[string]any{"type": "pong"})
}

func mustJSON(v map[string]any) []byte {
	data, _ := json.Marshal(v)
	return data
}
