package ws

import "time"

// ConnInfo identifies one websocket connection in lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

type connEvent struct {
	WS       connDetail   `json:"ws"`
	Identity connIdentity `json:"identity"`
}

type connDetail struct {
	ConversationID string `json:"conversation_id"`
	Event          string `json:"event"`
	ConnID         string `json:"conn_id"`
	DurationMS     int64  `json:"duration_ms"`
	Reason         string `json:"reason,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
}

type connIdentity struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
	IP       string `json:"ip,omitempty"`
}

// lifecycle builds the payload for a connect/disconnect event. Duration is
// zero on connect.
func (i ConnInfo) lifecycle(conversationID, event, reason string, now time.Time) connEvent {
	var duration int64
	if event != eventConnect {
		duration = now.Sub(i.ConnectedAt).Milliseconds()
	}
	return connEvent{
		WS: connDetail{
			ConversationID: conversationID,
			Event:          event,
			ConnID:         i.ConnID,
			DurationMS:     duration,
			Reason:         reason,
			TraceID:        i.TraceID,
		},
		Identity: connIdentity{UserID: i.UserID, DeviceID: i.DeviceID, IP: i.IP},
	}
}
