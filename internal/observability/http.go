package observability

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader is read from and echoed to clients.
const RequestIDHeader = "X-Request-Id"

// ClientInfo identifies the caller behind a request in audit and ws events.
type ClientInfo struct {
	RequestID string
	DeviceID  string
	IP        string
}

// ClientInfoFromRequest extracts ClientInfo, generating a request id when the
// client did not send one.
func ClientInfoFromRequest(r *http.Request) ClientInfo {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return ClientInfo{
		RequestID: requestID,
		DeviceID:  r.Header.Get("X-Device-Id"),
		IP:        clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
