package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientInfoFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	req.Header.Set("X-Device-Id", "phone")
	req.Header.Set("X-Forwarded-For", " 10.0.0.1 , 10.0.0.2")

	info := ClientInfoFromRequest(req)
	assert.Equal(t, "req-1", info.RequestID)
	assert.Equal(t, "phone", info.DeviceID)
	assert.Equal(t, "10.0.0.1", info.IP)
}

func TestClientInfoGeneratesRequestID(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"

	info := ClientInfoFromRequest(req)
	assert.NotEmpty(t, info.RequestID)
	assert.Equal(t, "192.0.2.7", info.IP)
}
