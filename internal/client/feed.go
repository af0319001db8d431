package client

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"market-chat/internal/apperr"
	"market-chat/internal/models"
)

// Feed subscribes to conversation events over the websocket endpoint.
type Feed struct {
	BaseURL string
	Token   string
	Dialer  *websocket.Dialer
	Logger  zerolog.Logger
}

func NewFeed(baseURL, token string, logger zerolog.Logger) *Feed {
	return &Feed{BaseURL: baseURL, Token: token, Dialer: websocket.DefaultDialer, Logger: logger}
}

// Subscribe dials the conversation's stream and calls onEvent from a reader
// goroutine. When the connection ends without cancel, onClosed receives the
// read error; the caller decides whether to subscribe again. Events already
// read may still be delivered after cancel returns.
func (f *Feed) Subscribe(ctx context.Context, conversationID string, onEvent func(models.ChatEvent), onClosed func(error)) (func(), error) {
	endpoint, err := wsURL(f.BaseURL, "/ws/conversations/"+url.PathEscape(conversationID))
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.Token)

	conn, resp, err := f.Dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			return nil, decodeError(resp.StatusCode, body)
		}
		return nil, apperr.Unavailable("dial feed", err)
	}

	var canceled atomic.Bool
	go func() {
		for {
			var ev models.ChatEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if canceled.Load() {
					return
				}
				f.Logger.Debug().Err(err).Str("conversation_id", conversationID).Msg("feed connection ended")
				conn.Close()
				if onClosed != nil {
					onClosed(err)
				}
				return
			}
			onEvent(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			canceled.Store(true)
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		})
	}, nil
}

func wsURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
