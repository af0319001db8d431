package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"market-chat/internal/apperr"
	"market-chat/internal/auth"
	"market-chat/internal/feed"
	"market-chat/internal/handlers"
	"market-chat/internal/middleware"
	"market-chat/internal/mocks"
	"market-chat/internal/models"
	"market-chat/internal/session"
	"market-chat/internal/ws"
)

var (
	_ session.API  = (*Client)(nil)
	_ session.Feed = (*Feed)(nil)
)

const testSecret = "test-secret"

func startServer(t *testing.T) (*mocks.ChatServiceMock, *feed.Broker, string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := new(mocks.ChatServiceMock)
	broker := feed.NewBroker()
	verifier := auth.NewVerifier(testSecret, "")

	r := gin.New()
	api := r.Group("/", middleware.AuthMiddleware(verifier))
	handlers.NewConversationHandler(svc, zerolog.Nop()).Register(api)
	hub := ws.NewHub(broker, nil, zerolog.Nop())
	r.GET("/ws/conversations/:conversation_id", middleware.WebSocketAuthMiddleware(verifier),
		ws.NewConversationWebSocketHandler(hub, svc, zerolog.Nop()).Handle)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	token, err := verifier.Issue("u1", time.Hour)
	require.NoError(t, err)
	return svc, broker, srv.URL, token
}

func TestClientRoundTrips(t *testing.T) {
	svc, _, base, token := startServer(t)
	c := New(base, token)
	ctx := context.Background()

	svc.On("GetOrCreateDirectConversation", mock.Anything, "u1", "u2").Return("c1", nil).Once()
	svc.On("ListMessages", mock.Anything, "u1", "c1", models.PageRequest{Limit: 10, Cursor: "x", Desc: true}).
		Return(models.MessagePage{Messages: []models.Message{{ID: "m1"}}}, nil).Once()
	svc.On("Send", mock.Anything, "u1", "c1", "hi", "k1").Return(models.Message{ID: "m2", Content: "hi"}, true, nil).Once()
	svc.On("MarkRead", mock.Anything, "u1", "c1", time.Time{}).Return(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), nil).Once()
	svc.On("TotalUnread", mock.Anything, "u1").Return(4, nil).Once()
	svc.On("Leave", mock.Anything, "u1", "c1").Return(nil).Once()

	id, err := c.StartConversation(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "c1", id)

	page, err := c.ListMessages(ctx, "c1", models.PageRequest{Limit: 10, Cursor: "x", Desc: true})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)

	msg, err := c.Send(ctx, "c1", "hi", "k1")
	require.NoError(t, err)
	assert.Equal(t, "m2", msg.ID)

	at, err := c.MarkRead(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2024, at.Year())

	n, err := c.TotalUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, c.Leave(ctx, "c1"))
	svc.AssertExpectations(t)
}

func TestClientMapsErrors(t *testing.T) {
	svc, _, base, token := startServer(t)
	ctx := context.Background()

	svc.On("Conversation", mock.Anything, "u1", "c9").Return(nil, apperr.ErrNotMember).Once()
	svc.On("Send", mock.Anything, "u1", "c1", "", "").Return(nil, false, apperr.ErrEmptyContent).Once()

	_, err := New(base, token).Conversation(ctx, "c9")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = New(base, token).Send(ctx, "c1", "", "")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = New(base, "bogus").ListConversations(ctx)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))
}

func TestClientRejectsMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_unread":`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "t").TotalUnread(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
}

func TestFeedSubscribe(t *testing.T) {
	svc, broker, base, token := startServer(t)
	svc.On("VerifyMembership", mock.Anything, "c1", "u1").Return(nil).Once()

	got := make(chan models.ChatEvent, 1)
	closed := make(chan error, 1)
	cancel, err := NewFeed(base, token, zerolog.Nop()).Subscribe(context.Background(), "c1", func(ev models.ChatEvent) {
		got <- ev
	}, func(err error) { closed <- err })
	require.NoError(t, err)
	defer cancel()

	require.Eventually(t, func() bool { return broker.Subscribers("c1") == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := models.Message{ID: "m1", ConversationID: "c1"}
	broker.Deliver(models.ChatEvent{Type: models.EventMessageCreated, ConversationID: "c1", Message: &msg})

	select {
	case ev := <-got:
		require.NotNil(t, ev.Message)
		assert.Equal(t, "m1", ev.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	require.Eventually(t, func() bool { return broker.Subscribers("c1") == 0 }, 2*time.Second, 10*time.Millisecond)
	select {
	case err := <-closed:
		t.Fatalf("onClosed called after cancel: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedSubscribeRejected(t *testing.T) {
	svc, _, base, token := startServer(t)
	svc.On("VerifyMembership", mock.Anything, "c9", "u1").Return(apperr.ErrNotMember).Once()

	_, err := NewFeed(base, token, zerolog.Nop()).Subscribe(context.Background(), "c9", func(models.ChatEvent) {}, nil)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

// connRecorder dials TCP and keeps the raw connections so a test can cut them.
type connRecorder struct {
	mu    sync.Mutex
	conns []net.Conn
}

func (r *connRecorder) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, network, addr)
	if err == nil {
		r.mu.Lock()
		r.conns = append(r.conns, conn)
		r.mu.Unlock()
	}
	return conn, err
}

func (r *connRecorder) cutAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		_ = c.Close()
	}
	r.conns = nil
}

func TestFeedReportsDroppedConnection(t *testing.T) {
	svc, broker, base, token := startServer(t)
	svc.On("VerifyMembership", mock.Anything, "c1", "u1").Return(nil).Once()

	rec := &connRecorder{}
	f := NewFeed(base, token, zerolog.Nop())
	f.Dialer = &websocket.Dialer{NetDialContext: rec.dial}

	closed := make(chan error, 1)
	cancel, err := f.Subscribe(context.Background(), "c1", func(models.ChatEvent) {}, func(err error) { closed <- err })
	require.NoError(t, err)
	defer cancel()
	require.Eventually(t, func() bool { return broker.Subscribers("c1") == 1 }, 2*time.Second, 10*time.Millisecond)

	rec.cutAll()

	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("onClosed not called")
	}
}

func TestSessionRecoversAfterFeedDrop(t *testing.T) {
	svc, broker, base, token := startServer(t)
	newest := models.PageRequest{Limit: 20, Desc: true}
	later := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	missed := models.Message{ID: "m8", ConversationID: "c1", SenderID: "u2", Content: "while away", CreatedAt: later}

	svc.On("VerifyMembership", mock.Anything, "c1", "u1").Return(nil)
	svc.On("Conversation", mock.Anything, "u1", "c1").Return(models.ConversationSummary{ConversationID: "c1"}, nil).Once()
	svc.On("ListMessages", mock.Anything, "u1", "c1", newest).Return(models.MessagePage{}, nil).Once()
	svc.On("ListMessages", mock.Anything, "u1", "c1", newest).Return(models.MessagePage{Messages: []models.Message{missed}}, nil)
	svc.On("MarkRead", mock.Anything, "u1", "c1", time.Time{}).Return(later, nil)

	rec := &connRecorder{}
	f := NewFeed(base, token, zerolog.Nop())
	f.Dialer = &websocket.Dialer{NetDialContext: rec.dial}

	ctrl := session.New(New(base, token), f, "c1", "u1", session.Options{
		PageSize:     20,
		Logger:       zerolog.Nop(),
		ReconnectMin: 200 * time.Millisecond,
		ReconnectMax: time.Second,
	})
	defer ctrl.Close()
	require.NoError(t, ctrl.Open(context.Background()))
	require.Eventually(t, func() bool { return broker.Subscribers("c1") == 1 }, 2*time.Second, 10*time.Millisecond)

	rec.cutAll()
	require.Eventually(t, func() bool {
		return ctrl.State() == session.StateError && errors.Is(ctrl.Err(), session.ErrFeedLost)
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return ctrl.State() == session.StateReady && broker.Subscribers("c1") == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, ctrl.Err())

	live := models.Message{ID: "m9", ConversationID: "c1", SenderID: "u2", Content: "back", CreatedAt: later.Add(time.Second)}
	broker.Deliver(models.ChatEvent{Type: models.EventMessageCreated, ConversationID: "c1", Message: &live})

	require.Eventually(t, func() bool {
		var got []string
		for _, e := range ctrl.Messages() {
			got = append(got, e.Message.ID)
		}
		return assert.ObjectsAreEqual([]string{"m8", "m9"}, got)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWSURL(t *testing.T) {
	u, err := wsURL("https://chat.example.com/", "/ws/conversations/c1")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws/conversations/c1", u)

	u, err = wsURL("http://127.0.0.1:8083", "/ws/conversations/c1")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8083/ws/conversations/c1", u)
}
