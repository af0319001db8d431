package rabbitmq

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"market-chat/internal/models"
	"market-chat/internal/observability"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *publisherMock) Close() error {
	return m.Called().Error(0)
}

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	p := NewPublisher("", "chat.events", zerolog.Nop())

	assert.Equal(t, "noop", PublisherMode(p))
	assert.Equal(t, "empty amqp url", PublisherNoopReason(p))
	require.NoError(t, p.Publish(context.Background(), "chat.message_created", map[string]string{}))
	require.NoError(t, p.Close())
}

func TestEventPublisherRoutingKey(t *testing.T) {
	inner := new(publisherMock)
	event := models.ChatEvent{Type: models.EventMessageCreated, ConversationID: "c1"}
	inner.On("Publish", mock.Anything, "chat.message_created", event).Return(nil).Once()

	require.NoError(t, NewEventPublisher(inner).Publish(context.Background(), event))
	inner.AssertExpectations(t)
}

func TestHeadersCarryRequestID(t *testing.T) {
	ctx := observability.WithRequestID(context.Background(), "req-9")

	headers := headersFromContext(ctx)
	assert.Equal(t, "req-9", headers["x-request-id"])
	_, hasTrace := headers["trace_id"]
	assert.False(t, hasTrace)
}
