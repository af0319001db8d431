package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"market-chat/internal/models"
)

// PublisherMock stands in for the AMQP publisher.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// EventPublisherMock stands in for a change-feed publisher.
type EventPublisherMock struct {
	mock.Mock
}

func (m *EventPublisherMock) Publish(ctx context.Context, event models.ChatEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
