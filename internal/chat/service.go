// Package chat implements direct conversations: the conversation directory,
// membership checks, the message log and unread tracking. Every operation
// acts on behalf of an authenticated user.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"market-chat/internal/apperr"
	"market-chat/internal/feed"
	"market-chat/internal/models"
	"market-chat/internal/observability"
	"market-chat/internal/repositories"
	"market-chat/internal/telemetry"
)

var tracer = otel.Tracer("market-chat/chat")

// Options carries the service's collaborators.
type Options struct {
	Conversations repositories.ConversationRepository
	Participants  repositories.ParticipantRepository
	Messages      repositories.MessageRepository
	Profiles      repositories.ProfileLookup
	Events        feed.Publisher
	Audit         *telemetry.AuditEmitter
	Logger        zerolog.Logger
}

// Service is the direct messaging core.
type Service struct {
	conversations repositories.ConversationRepository
	participants  repositories.ParticipantRepository
	messages      repositories.MessageRepository
	profiles      repositories.ProfileLookup
	events        feed.Publisher
	audit         *telemetry.AuditEmitter
	logger        zerolog.Logger
}

// NewService builds a Service.
func NewService(opts Options) *Service {
	return &Service{
		conversations: opts.Conversations,
		participants:  opts.Participants,
		messages:      opts.Messages,
		profiles:      opts.Profiles,
		events:        opts.Events,
		audit:         opts.Audit,
		logger:        opts.Logger,
	}
}

// GetOrCreateDirectConversation returns the id of the conversation between me
// and other, creating it on first contact.
func (s *Service) GetOrCreateDirectConversation(ctx context.Context, me, other string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "chat.GetOrCreateDirectConversation")
	defer func() { endSpan(span, err) }()

	if me == "" {
		return "", apperr.ErrUnauthenticated
	}
	if other == "" {
		return "", apperr.InvalidArgument("user_id is required")
	}
	if me == other {
		return "", apperr.ErrSelfConversation
	}
	if _, err := s.profiles.GetProfile(ctx, other); err != nil {
		return "", err
	}

	conv, created, err := s.conversations.GetOrCreateDirect(ctx, me, other)
	if err != nil {
		return "", fmt.Errorf("get or create conversation: %w", err)
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID), attribute.Bool("conversation.created", created))
	if created {
		observability.IncConversationsCreated()
		s.emitAudit(ctx, "INFO", "conversation_created", conv.ID, me, "direct conversation created")
	}
	return conv.ID, nil
}

// ListConversations returns summaries of the conversations me is active in,
// most recently active first.
func (s *Service) ListConversations(ctx context.Context, me string) (_ []models.ConversationSummary, err error) {
	ctx, span := tracer.Start(ctx, "chat.ListConversations")
	defer func() { endSpan(span, err) }()

	if me == "" {
		return nil, apperr.ErrUnauthenticated
	}
	views, err := s.conversations.ListViews(ctx, me)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	otherIDs := make([]string, 0, len(views))
	for _, v := range views {
		if v.OtherActive {
			otherIDs = append(otherIDs, v.OtherUserID)
		}
	}
	profiles := s.lookupProfiles(ctx, otherIDs)

	summaries := make([]models.ConversationSummary, 0, len(views))
	for _, v := range views {
		summaries = append(summaries, buildSummary(v, profiles))
	}
	return summaries, nil
}

// Conversation returns one conversation's summary for a member.
func (s *Service) Conversation(ctx context.Context, me, conversationID string) (_ models.ConversationSummary, err error) {
	ctx, span := tracer.Start(ctx, "chat.Conversation", trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer func() { endSpan(span, err) }()

	if me == "" {
		return models.ConversationSummary{}, apperr.ErrUnauthenticated
	}
	view, err := s.conversations.GetView(ctx, conversationID, me)
	if err != nil {
		return models.ConversationSummary{}, s.membershipError(ctx, err, conversationID, me)
	}
	var ids []string
	if view.OtherActive {
		ids = []string{view.OtherUserID}
	}
	return buildSummary(view, s.lookupProfiles(ctx, ids)), nil
}

// Participants lists the active participants of a conversation me belongs to.
func (s *Service) Participants(ctx context.Context, me, conversationID string) (_ []string, err error) {
	ctx, span := tracer.Start(ctx, "chat.Participants", trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer func() { endSpan(span, err) }()

	if err := s.verifyMembership(ctx, conversationID, me); err != nil {
		return nil, err
	}
	return s.participants.ListActiveParticipants(ctx, conversationID)
}

// ListMessages returns a page of the conversation's messages.
func (s *Service) ListMessages(ctx context.Context, me, conversationID string, page models.PageRequest) (_ models.MessagePage, err error) {
	ctx, span := tracer.Start(ctx, "chat.ListMessages", trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer func() { endSpan(span, err) }()

	if err := s.verifyMembership(ctx, conversationID, me); err != nil {
		return models.MessagePage{}, err
	}
	return s.messages.ListMessages(ctx, conversationID, page.Normalized())
}

// Send appends a message from me. A repeated clientMessageID returns the
// originally stored message with created=false and publishes nothing.
func (s *Service) Send(ctx context.Context, me, conversationID, content, clientMessageID string) (_ models.Message, created bool, err error) {
	ctx, span := tracer.Start(ctx, "chat.Send", trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer func() { endSpan(span, err) }()

	if me == "" {
		return models.Message{}, false, apperr.ErrUnauthenticated
	}
	content = strings.TrimSpace(content)
	if content == "" {
		observability.IncMessagesSent("rejected")
		return models.Message{}, false, apperr.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > models.MaxContentRunes {
		observability.IncMessagesSent("rejected")
		return models.Message{}, false, apperr.ErrContentTooLong
	}

	participant, err := s.participants.GetParticipant(ctx, conversationID, me)
	if err != nil {
		return models.Message{}, false, s.membershipError(ctx, err, conversationID, me)
	}
	if !participant.IsActive {
		return models.Message{}, false, apperr.ErrInactiveMember
	}

	var key *string
	if clientMessageID != "" {
		key = &clientMessageID
	}
	msg, created, err := s.messages.CreateMessage(ctx, conversationID, me, content, key)
	if err != nil {
		return models.Message{}, false, fmt.Errorf("store message: %w", err)
	}
	if !created {
		observability.IncMessagesSent("replayed")
		return msg, false, nil
	}

	observability.IncMessagesSent("created")
	s.publish(ctx, models.ChatEvent{Type: models.EventMessageCreated, ConversationID: conversationID, Message: &msg})
	return msg, true, nil
}

// MarkRead advances me's read marker to at, or to now when at is zero.
// Returns the marker in effect.
func (s *Service) MarkRead(ctx context.Context, me, conversationID string, at time.Time) (_ time.Time, err error) {
	ctx, span := tracer.Start(ctx, "chat.MarkRead", trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer func() { endSpan(span, err) }()

	if me == "" {
		return time.Time{}, apperr.ErrUnauthenticated
	}
	var atPtr *time.Time
	if !at.IsZero() {
		atPtr = &at
	}
	marker, err := s.participants.MarkRead(ctx, conversationID, me, atPtr)
	if err != nil {
		return time.Time{}, s.membershipError(ctx, err, conversationID, me)
	}

	s.publish(ctx, models.ChatEvent{Type: models.EventReadUpdated, ConversationID: conversationID, UserID: me, ReadAt: &marker})
	return marker, nil
}

// UnreadCount counts messages from the other participant after me's marker.
func (s *Service) UnreadCount(ctx context.Context, me, conversationID string) (_ int, err error) {
	ctx, span := tracer.Start(ctx, "chat.UnreadCount", trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer func() { endSpan(span, err) }()

	if err := s.verifyMembership(ctx, conversationID, me); err != nil {
		return 0, err
	}
	return s.messages.UnreadCount(ctx, conversationID, me)
}

// TotalUnread is the unread badge across all of me's active conversations.
func (s *Service) TotalUnread(ctx context.Context, me string) (int, error) {
	if me == "" {
		return 0, apperr.ErrUnauthenticated
	}
	return s.messages.TotalUnread(ctx, me)
}

// Leave deactivates me's membership. History is kept.
func (s *Service) Leave(ctx context.Context, me, conversationID string) (err error) {
	ctx, span := tracer.Start(ctx, "chat.Leave", trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer func() { endSpan(span, err) }()

	if me == "" {
		return apperr.ErrUnauthenticated
	}
	if err := s.participants.Deactivate(ctx, conversationID, me); err != nil {
		return s.membershipError(ctx, err, conversationID, me)
	}
	s.emitAudit(ctx, "INFO", "conversation_left", conversationID, me, "participant left conversation")
	return nil
}

// VerifyMembership is the access gate used by the websocket endpoint.
func (s *Service) VerifyMembership(ctx context.Context, conversationID, userID string) error {
	return s.verifyMembership(ctx, conversationID, userID)
}

func (s *Service) verifyMembership(ctx context.Context, conversationID, userID string) error {
	if userID == "" {
		return apperr.ErrUnauthenticated
	}
	member, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("verify membership: %w", err)
	}
	if !member {
		return s.membershipError(ctx, apperr.ErrNotMember, conversationID, userID)
	}
	return nil
}

// membershipError audits forbidden access and passes err through.
func (s *Service) membershipError(ctx context.Context, err error, conversationID, userID string) error {
	if errors.Is(err, apperr.ErrNotMember) {
		s.emitAudit(ctx, "WARN", "forbidden", conversationID, userID, "access by non-member")
	}
	return err
}

func (s *Service) publish(ctx context.Context, event models.ChatEvent) {
	if s.events == nil {
		return
	}
	// the write is committed; subscribers that miss the event recover it from history
	if err := s.events.Publish(ctx, event); err != nil {
		observability.IncFeedDropped("publish")
		s.logger.Warn().Err(err).
			Str("event", event.Type).
			Str("conversation_id", event.ConversationID).
			Msg("feed publish failed")
	}
}

func (s *Service) lookupProfiles(ctx context.Context, ids []string) map[string]models.Profile {
	out := make(map[string]models.Profile, len(ids))
	if len(ids) == 0 || s.profiles == nil {
		return out
	}
	profiles, err := s.profiles.GetProfiles(ctx, ids)
	if err != nil {
		// display data only; fall back to bare ids
		s.logger.Warn().Err(err).Int("count", len(ids)).Msg("profile lookup failed")
		return out
	}
	for _, p := range profiles {
		out[p.ID] = p
	}
	return out
}

func (s *Service) emitAudit(ctx context.Context, level, action, conversationID, userID, text string) {
	s.audit.Emit(ctx, telemetry.AuditRecord{
		Level:          level,
		Action:         action,
		ConversationID: conversationID,
		Text:           text,
		RequestID:      observability.RequestIDFromContext(ctx),
		UserID:         userID,
	})
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
