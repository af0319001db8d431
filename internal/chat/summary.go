package chat

import "market-chat/internal/models"

// buildSummary maps the joined view row to the API projection. A participant
// who left is not shown as the other user.
func buildSummary(view models.ParticipantView, profiles map[string]models.Profile) models.ConversationSummary {
	summary := models.ConversationSummary{
		ConversationID: view.ConversationID,
		UnreadCount:    view.UnreadCount,
		CreatedAt:      view.CreatedAt,
	}

	if view.OtherActive && view.OtherUserID != "" {
		profile, ok := profiles[view.OtherUserID]
		if !ok {
			profile = models.Profile{ID: view.OtherUserID}
		}
		summary.OtherUser = &profile
	}

	if view.LastMessageID != nil && view.LastMessageAt != nil {
		msg := models.Message{
			ID:             *view.LastMessageID,
			ConversationID: view.ConversationID,
			CreatedAt:      *view.LastMessageAt,
		}
		if view.LastMessageSender != nil {
			msg.SenderID = *view.LastMessageSender
		}
		if view.LastMessageText != nil {
			msg.Content = *view.LastMessageText
		}
		summary.LastMessage = &msg
	}
	return summary
}
