package apperr

var (
	ErrUnauthenticated      = Unauthorized("authentication required")
	ErrSelfConversation     = InvalidOperation("cannot start a conversation with yourself")
	ErrUserNotFound         = NotFound("user not found")
	ErrConversationNotFound = NotFound("conversation not found")
	ErrMessageNotFound      = NotFound("message not found")
	ErrNotMember            = Forbidden("not a conversation member")
	ErrInactiveMember       = Forbidden("membership is not active")
	ErrEmptyContent         = InvalidArgument("message content is empty")
	ErrContentTooLong       = InvalidArgument("message content is too long")
	ErrInvalidCursor        = InvalidArgument("invalid cursor")
)
