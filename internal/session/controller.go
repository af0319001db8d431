// Package session holds the client-side state of one open conversation view:
// confirmed history, the optimistic pending overlay and read-marker upkeep.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"market-chat/internal/apperr"
	"market-chat/internal/models"
)

var (
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("session: closed")
	// ErrFeedLost is the Err of a view whose live feed dropped. The controller
	// resubscribes in the background and returns to Ready.
	ErrFeedLost = errors.New("session: live feed lost")
)

const (
	defaultReconnectMin = 500 * time.Millisecond
	defaultReconnectMax = 15 * time.Second
	resumeTimeout       = 15 * time.Second
)

// API is the server surface the controller needs.
type API interface {
	Conversation(ctx context.Context, conversationID string) (models.ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID string, page models.PageRequest) (models.MessagePage, error)
	Send(ctx context.Context, conversationID, content, clientMessageID string) (models.Message, error)
	MarkRead(ctx context.Context, conversationID string) (time.Time, error)
}

// Feed subscribes to a conversation's change events. Events may repeat and
// arrive out of order. onClosed is called at most once, when the stream ends
// for any reason other than cancel.
type Feed interface {
	Subscribe(ctx context.Context, conversationID string, onEvent func(models.ChatEvent), onClosed func(error)) (cancel func(), err error)
}

type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateSending
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSending:
		return "sending"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type EntryStatus int

const (
	StatusConfirmed EntryStatus = iota
	StatusPending
	StatusFailed
)

// Entry is one line of the rendered conversation. Pending and failed entries
// carry the temporary id that doubles as the send idempotency key.
type Entry struct {
	Message models.Message
	TempID  string
	Status  EntryStatus
	Err     error
}

type Options struct {
	PageSize int
	// OnChange is called after every state or list change, outside the lock.
	OnChange func()
	Logger   zerolog.Logger
	// NewID generates temporary ids; defaults to uuid.
	NewID func() string
	// Backoff bounds between resubscribe attempts after the feed drops.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Controller drives one conversation view. It is safe for concurrent use.
type Controller struct {
	api            API
	feed           Feed
	conversationID string
	me             string
	pageSize       int
	onChange       func()
	logger         zerolog.Logger
	newID          func() string
	reconnectMin   time.Duration
	reconnectMax   time.Duration

	life   context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	err          error
	summary      models.ConversationSummary
	confirmed    map[string]models.Message
	pending      map[string]*Entry
	pendingOrder []string
	olderCursor  string
	otherReadAt  *time.Time
	focused      bool
	unsubscribe  func()
	subGen       int
	loaded       bool
	reconnecting bool
	wg           sync.WaitGroup
}

// New builds a controller for the viewer me. Nothing happens until Open.
func New(api API, feed Feed, conversationID, me string, opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = models.DefaultPageLimit
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = defaultReconnectMin
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = max(defaultReconnectMax, opts.ReconnectMin)
	}
	life, cancel := context.WithCancel(context.Background())
	return &Controller{
		api:            api,
		feed:           feed,
		conversationID: conversationID,
		me:             me,
		pageSize:       opts.PageSize,
		onChange:       opts.OnChange,
		logger:         opts.Logger,
		newID:          opts.NewID,
		reconnectMin:   opts.ReconnectMin,
		reconnectMax:   opts.ReconnectMax,
		life:           life,
		cancel:         cancel,
		confirmed:      make(map[string]models.Message),
		pending:        make(map[string]*Entry),
		focused:        true,
	}
}

// Open loads the view. The feed subscription is made before history is
// fetched so no message falls between the two; a retry after a failure
// reuses it.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.reconnecting {
		// the background resume owns the subscription and the reload
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.state = StateLoading
	c.err = nil
	subscribed := c.unsubscribe != nil
	if !subscribed {
		c.subGen++
	}
	gen := c.subGen
	c.mu.Unlock()
	c.notify()

	ctx, done := c.scope(ctx)
	defer done()

	if !subscribed {
		cancel, err := c.feed.Subscribe(c.life, c.conversationID, c.handleEvent, c.feedClosed(gen))
		if err != nil {
			return c.fail(err)
		}
		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			cancel()
			return ErrClosed
		}
		current := gen == c.subGen
		if current {
			c.unsubscribe = cancel
		}
		c.mu.Unlock()
		if !current {
			cancel()
		}
	}

	summary, err := c.api.Conversation(ctx, c.conversationID)
	if err != nil {
		return c.fail(err)
	}
	page, err := c.api.ListMessages(ctx, c.conversationID, models.PageRequest{Limit: c.pageSize, Desc: true})
	if err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.unsubscribe == nil {
		// the feed dropped while history was loading; Open again resubscribes
		// unless a background resume already owns that
		if !c.reconnecting {
			c.state = StateError
			c.err = ErrFeedLost
		}
		err := c.err
		c.mu.Unlock()
		c.notify()
		return err
	}
	c.summary = summary
	for _, m := range page.Messages {
		c.mergeLocked(m)
	}
	c.olderCursor = page.NextCursor
	c.loaded = true
	c.state = StateReady
	c.state = c.settledStateLocked()
	focused := c.focused
	c.mu.Unlock()
	c.notify()

	if focused {
		c.markRead(ctx)
	}
	return nil
}

// Close tears the view down: in-flight calls are canceled, the feed is
// unsubscribed and later events are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	c.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	c.wg.Wait()
	c.notify()
}

// Send validates content, shows it immediately as pending and confirms it
// with the server. The returned temp id identifies the entry for Retry.
func (c *Controller) Send(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperr.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > models.MaxContentRunes {
		return "", apperr.ErrContentTooLong
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	tempID := c.newID()
	key := tempID
	c.pending[tempID] = &Entry{
		TempID: tempID,
		Status: StatusPending,
		Message: models.Message{
			ConversationID:  c.conversationID,
			SenderID:        c.me,
			Content:         content,
			ClientMessageID: &key,
			CreatedAt:       time.Now(),
		},
	}
	c.pendingOrder = append(c.pendingOrder, tempID)
	if c.state == StateReady {
		c.state = StateSending
	}
	c.mu.Unlock()
	c.notify()

	return tempID, c.deliver(ctx, tempID)
}

// Retry resends a failed entry with its original idempotency key.
func (c *Controller) Retry(ctx context.Context, tempID string) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	entry, ok := c.pending[tempID]
	if !ok || entry.Status != StatusFailed {
		c.mu.Unlock()
		return apperr.InvalidOperation("no failed message with that id")
	}
	entry.Status = StatusPending
	entry.Err = nil
	if c.state == StateReady {
		c.state = StateSending
	}
	c.mu.Unlock()
	c.notify()

	return c.deliver(ctx, tempID)
}

// Discard drops a failed entry at the user's request.
func (c *Controller) Discard(tempID string) {
	c.mu.Lock()
	if entry, ok := c.pending[tempID]; ok && entry.Status == StatusFailed {
		c.removePendingLocked(tempID)
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) deliver(ctx context.Context, tempID string) error {
	c.mu.Lock()
	entry, ok := c.pending[tempID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	content := entry.Message.Content
	c.mu.Unlock()

	ctx, done := c.scope(ctx)
	defer done()
	msg, err := c.api.Send(ctx, c.conversationID, content, tempID)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		if entry, ok := c.pending[tempID]; ok {
			entry.Status = StatusFailed
			entry.Err = err
		}
	} else {
		c.removePendingLocked(tempID)
		c.mergeLocked(msg)
	}
	c.state = c.settledStateLocked()
	c.mu.Unlock()
	c.notify()
	return err
}

// LoadOlder fetches the page before the oldest loaded message. It reports
// whether more history remains.
func (c *Controller) LoadOlder(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	cursor := c.olderCursor
	c.mu.Unlock()
	if cursor == "" {
		return false, nil
	}

	ctx, done := c.scope(ctx)
	defer done()
	page, err := c.api.ListMessages(ctx, c.conversationID, models.PageRequest{Limit: c.pageSize, Cursor: cursor, Desc: true})
	if err != nil {
		return true, err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	for _, m := range page.Messages {
		c.mergeLocked(m)
	}
	c.olderCursor = page.NextCursor
	more := c.olderCursor != ""
	c.mu.Unlock()
	c.notify()
	return more, nil
}

// SetFocused records whether the view is on screen. Regaining focus marks
// the conversation read.
func (c *Controller) SetFocused(ctx context.Context, focused bool) {
	c.mu.Lock()
	was := c.focused
	c.focused = focused
	ready := c.state == StateReady || c.state == StateSending
	c.mu.Unlock()

	if focused && !was && ready {
		ctx, done := c.scope(ctx)
		defer done()
		c.markRead(ctx)
	}
}

func (c *Controller) handleEvent(ev models.ChatEvent) {
	c.mu.Lock()
	if c.state == StateClosed || ev.ConversationID != c.conversationID {
		c.mu.Unlock()
		return
	}

	markRead := false
	switch ev.Type {
	case models.EventMessageCreated:
		if ev.Message == nil {
			c.mu.Unlock()
			return
		}
		msg := *ev.Message
		if msg.SenderID == c.me && msg.ClientMessageID != nil {
			c.removePendingLocked(*msg.ClientMessageID)
		}
		added := c.mergeLocked(msg)
		markRead = added && msg.SenderID != c.me && c.focused &&
			(c.state == StateReady || c.state == StateSending)
		c.state = c.settledStateLocked()
	case models.EventReadUpdated:
		if ev.UserID == c.me || ev.ReadAt == nil {
			c.mu.Unlock()
			return
		}
		if c.otherReadAt == nil || ev.ReadAt.After(*c.otherReadAt) {
			at := *ev.ReadAt
			c.otherReadAt = &at
		}
	default:
		c.mu.Unlock()
		return
	}
	if markRead {
		c.wg.Add(1)
	}
	c.mu.Unlock()
	c.notify()

	if markRead {
		// the feed reader must not block on the network
		go func() {
			defer c.wg.Done()
			c.markRead(c.life)
		}()
	}
}

// feedClosed handles the end of the subscription made as generation gen.
// Stale generations are ignored.
func (c *Controller) feedClosed(gen int) func(error) {
	return func(cause error) {
		c.mu.Lock()
		if c.state == StateClosed || gen != c.subGen {
			c.mu.Unlock()
			return
		}
		c.subGen++
		c.unsubscribe = nil
		if c.reconnecting || !c.loaded {
			c.mu.Unlock()
			return
		}
		c.reconnecting = true
		c.state = StateError
		c.err = fmt.Errorf("%w: %v", ErrFeedLost, cause)
		c.wg.Add(1)
		c.mu.Unlock()
		c.notify()

		c.logger.Warn().Err(cause).Str("conversation_id", c.conversationID).Msg("live feed lost, resubscribing")
		go c.reconnect()
	}
}

// reconnect resubscribes with exponential backoff until it succeeds or the
// controller closes.
func (c *Controller) reconnect() {
	defer c.wg.Done()

	delay := c.reconnectMin
	for {
		timer := time.NewTimer(delay)
		select {
		case <-c.life.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		err := c.resume()
		if err == nil || errors.Is(err, ErrClosed) {
			return
		}
		c.logger.Debug().Err(err).Dur("retry_in", delay).Str("conversation_id", c.conversationID).Msg("resubscribe failed")
		delay = min(delay*2, c.reconnectMax)
	}
}

// resume subscribes again and merges the newest page, which covers anything
// missed while disconnected. Duplicates collapse on message id.
func (c *Controller) resume() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.subGen++
	gen := c.subGen
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.life, resumeTimeout)
	defer cancel()

	unsubscribe, err := c.feed.Subscribe(c.life, c.conversationID, c.handleEvent, c.feedClosed(gen))
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	page, err := c.api.ListMessages(ctx, c.conversationID, models.PageRequest{Limit: c.pageSize, Desc: true})
	if err != nil {
		unsubscribe()
		return fmt.Errorf("reload: %w", err)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		unsubscribe()
		return ErrClosed
	}
	if gen != c.subGen {
		c.mu.Unlock()
		unsubscribe()
		return errors.New("feed dropped during resume")
	}
	c.unsubscribe = unsubscribe
	c.reconnecting = false
	for _, m := range page.Messages {
		c.mergeLocked(m)
	}
	c.err = nil
	c.state = StateReady
	c.state = c.settledStateLocked()
	focused := c.focused
	c.mu.Unlock()
	c.notify()

	if focused {
		c.markRead(ctx)
	}
	return nil
}

func (c *Controller) markRead(ctx context.Context) {
	if _, err := c.api.MarkRead(ctx, c.conversationID); err != nil && ctx.Err() == nil {
		c.logger.Warn().Err(err).Str("conversation_id", c.conversationID).Msg("mark read failed")
	}
}

// mergeLocked adds a confirmed message, reporting false for duplicates.
func (c *Controller) mergeLocked(m models.Message) bool {
	if _, ok := c.confirmed[m.ID]; ok {
		return false
	}
	c.confirmed[m.ID] = m
	return true
}

func (c *Controller) removePendingLocked(tempID string) {
	if _, ok := c.pending[tempID]; !ok {
		return
	}
	delete(c.pending, tempID)
	for i, id := range c.pendingOrder {
		if id == tempID {
			c.pendingOrder = append(c.pendingOrder[:i], c.pendingOrder[i+1:]...)
			break
		}
	}
}

// settledStateLocked is the state after an operation completes: Sending while
// any entry is still in flight, Ready otherwise. Other states are kept.
func (c *Controller) settledStateLocked() State {
	if c.state != StateReady && c.state != StateSending {
		return c.state
	}
	for _, e := range c.pending {
		if e.Status == StatusPending {
			return StateSending
		}
	}
	return StateReady
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateError
	c.err = err
	c.mu.Unlock()
	c.notify()
	return err
}

// scope derives a context that also ends when the controller closes.
func (c *Controller) scope(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}

// Messages returns confirmed history in (created_at, id) order followed by
// pending and failed entries in submission order.
func (c *Controller) Messages() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.confirmed)+len(c.pending))
	for _, m := range c.confirmed {
		out = append(out, Entry{Message: m, Status: StatusConfirmed})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Message.Before(out[j].Message) })
	for _, id := range c.pendingOrder {
		out = append(out, *c.pending[id])
	}
	return out
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the failure that put the controller in StateError.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Summary() models.ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// OtherReadAt is the other participant's latest read marker seen on the feed.
func (c *Controller) OtherReadAt() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.otherReadAt == nil {
		return nil
	}
	at := *c.otherReadAt
	return &at
}
