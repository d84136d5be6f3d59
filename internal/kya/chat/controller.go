// Package chat orchestrates sending a message, streaming the reply into the
// displayed conversation and persisting the finished turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/knowyouranimal/kya/internal/kya"
	"github.com/knowyouranimal/kya/internal/kya/stream"
	"go.uber.org/zap"
)

var (
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("chat: message is empty")
	// ErrBusy is returned by Send while another send is in flight.
	ErrBusy = errors.New("chat: a message is already being sent")
	// ErrReplyFailed wraps the cause of a failed reply. The failure message has
	// already been shown and persisted when it is returned.
	ErrReplyFailed = errors.New("chat: reply failed")
	// ErrAbandoned is returned by a send whose conversation was switched away
	// from before the reply finished.
	ErrAbandoned = errors.New("chat: send abandoned")
	// errNoReply marks a stream that ended cleanly without any text.
	errNoReply = errors.New("empty reply")
)

// State is the send lifecycle of a Controller.
type State int

const (
	Idle State = iota
	Sending
	Streaming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Streaming:
		return "streaming"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Store is the conversation persistence the controller needs.
// *history.Store satisfies it.
type Store interface {
	Create(ctx context.Context, messages []kya.Message) (string, error)
	Update(ctx context.Context, id string, messages []kya.Message) error
	Delete(ctx context.Context, id string) error
	MessagesOf(id string) []kya.Message
	Active() string
	SetActive(id string)
}

// Snapshot is the displayed state after a change.
type Snapshot struct {
	ConversationID string // "" until the first send of a new chat
	Messages       []kya.Message
	State          State
	Delta          string // text just appended to the last assistant message, if any
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger for failed replies and writes.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller drives one chat view. At most one send is in flight at a time.
type Controller struct {
	store    Store
	streamer kya.Streamer
	logger   *zap.Logger

	mu        sync.Mutex
	state     State
	convID    string
	messages  []kya.Message
	gen       uint64 // bumped whenever the displayed conversation changes
	cancel    context.CancelFunc
	observers map[int]func(Snapshot)
	nextObs   int
}

// New returns a Controller displaying the store's active conversation.
func New(store Store, streamer kya.Streamer, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		streamer:  streamer,
		logger:    zap.NewNop(),
		observers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.convID = store.Active()
	c.messages = store.MessagesOf(c.convID)
	return c
}

// OnChange registers fn to be called after every visible change. Calls are
// made synchronously, outside the controller's lock. The returned func
// unregisters fn.
func (c *Controller) OnChange(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Snapshot returns the displayed state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked("")
}

func (c *Controller) snapshotLocked(delta string) Snapshot {
	return Snapshot{
		ConversationID: c.convID,
		Messages:       kya.CloneMessages(c.messages),
		State:          c.state,
		Delta:          delta,
	}
}

func (c *Controller) observersLocked() []func(Snapshot) {
	fns := make([]func(Snapshot), 0, len(c.observers))
	for i := 0; i < c.nextObs; i++ {
		if fn, ok := c.observers[i]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

func notify(fns []func(Snapshot), snap Snapshot) {
	for _, fn := range fns {
		fn(snap)
	}
}

// Send appends text as a user message, streams the reply into one assistant
// message and persists the turn under the conversation displayed when Send
// was called, creating it when there is none.
//
// A failed reply ends with FailureMessage appended to whatever text arrived,
// and Send returns an error wrapping ErrReplyFailed. If NewChat, Select,
// Delete or Close moves the view away mid-reply, the request is cancelled,
// the turn is settled in the store the same way without touching the view,
// and Send returns ErrAbandoned.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrBusy
	}
	gen := c.gen
	convID := c.convID
	turn := append(kya.CloneMessages(c.messages), kya.Message{Role: kya.RoleUser, Content: text})
	c.messages = kya.CloneMessages(turn)
	c.state = Sending
	sendCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	snap, fns := c.snapshotLocked(""), c.observersLocked()
	c.mu.Unlock()
	defer cancel()
	notify(fns, snap)

	saveCtx := context.WithoutCancel(ctx)
	convID = c.persistUserTurn(saveCtx, gen, convID, turn)

	reply, err := c.streamReply(sendCtx, gen, turn)

	if err != nil {
		reply += kya.FailureMessage
	}
	final := append(turn, kya.Message{Role: kya.RoleAssistant, Content: reply})

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.save(saveCtx, convID, final)
		c.logger.Debug("send abandoned", zap.String("conversation", convID), zap.Error(err))
		return ErrAbandoned
	}
	c.messages = kya.CloneMessages(final)
	c.state = Idle
	c.cancel = nil
	snap, fns = c.snapshotLocked(""), c.observersLocked()
	c.mu.Unlock()
	notify(fns, snap)

	c.save(saveCtx, convID, final)
	if err != nil {
		c.logger.Warn("chat reply failed", zap.String("conversation", convID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrReplyFailed, err)
	}
	return nil
}

// persistUserTurn stores the optimistic user message and returns the id the
// turn belongs to.
func (c *Controller) persistUserTurn(ctx context.Context, gen uint64, convID string, turn []kya.Message) string {
	if convID != "" {
		c.save(ctx, convID, turn)
		return convID
	}

	id, err := c.store.Create(ctx, turn)
	if err != nil {
		c.logger.Warn("saving new conversation failed", zap.Error(err))
	}
	c.mu.Lock()
	if c.gen == gen {
		c.convID = id
	}
	c.mu.Unlock()
	return id
}

func (c *Controller) save(ctx context.Context, convID string, msgs []kya.Message) {
	if convID == "" {
		return
	}
	if err := c.store.Update(ctx, convID, msgs); err != nil {
		c.logger.Warn("saving conversation failed", zap.String("conversation", convID), zap.Error(err))
	}
}

// streamReply returns the reply text received so far and the error that
// ended the stream, if any.
func (c *Controller) streamReply(ctx context.Context, gen uint64, turn []kya.Message) (string, error) {
	body, err := c.streamer.Stream(ctx, turn)
	if err != nil {
		return "", err
	}
	defer body.Close()

	c.mu.Lock()
	if c.gen == gen {
		c.state = Streaming
	}
	snap, fns := c.snapshotLocked(""), c.observersLocked()
	c.mu.Unlock()
	notify(fns, snap)

	var reply strings.Builder
	for delta, err := range stream.NewDecoder(body).All() {
		if err != nil {
			return reply.String(), err
		}
		reply.WriteString(delta)
		c.showReply(gen, reply.String(), delta)
	}
	if reply.Len() == 0 {
		return "", errNoReply
	}
	return reply.String(), nil
}

// showReply replaces the trailing assistant message with content, or appends one.
func (c *Controller) showReply(gen uint64, content, delta string) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if n := len(c.messages); n > 0 && c.messages[n-1].Role == kya.RoleAssistant {
		c.messages[n-1].Content = content
	} else {
		c.messages = append(c.messages, kya.Message{Role: kya.RoleAssistant, Content: content})
	}
	snap, fns := c.snapshotLocked(delta), c.observersLocked()
	c.mu.Unlock()
	notify(fns, snap)
}

// abandonLocked detaches any in-flight send from the view.
func (c *Controller) abandonLocked() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = Idle
}

// NewChat clears the view; the next Send creates a conversation.
func (c *Controller) NewChat() {
	c.mu.Lock()
	c.abandonLocked()
	c.convID = ""
	c.messages = []kya.Message{}
	c.store.SetActive("")
	snap, fns := c.snapshotLocked(""), c.observersLocked()
	c.mu.Unlock()
	notify(fns, snap)
}

// Select displays the conversation with the given id and makes it active.
func (c *Controller) Select(id string) {
	c.mu.Lock()
	c.abandonLocked()
	c.convID = id
	c.messages = c.store.MessagesOf(id)
	c.store.SetActive(id)
	snap, fns := c.snapshotLocked(""), c.observersLocked()
	c.mu.Unlock()
	notify(fns, snap)
}

// Delete removes a conversation. Deleting the displayed one clears the view.
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	displayed := id == c.convID && id != ""
	if displayed {
		c.abandonLocked()
		c.convID = ""
		c.messages = []kya.Message{}
	}
	snap, fns := c.snapshotLocked(""), c.observersLocked()
	c.mu.Unlock()

	err := c.store.Delete(ctx, id)
	if displayed {
		notify(fns, snap)
	}
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return nil
}

// Close abandons any in-flight send. The view is left as it was.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLocked()
}
