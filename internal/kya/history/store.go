// Package history keeps the ordered list of chat conversations and writes it
// through to a KV backend.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/knowyouranimal/kya/internal/kya"
	"go.uber.org/zap"
)

// DefaultKey is the storage key holding the serialized conversation list.
const DefaultKey = "animal-chat-history"

// AmbiguousIDError is returned when multiple conversations match a reference
type AmbiguousIDError struct {
	Ref     string
	Matches []Conversation
}

func (e *AmbiguousIDError) Error() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("Ambiguous conversation ID %q. Multiple matches found:", e.Ref))
	for _, match := range e.Matches {
		lines = append(lines, fmt.Sprintf("- %s (%s, %d messages)",
			match.ShortID(),
			match.Title,
			match.MessageCount()))
	}
	lines = append(lines, "")
	lines = append(lines, "Please use a longer ID or run 'kya conversations list'.")
	return strings.Join(lines, "\n")
}

// NotFoundError is returned by Find when nothing matches.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("conversation not found: %s\n\nRun 'kya conversations list' to see available conversations.", e.Ref)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for swallowed read errors and failed writes.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithKey overrides DefaultKey.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the in-memory, authoritative list of conversations, most recently
// updated first. Every mutation rewrites the whole list through the KV.
type Store struct {
	kv     KV
	key    string
	logger *zap.Logger
	now    func() time.Time
	newID  func() (string, error)

	mu     sync.Mutex
	convs  []Conversation
	active string
}

// Open loads the conversation list from kv. Missing, unreadable or malformed
// data yields an empty store; Open never fails.
func Open(ctx context.Context, kv KV, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		key:    DefaultKey,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  newID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.convs = s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) []Conversation {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Debug("reading conversation history failed", zap.String("key", s.key), zap.Error(err))
		}
		return []Conversation{}
	}
	var convs []Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		s.logger.Debug("conversation history is malformed", zap.String("key", s.key), zap.Error(err))
		return []Conversation{}
	}
	out := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		if c.ID == "" {
			continue
		}
		c.Messages = s.normalizeMessages(c.ID, c.Messages)
		out = append(out, c)
	}
	return out
}

// normalizeMessages canonicalizes stored roles and drops messages whose role
// is unknown.
func (s *Store) normalizeMessages(id string, messages []kya.Message) []kya.Message {
	out := make([]kya.Message, 0, len(messages))
	for _, m := range messages {
		role, err := kya.ParseRole(string(m.Role))
		if err != nil {
			s.logger.Debug("dropping stored message", zap.String("id", id), zap.Error(err))
			continue
		}
		m.Role = role
		out = append(out, m)
	}
	return out
}

// persist must be called with s.mu held.
func (s *Store) persist(ctx context.Context) error {
	data, err := json.Marshal(s.convs)
	if err != nil {
		return fmt.Errorf("failed to serialize conversations: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		s.logger.Warn("writing conversation history failed", zap.String("key", s.key), zap.Error(err))
		return fmt.Errorf("saving conversations: %w", err)
	}
	return nil
}

// List returns a snapshot of all conversations, most recently updated first.
func (s *Store) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, len(s.convs))
	for i, c := range s.convs {
		out[i] = c.clone()
	}
	return out
}

// Get returns the conversation with the given id.
func (s *Store) Get(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.convs[i].clone(), true
	}
	return Conversation{}, false
}

// MessagesOf returns the messages of a conversation, or an empty list.
func (s *Store) MessagesOf(id string) []kya.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return kya.CloneMessages(s.convs[i].Messages)
	}
	return []kya.Message{}
}

// Create adds a conversation holding messages at the front of the list and
// makes it active. The conversation exists in memory even when the returned
// error reports a failed write.
func (s *Store) Create(ctx context.Context, messages []kya.Message) (string, error) {
	id, err := s.newID()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := Conversation{
		ID:        id,
		Title:     DeriveTitle(messages),
		Messages:  kya.CloneMessages(messages),
		UpdatedAt: s.now().UnixMilli(),
	}
	s.convs = append([]Conversation{conv}, s.convs...)
	s.active = id
	return id, s.persist(ctx)
}

// Update replaces the messages of a conversation and moves it to the front.
// Unknown ids are ignored.
func (s *Store) Update(ctx context.Context, id string, messages []kya.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil
	}
	conv := s.convs[i]
	conv.Messages = kya.CloneMessages(messages)
	conv.Title = DeriveTitle(conv.Messages)
	conv.UpdatedAt = s.now().UnixMilli()

	rest := make([]Conversation, 0, len(s.convs))
	rest = append(rest, conv)
	rest = append(rest, s.convs[:i]...)
	rest = append(rest, s.convs[i+1:]...)
	s.convs = rest
	return s.persist(ctx)
}

// Delete removes a conversation. The active pointer is cleared when it
// referenced the deleted conversation.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == id {
		s.active = ""
	}
	i := s.indexOf(id)
	if i < 0 {
		return nil
	}
	s.convs = append(s.convs[:i:i], s.convs[i+1:]...)
	return s.persist(ctx)
}

// Clear removes every conversation.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = []Conversation{}
	s.active = ""
	return s.persist(ctx)
}

// Active returns the id of the active conversation, or "".
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActive sets the active pointer. Pass "" to clear it.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
}

// Find resolves a full id, an id prefix or short id (minimum 4 characters),
// or "latest" for the most recently updated conversation.
func (s *Store) Find(ref string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref == "latest" {
		if len(s.convs) == 0 {
			return Conversation{}, fmt.Errorf("no conversations found\n\nStart one with: kya chat \"your question\"")
		}
		return s.convs[0].clone(), nil
	}
	if i := s.indexOf(ref); i >= 0 {
		return s.convs[i].clone(), nil
	}
	if len(ref) < 4 {
		return Conversation{}, fmt.Errorf("conversation ID must be at least 4 characters (got %d)", len(ref))
	}

	var matches []Conversation
	for _, c := range s.convs {
		if strings.HasPrefix(c.ID, ref) || strings.HasSuffix(c.ID, ref) {
			matches = append(matches, c.clone())
		}
	}
	switch len(matches) {
	case 0:
		return Conversation{}, &NotFoundError{Ref: ref}
	case 1:
		return matches[0], nil
	default:
		return Conversation{}, &AmbiguousIDError{Ref: ref, Matches: matches}
	}
}

func (s *Store) indexOf(id string) int {
	for i, c := range s.convs {
		if c.ID == id {
			return i
		}
	}
	return -1
}
