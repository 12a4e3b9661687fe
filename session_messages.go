package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageStream is the ordered, de-duplicated chat history of one channel as seen since the
// stream was created.
type MessageStream struct {
	client    Client
	channelID string
	cfg       viewConfig
	now       func() time.Time

	mu       sync.RWMutex
	messages []MessagePayload
	seen     map[string]struct{}

	unsubscribe func()
	closeOnce   sync.Once
}

func NewMessageStream(client Client, channelID string, opts ...ViewOption) *MessageStream {
	s := &MessageStream{
		client:    client,
		channelID: channelID,
		cfg:       newViewConfig(opts),
		now:       time.Now,
		seen:      make(map[string]struct{}),
	}
	s.unsubscribe = client.Subscribe(MessageEnvelope, s.handle)
	return s
}

func (s *MessageStream) handle(env Envelope) {
	if env.ChannelID() != s.channelID {
		return
	}

	var msg MessagePayload
	if err := env.Decode(&msg); err != nil {
		return
	}
	msg.SenderID = senderOf(msg.SenderID, env)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = env.Timestamp
	}

	key := messageKey(msg)

	s.mu.Lock()
	if _, dup := s.seen[key]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[key] = struct{}{}
	s.messages = append(s.messages, msg)
	// Updates can arrive slightly out of wire order; creation time decides.
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
	s.mu.Unlock()

	s.cfg.changed()
}

func messageKey(msg MessagePayload) string {
	if msg.ID != "" {
		return msg.ID
	}
	return msg.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + msg.SenderID + "|" + msg.Text
}

// Messages returns a copy of the stream in creation order.
func (s *MessageStream) Messages() []MessagePayload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MessagePayload, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *MessageStream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.messages)
}

// Send posts a chat message to the channel and returns its id. The message shows up in the
// stream once the server echoes it.
func (s *MessageStream) Send(text string) string {
	msg := MessagePayload{
		ID:        uuid.NewString(),
		Text:      text,
		SenderID:  s.client.UserID(),
		CreatedAt: s.now().UTC(),
	}
	env := MustEnvelope(MessageEnvelope, msg).
		WithChat(s.channelID).
		WithUser(s.client.UserID())
	s.client.Send(env)
	return msg.ID
}

func (s *MessageStream) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		s.mu.Lock()
		s.messages = nil
		s.seen = make(map[string]struct{})
		s.mu.Unlock()
	})
}
