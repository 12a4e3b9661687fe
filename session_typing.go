package realtime

import (
	"sort"
	"sync"
)

// TypingSet tracks who is typing in one channel.
type TypingSet struct {
	client    Client
	channelID string
	cfg       viewConfig

	mu    sync.RWMutex
	users map[string]struct{}

	unsubscribe func()
	closeOnce   sync.Once
}

func NewTypingSet(client Client, channelID string, opts ...ViewOption) *TypingSet {
	s := &TypingSet{
		client:    client,
		channelID: channelID,
		cfg:       newViewConfig(opts),
		users:     make(map[string]struct{}),
	}
	s.unsubscribe = client.Subscribe(TypingEnvelope, s.handle)
	return s
}

func (s *TypingSet) handle(env Envelope) {
	if env.ChannelID() != s.channelID {
		return
	}

	var payload TypingPayload
	if err := env.Decode(&payload); err != nil {
		return
	}
	user := senderOf(payload.UserID, env)
	if user == "" {
		return
	}

	s.mu.Lock()
	_, present := s.users[user]
	if payload.IsTyping {
		s.users[user] = struct{}{}
	} else {
		delete(s.users, user)
	}
	s.mu.Unlock()

	if present != payload.IsTyping {
		s.cfg.changed()
	}
}

// Users returns the typing users in lexical order.
func (s *TypingSet) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.users))
	for u := range s.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (s *TypingSet) Contains(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.users[userID]
	return ok
}

// SetTyping reports the local user's typing state for this channel.
func (s *TypingSet) SetTyping(isTyping bool) {
	s.client.SendTyping(s.channelID, isTyping)
}

func (s *TypingSet) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		s.mu.Lock()
		s.users = make(map[string]struct{})
		s.mu.Unlock()
	})
}

// sendTyping runs on the loop. A true state arms the auto-clear timer, a repeated true restarts
// it, and false or expiry sends the clearing envelope.
func (d *Dispatcher) sendTyping(channelID string, isTyping bool) {
	if a, ok := d.typingAlarms[channelID]; ok {
		a.cancel()
		delete(d.typingAlarms, channelID)
	}

	d.send(d.typingEnvelope(channelID, isTyping))

	if !isTyping {
		return
	}
	d.typingAlarms[channelID] = d.schedule(d.cfg.TypingTimeout, func() {
		delete(d.typingAlarms, channelID)
		d.send(d.typingEnvelope(channelID, false))
	})
}

func (d *Dispatcher) typingEnvelope(channelID string, isTyping bool) Envelope {
	return MustEnvelope(TypingEnvelope, TypingPayload{UserID: d.cfg.UserID, IsTyping: isTyping}).
		WithChat(channelID).
		WithUser(d.cfg.UserID)
}
