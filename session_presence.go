package realtime

import (
	"sort"
	"sync"
)

// PresenceSet tracks the members of one channel from join and leave envelopes.
type PresenceSet struct {
	client    Client
	channelID string
	cfg       viewConfig

	mu      sync.RWMutex
	members map[string]struct{}

	unsubscribeJoined func()
	unsubscribeLeft   func()
	closeOnce         sync.Once
}

func NewPresenceSet(client Client, channelID string, opts ...ViewOption) *PresenceSet {
	s := &PresenceSet{
		client:    client,
		channelID: channelID,
		cfg:       newViewConfig(opts),
		members:   make(map[string]struct{}),
	}
	s.unsubscribeJoined = client.Subscribe(UserJoinedEnvelope, s.handle)
	s.unsubscribeLeft = client.Subscribe(UserLeftEnvelope, s.handle)
	return s
}

func (s *PresenceSet) handle(env Envelope) {
	if env.ChannelID() != s.channelID {
		return
	}

	var payload PresencePayload
	if len(env.Data) > 0 {
		if err := env.Decode(&payload); err != nil {
			return
		}
	}
	user := senderOf(payload.UserID, env)
	if user == "" {
		return
	}

	s.mu.Lock()
	_, present := s.members[user]
	joined := env.Type == UserJoinedEnvelope
	if joined {
		s.members[user] = struct{}{}
	} else {
		delete(s.members, user)
	}
	s.mu.Unlock()

	if present != joined {
		s.cfg.changed()
	}
}

// Members returns the channel members in lexical order.
func (s *PresenceSet) Members() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]string, 0, len(s.members))
	for m := range s.members {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}

func (s *PresenceSet) Contains(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.members[userID]
	return ok
}

func (s *PresenceSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.members)
}

// Join announces the local user in the channel.
func (s *PresenceSet) Join() {
	s.client.JoinChannel(s.channelID)
}

// Leave announces that the local user left the channel.
func (s *PresenceSet) Leave() {
	s.client.LeaveChannel(s.channelID)
}

func (s *PresenceSet) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribeJoined()
		s.unsubscribeLeft()
		s.mu.Lock()
		s.members = make(map[string]struct{})
		s.mu.Unlock()
	})
}
