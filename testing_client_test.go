package realtime

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type mockClient struct {
	mock.Mock
}

var _ Client = (*mockClient)(nil)

func (m *mockClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockClient) Disconnect() {
	m.Called()
}

func (m *mockClient) Send(env Envelope) {
	m.Called(env)
}

func (m *mockClient) OnMessage(h Handler)        { m.Called(h) }
func (m *mockClient) OnNotification(h Handler)   { m.Called(h) }
func (m *mockClient) OnLocationUpdate(h Handler) { m.Called(h) }
func (m *mockClient) OnTripStatus(h Handler)     { m.Called(h) }
func (m *mockClient) OnTyping(h Handler)         { m.Called(h) }
func (m *mockClient) OnUserJoined(h Handler)     { m.Called(h) }
func (m *mockClient) OnUserLeft(h Handler)       { m.Called(h) }

func (m *mockClient) Register(t EnvelopeType, h Handler) bool {
	args := m.Called(t, h)
	return args.Bool(0)
}

func (m *mockClient) Unregister(t EnvelopeType) bool {
	args := m.Called(t)
	return args.Bool(0)
}

func (m *mockClient) Subscribe(t EnvelopeType, h Handler) func() {
	args := m.Called(t, h)
	return args.Get(0).(func())
}

func (m *mockClient) OnConnectionChange(listener func(connected bool)) ListenerID {
	args := m.Called(listener)
	return args.Get(0).(ListenerID)
}

func (m *mockClient) RemoveConnectionListener(id ListenerID) {
	m.Called(id)
}

func (m *mockClient) OnStateChange(listener func(StateEvent)) ListenerID {
	args := m.Called(listener)
	return args.Get(0).(ListenerID)
}

func (m *mockClient) RemoveStateListener(id ListenerID) {
	m.Called(id)
}

func (m *mockClient) SendTyping(channelID string, isTyping bool) {
	m.Called(channelID, isTyping)
}

func (m *mockClient) JoinChannel(channelID string) {
	m.Called(channelID)
}

func (m *mockClient) LeaveChannel(channelID string) {
	m.Called(channelID)
}

func (m *mockClient) State() ConnectionState {
	args := m.Called()
	return args.Get(0).(ConnectionState)
}

func (m *mockClient) QueueLen() int {
	args := m.Called()
	return args.Int(0)
}

func (m *mockClient) ClearQueue() {
	m.Called()
}

func (m *mockClient) UserID() string {
	args := m.Called()
	return args.String(0)
}

// subscriptions captures the observers a view attaches through a mockClient, so tests can feed
// envelopes to them and check they detach on Close.
type subscriptions struct {
	mu       sync.Mutex
	handlers map[EnvelopeType]Handler
	detached map[EnvelopeType]int
}

func expectSubscriptions(c *mockClient, types ...EnvelopeType) *subscriptions {
	s := &subscriptions{
		handlers: make(map[EnvelopeType]Handler),
		detached: make(map[EnvelopeType]int),
	}
	for _, t := range types {
		t := t
		c.On("Subscribe", t, mock.Anything).
			Run(func(args mock.Arguments) {
				s.mu.Lock()
				defer s.mu.Unlock()
				s.handlers[t] = args.Get(1).(Handler)
			}).
			Return(func() {
				s.mu.Lock()
				defer s.mu.Unlock()
				delete(s.handlers, t)
				s.detached[t]++
			}).
			Once()
	}
	return s
}

func (s *subscriptions) emit(env Envelope) {
	s.mu.Lock()
	h, ok := s.handlers[env.Type]
	s.mu.Unlock()

	if ok {
		h(env)
	}
}

func (s *subscriptions) detachCount(t EnvelopeType) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.detached[t]
}
