package identity

import (
	"sync"

	"github.com/victornm/etrivia/internal/domain"
)

// Store holds the signed-in identity. It is the single place auth state changes are observed from.
type Store struct {
	mu      sync.RWMutex
	current *domain.Identity
	nextID  int
	subs    []subscription
}

type subscription struct {
	id int
	fn func(*domain.Identity)
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the signed-in identity, false when signed out.
func (s *Store) Current() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return domain.Identity{}, false
	}
	return *s.current, true
}

// Token is the bearer credential of the signed-in identity, empty when signed out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return ""
	}
	return s.current.Token
}

// Subscribe registers fn to be called with the new identity, nil on sign-out, after every change.
// Subscribers are called synchronously in subscription order.
func (s *Store) Subscribe(fn func(*domain.Identity)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Set replaces the identity and notifies subscribers. nil signs out.
func (s *Store) Set(id *domain.Identity) {
	s.put(id)
	s.notify()
}

// put replaces the identity without notifying, so calls can be authorised while sign-up is still in flight.
func (s *Store) put(id *domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == nil {
		s.current = nil
		return
	}
	cp := *id
	s.current = &cp
}

func (s *Store) notify() {
	s.mu.RLock()
	subs := append([]subscription(nil), s.subs...)
	var cur *domain.Identity
	if s.current != nil {
		cp := *s.current
		cur = &cp
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(cur)
	}
}
