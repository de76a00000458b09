// Package identity resolves caller user ids to the party ids bound on slots
// and appointments.
package identity

import (
	"context"
	"sync"

	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

type Resolver interface {
	ResolveOwner(ctx context.Context, userID string) (string, error)
	ResolveRequester(ctx context.Context, userID string) (string, error)
}

// Static is an in-memory Resolver. Unregistered users resolve to themselves
// when Passthrough is set.
type Static struct {
	mu          sync.RWMutex
	owners      map[string]string
	requesters  map[string]string
	Passthrough bool
}

func NewStatic() *Static {
	return &Static{owners: map[string]string{}, requesters: map[string]string{}}
}

func (s *Static) AddOwner(userID, partyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[userID] = partyID
}

func (s *Static) AddRequester(userID, partyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requesters[userID] = partyID
}

func (s *Static) ResolveOwner(_ context.Context, userID string) (string, error) {
	return s.lookup(s.owners, userID, model.ErrOwnerNotFound)
}

func (s *Static) ResolveRequester(_ context.Context, userID string) (string, error) {
	return s.lookup(s.requesters, userID, model.ErrRequesterNotFound)
}

func (s *Static) lookup(m map[string]string, userID string, notFound error) (string, error) {
	if userID == "" {
		return "", notFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := m[userID]; ok {
		return id, nil
	}
	if s.Passthrough {
		return userID, nil
	}
	return "", notFound
}
