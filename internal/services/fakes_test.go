package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ads-marketplace/escrow/internal/events"
	"github.com/ads-marketplace/escrow/internal/models"
	"github.com/ads-marketplace/escrow/internal/repositories"
	"github.com/google/uuid"
)

// memStore is an in-memory UnitStore + MessageStore. mu stands in for the
// row lock of Mutate; message reads inside the callback only take msgMu.
type memStore struct {
	mu       sync.Mutex
	units    map[string]models.Unit
	msgMu    sync.Mutex
	messages []models.MessageLog
}

func newMemStore() *memStore {
	return &memStore{units: make(map[string]models.Unit)}
}

func (s *memStore) Create(_ context.Context, u *models.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[u.Address]; ok {
		return repositories.ErrAlreadyExists
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	s.units[u.Address] = *u
	return nil
}

func (s *memStore) GetByAddress(_ context.Context, address string) (*models.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[address]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &u, nil
}

func (s *memStore) ListByStatusBefore(_ context.Context, status string, before int64, limit int) ([]models.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Unit
	for _, u := range s.units {
		if u.Status == status && u.Deadline < before {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline < out[j].Deadline })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Mutate(_ context.Context, address string, fn repositories.MutateFunc) (*models.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[address]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	logs, err := fn(&u)
	if err != nil {
		return nil, err
	}
	u.UpdatedAt = time.Now()
	s.units[address] = u
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	for _, l := range logs {
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		s.messages = append(s.messages, l)
	}
	return &u, nil
}

func (s *memStore) ListByUnit(_ context.Context, address string, limit, offset int) ([]models.MessageLog, error) {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	var out []models.MessageLog
	for _, m := range s.messages {
		if m.UnitAddress == address {
			out = append(out, m)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) HasTx(_ context.Context, txHash string) (bool, error) {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	for _, m := range s.messages {
		if m.TxHash != nil && *m.TxHash == txHash {
			return true, nil
		}
	}
	return false, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type memNonces struct {
	mu     sync.Mutex
	issued map[string]bool
}

func (n *memNonces) Create(_ context.Context, _ time.Duration) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.issued == nil {
		n.issued = make(map[string]bool)
	}
	p := uuid.NewString()
	n.issued[p] = true
	return p, nil
}

func (n *memNonces) Consume(_ context.Context, payload string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.issued[payload] {
		return repositories.ErrNonceNotFound
	}
	delete(n.issued, payload)
	return nil
}
