// Package historystore persists orchestration histories per instance.
package historystore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-durable"
	"github.com/goliatone/go-durable/history"
)

// Store keeps an append-only event log per orchestration instance.
type Store interface {
	// Append adds events to the end of the instance log. Events with a
	// negative EventID are stamped with their position in the log.
	Append(ctx context.Context, instanceID string, events ...*history.Event) error
	// Load returns the instance log in append order. Unknown instances
	// return an empty log.
	Load(ctx context.Context, instanceID string) ([]*history.Event, error)
	// Reset drops the instance log, used when an instance continues as new.
	Reset(ctx context.Context, instanceID string) error
	// Instances lists instance ids with a non-empty log, sorted.
	Instances(ctx context.Context) ([]string, error)
}

// InMemoryStore is a process-local Store.
type InMemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]*history.Event
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{logs: make(map[string][]*history.Event)}
}

func (s *InMemoryStore) Append(_ context.Context, instanceID string, events ...*history.Event) error {
	id, err := normalizeInstanceID(instanceID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logs == nil {
		s.logs = make(map[string][]*history.Event)
	}
	log := s.logs[id]
	for _, ev := range events {
		if ev == nil {
			continue
		}
		log = append(log, stamp(ev, len(log)))
	}
	s.logs[id] = log
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, instanceID string) ([]*history.Event, error) {
	id, err := normalizeInstanceID(instanceID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs[id]), nil
}

func (s *InMemoryStore) Reset(_ context.Context, instanceID string) error {
	id, err := normalizeInstanceID(instanceID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, id)
	return nil
}

func (s *InMemoryStore) Instances(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.logs))
	for id, log := range s.logs {
		if len(log) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// stamp returns a shallow copy of ev carrying its log position.
func stamp(ev *history.Event, seq int) *history.Event {
	cp := *ev
	if cp.EventID < 0 {
		cp.EventID = int32(seq)
	}
	return &cp
}

func normalizeInstanceID(instanceID string) (string, error) {
	id := strings.TrimSpace(instanceID)
	if id == "" {
		return "", durable.NewError(durable.ErrStore, "instance id is required", nil, nil)
	}
	return id, nil
}

func storeError(op, instanceID string, err error) error {
	return durable.NewError(durable.ErrStore,
		fmt.Sprintf("%s history of %q: %v", op, instanceID, err), err,
		map[string]any{"operation": op, "instance_id": instanceID})
}
