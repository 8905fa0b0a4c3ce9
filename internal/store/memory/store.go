package memory

import (
	"context"
	"sync"

	"gilded/internal/economy"
)

// Store keeps the snapshot in process memory. Useful for dry runs and tests.
type Store struct {
	mu      sync.RWMutex
	snap    economy.Snapshot
	saves   int
	saveErr error
}

func New() *Store {
	return &Store{}
}

func (s *Store) Load(_ context.Context) (economy.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySnapshot(s.snap), nil
}

func (s *Store) Save(_ context.Context, snap economy.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.snap = copySnapshot(snap)
	s.saves++
	return nil
}

// FailSaves makes every following Save return err; nil restores normal saves.
func (s *Store) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func copySnapshot(in economy.Snapshot) economy.Snapshot {
	out := economy.Snapshot{
		Accounts: make([]economy.Account, 0, len(in.Accounts)),
		Log:      append([]economy.LogEntry(nil), in.Log...),
		Offering: append([]string(nil), in.Offering...),
	}
	for _, a := range in.Accounts {
		a.Subscriptions = append([]string(nil), a.Subscriptions...)
		a.Inventory = append([]string(nil), a.Inventory...)
		out.Accounts = append(out.Accounts, a)
	}
	return out
}
