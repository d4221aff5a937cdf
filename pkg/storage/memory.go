package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/techbridge/techbridge/pkg/types"
)

// Memory keeps sessions and filter resets for the lifetime of the process.
type Memory struct {
	mu           sync.Mutex
	sessions     map[string]types.Session
	filterResets map[string]time.Time
}

// NewMemory returns an empty in-memory database.
func NewMemory() *Memory {
	return &Memory{
		sessions:     map[string]types.Session{},
		filterResets: map[string]time.Time{},
	}
}

func (m *Memory) GetSession(ctx context.Context, account string) (types.Session, error) {
	if err := checkAccount(account); err != nil {
		return types.Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[account]
	if !ok {
		return types.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, account)
	}
	return s, nil
}

func (m *Memory) SetSession(ctx context.Context, account string, session types.Session) error {
	if err := checkAccount(account); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[account] = session
	return nil
}

func (m *Memory) DeleteSession(ctx context.Context, account string) error {
	if err := checkAccount(account); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, account)
	return nil
}

func (m *Memory) GetFilterReset(ctx context.Context, udid string) (time.Time, error) {
	if err := checkUDID(udid); err != nil {
		return time.Time{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.filterResets[udid]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrFilterResetNotFound, udid)
	}
	return at, nil
}

func (m *Memory) SetFilterReset(ctx context.Context, udid string, at time.Time) error {
	if err := checkUDID(udid); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filterResets[udid] = at
	return nil
}

func (m *Memory) Close() error {
	return nil
}
