package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// LockManager provides per-key mutual exclusion with a bounded wait.
// The engine uses it as the row lock for account and holding rows:
// sqlite has no SELECT ... FOR UPDATE, so serialization of concurrent
// mutators of the same row happens here, with the lock held from
// acquisition through commit or rollback of the enclosing transaction.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*lockEntry),
	}
}

// AccountKey is the lock key guarding an account's cash balance.
func AccountKey(accountID int64) string {
	return fmt.Sprintf("account:%d", accountID)
}

// HoldingKey is the lock key guarding one (account, symbol) holding row.
func HoldingKey(accountID int64, symbol string) string {
	return fmt.Sprintf("holding:%d:%s", accountID, strings.ToUpper(symbol))
}

// Acquire blocks until the key's lock is free or ctx expires. Callers
// that need both the account and a holding lock must acquire the
// account lock first; the single ordering rule keeps the manager
// deadlock-free. The returned release function is safe to call once.
func (m *LockManager) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	entry, ok := m.locks[key]
	if !ok {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, entry, false)
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.release(key, entry, true)
		})
	}, nil
}

func (m *LockManager) release(key string, entry *lockEntry, held bool) {
	if held {
		<-entry.ch
	}
	m.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}
