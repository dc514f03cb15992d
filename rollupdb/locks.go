package rollupdb

import (
	"sort"
	"time"

	"github.com/rollkit/rollcore/types"
)

type accountLock struct {
	writer  LockHandle
	readers map[LockHandle]struct{}
}

type lockRequest struct {
	handle   LockHandle
	accounts []LockedAccount
	enqueued time.Time
	deadline time.Time
	reply    chan<- Response
}

// lockTable tracks granted locks and the FIFO of waiting requests. It is owned by the
// actor loop and never shared.
type lockTable struct {
	locks   map[types.PublicKey]*accountLock
	held    map[LockHandle][]LockedAccount
	waiting []*lockRequest
	last    LockHandle
}

func newLockTable() *lockTable {
	return &lockTable{
		locks: make(map[types.PublicKey]*accountLock),
		held:  make(map[LockHandle][]LockedAccount),
	}
}

// normalizeAccounts merges duplicate keys, keeping the strongest mode, and sorts by key.
func normalizeAccounts(accounts []LockedAccount) []LockedAccount {
	merged := make(map[types.PublicKey]bool, len(accounts))
	for _, a := range accounts {
		merged[a.Key] = merged[a.Key] || a.Writable
	}
	out := make([]LockedAccount, 0, len(merged))
	for key, writable := range merged {
		out = append(out, LockedAccount{Key: key, Writable: writable})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// conflicts reports whether two requests share an account that one of them writes.
func conflicts(a, b []LockedAccount) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Key == y.Key && (x.Writable || y.Writable) {
				return true
			}
		}
	}
	return false
}

// available reports whether every account can be granted given the current locks.
func (t *lockTable) available(accounts []LockedAccount) bool {
	for _, a := range accounts {
		l, ok := t.locks[a.Key]
		if !ok {
			continue
		}
		if l.writer != 0 || (a.Writable && len(l.readers) > 0) {
			return false
		}
	}
	return true
}

func (t *lockTable) blockedByWaiting(accounts []LockedAccount, waiting []*lockRequest) bool {
	for _, w := range waiting {
		if conflicts(w.accounts, accounts) {
			return true
		}
	}
	return false
}

// tryAcquire grants accounts if they are free and no earlier waiting request wants them.
func (t *lockTable) tryAcquire(accounts []LockedAccount) (LockHandle, bool) {
	if !t.available(accounts) || t.blockedByWaiting(accounts, t.waiting) {
		return 0, false
	}
	return t.grant(accounts), true
}

func (t *lockTable) grant(accounts []LockedAccount) LockHandle {
	t.last++
	h := t.last
	for _, a := range accounts {
		l, ok := t.locks[a.Key]
		if !ok {
			l = &accountLock{readers: make(map[LockHandle]struct{})}
			t.locks[a.Key] = l
		}
		if a.Writable {
			l.writer = h
		} else {
			l.readers[h] = struct{}{}
		}
	}
	t.held[h] = accounts
	return h
}

func (t *lockTable) enqueue(req *lockRequest) {
	t.waiting = append(t.waiting, req)
}

// release drops every lock of h. It returns false for unknown handles.
func (t *lockTable) release(h LockHandle) bool {
	accounts, ok := t.held[h]
	if !ok {
		return false
	}
	for _, a := range accounts {
		l := t.locks[a.Key]
		if a.Writable {
			l.writer = 0
		} else {
			delete(l.readers, h)
		}
		if l.writer == 0 && len(l.readers) == 0 {
			delete(t.locks, a.Key)
		}
	}
	delete(t.held, h)
	return true
}

// promote grants waiting requests in arrival order. A request stays queued while an
// earlier request that is still waiting conflicts with it.
func (t *lockTable) promote() []*lockRequest {
	var granted, still []*lockRequest
	for _, req := range t.waiting {
		if !t.available(req.accounts) || t.blockedByWaiting(req.accounts, still) {
			still = append(still, req)
			continue
		}
		req.handle = t.grant(req.accounts)
		granted = append(granted, req)
	}
	t.waiting = still
	return granted
}

// expire removes waiting requests whose deadline is not after now.
func (t *lockTable) expire(now time.Time) []*lockRequest {
	var expired, still []*lockRequest
	for _, req := range t.waiting {
		if !req.deadline.After(now) {
			expired = append(expired, req)
			continue
		}
		still = append(still, req)
	}
	t.waiting = still
	return expired
}

// drain removes every waiting request.
func (t *lockTable) drain() []*lockRequest {
	waiting := t.waiting
	t.waiting = nil
	return waiting
}

func (t *lockTable) nextDeadline() (time.Time, bool) {
	var next time.Time
	for _, req := range t.waiting {
		if next.IsZero() || req.deadline.Before(next) {
			next = req.deadline
		}
	}
	return next, !next.IsZero()
}

func (t *lockTable) isWriter(h LockHandle, key types.PublicKey) bool {
	l, ok := t.locks[key]
	return ok && h != 0 && l.writer == h
}

func (t *lockTable) locked(key types.PublicKey) bool {
	_, ok := t.locks[key]
	return ok
}
