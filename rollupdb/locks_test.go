package rollupdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAccounts(t *testing.T) {
	a, b := testKey(1), testKey(2)
	got := normalizeAccounts([]LockedAccount{{Key: b}, {Key: a}, {Key: b, Writable: true}, {Key: a}})
	assert.Len(t, got, 2)
	for _, acc := range got {
		assert.Equal(t, acc.Key == b, acc.Writable)
	}
	assert.True(t, got[0].Key.Less(got[1].Key))
}

func TestLockTablePromoteOrder(t *testing.T) {
	assert := assert.New(t)
	lt := newLockTable()
	a, b := testKey(1), testKey(2)
	deadline := time.Now().Add(time.Hour)

	h, ok := lt.tryAcquire(writable(a))
	assert.True(ok)

	first := &lockRequest{accounts: writable(a, b), deadline: deadline}
	second := &lockRequest{accounts: writable(b), deadline: deadline}
	lt.enqueue(first)
	// b is free but the earlier request wants it
	_, ok = lt.tryAcquire(writable(b))
	assert.False(ok)
	lt.enqueue(second)

	assert.Empty(lt.promote())
	assert.True(lt.release(h))
	granted := lt.promote()
	assert.Equal([]*lockRequest{first}, granted)
	assert.True(lt.isWriter(first.handle, b))
	assert.Len(lt.waiting, 1)

	assert.True(lt.release(first.handle))
	assert.Equal([]*lockRequest{second}, lt.promote())
	assert.False(lt.locked(a))
	assert.True(lt.locked(b))
}

func TestLockTableExpire(t *testing.T) {
	assert := assert.New(t)
	lt := newLockTable()
	now := time.Now()
	early := &lockRequest{accounts: writable(testKey(1)), deadline: now.Add(time.Millisecond)}
	late := &lockRequest{accounts: writable(testKey(2)), deadline: now.Add(time.Hour)}
	lt.enqueue(late)
	lt.enqueue(early)

	next, ok := lt.nextDeadline()
	assert.True(ok)
	assert.Equal(early.deadline, next)

	assert.Equal([]*lockRequest{early}, lt.expire(now.Add(time.Second)))
	assert.Equal([]*lockRequest{late}, lt.drain())
	_, ok = lt.nextDeadline()
	assert.False(ok)
}
