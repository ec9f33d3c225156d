package analysis

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// lockTable は動画IDごとの排他を提供します。待機はせず、取得できなければ false を返します。
type lockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]struct{})}
}

func (t *lockTable) tryLock(key string) (release func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.held[key]; busy {
		return nil, false
	}
	t.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.held, key)
			t.mu.Unlock()
		})
	}, true
}

// admission は同時に実行できるワーカー数を制限します。
type admission struct {
	sem  *semaphore.Weighted
	wait time.Duration
}

func newAdmission(limit int, wait time.Duration) *admission {
	if limit <= 0 {
		limit = 1
	}
	return &admission{sem: semaphore.NewWeighted(int64(limit)), wait: wait}
}

// acquire は空き枠を最大 wait だけ待ちます。wait が0以下なら待ちません。
func (a *admission) acquire(ctx context.Context) (release func(), err error) {
	if a.wait <= 0 {
		if !a.sem.TryAcquire(1) {
			return nil, context.DeadlineExceeded
		}
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, a.wait)
		defer cancel()
		if err := a.sem.Acquire(waitCtx, 1); err != nil {
			return nil, err
		}
	}

	var once sync.Once
	return func() { once.Do(func() { a.sem.Release(1) }) }, nil
}
