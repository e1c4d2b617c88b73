package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/credit/domain"
	"github.com/smallbiznis/settlement/internal/ratelimit"
	"go.uber.org/zap"
)

const keyCreditOrgLock = "credit:lock:org:%s"

// New picks the Redis lock when a Redis client is configured and the in-process
// keyed mutex otherwise.
func New(cfg config.Config, locker *ratelimit.Locker, log *zap.Logger) domain.OrgLocker {
	if locker != nil {
		log.Named("credit.lock").Info("using redis organization lock")
		return NewRedis(locker, cfg.Credit.LockTTL)
	}
	return NewMemory()
}

type memoryLocker struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewMemory() domain.OrgLocker {
	return &memoryLocker{locks: map[snowflake.ID]*entry{}}
}

func (m *memoryLocker) Lock(ctx context.Context, orgID snowflake.ID) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[orgID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.locks[orgID] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.drop(orgID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.drop(orgID, e)
		})
	}, nil
}

func (m *memoryLocker) drop(orgID snowflake.ID, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, orgID)
	}
}

type redisLocker struct {
	locker *ratelimit.Locker
	ttl    time.Duration
}

func NewRedis(locker *ratelimit.Locker, ttl time.Duration) domain.OrgLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &redisLocker{locker: locker, ttl: ttl}
}

func (r *redisLocker) Lock(ctx context.Context, orgID snowflake.ID) (func(), error) {
	key := fmt.Sprintf(keyCreditOrgLock, orgID.String())
	waitCtx, cancel := context.WithTimeout(ctx, r.ttl)
	defer cancel()
	token, err := r.locker.Lock(waitCtx, key, r.ttl)
	if err != nil {
		return nil, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = r.locker.Release(releaseCtx, key, token)
	}, nil
}
