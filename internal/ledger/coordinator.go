package ledger

import (
	"context"
	"sync"
)

// AccountKey builds the coordinator key for a guild-scoped account. It
// matches models.Account.Key().
func AccountKey(guildID, userID string) string {
	return guildID + "/" + userID
}

// accountUnit serializes mutations for one account key. The buffered channel
// is the lock; refs counts goroutines holding or waiting for it so idle
// units can be removed from the map.
type accountUnit struct {
	ch   chan struct{}
	refs int
}

// Coordinator grants at most one in-flight balance mutation per account key.
// Keys are opaque strings; callers use models.Account.Key(). Units are
// created on first use and dropped again once nobody holds or waits for
// them, so the map stays proportional to current contention rather than to
// the number of accounts ever seen.
type Coordinator struct {
	mu    sync.Mutex
	units map[string]*accountUnit
}

func NewCoordinator() *Coordinator {
	return &Coordinator{units: make(map[string]*accountUnit)}
}

func (c *Coordinator) acquire(ctx context.Context, key string) (*accountUnit, error) {
	c.mu.Lock()
	u, ok := c.units[key]
	if !ok {
		u = &accountUnit{ch: make(chan struct{}, 1)}
		c.units[key] = u
	}
	u.refs++
	c.mu.Unlock()

	select {
	case u.ch <- struct{}{}:
		return u, nil
	case <-ctx.Done():
		c.release(key, u, false)
		return nil, ctx.Err()
	}
}

func (c *Coordinator) release(key string, u *accountUnit, held bool) {
	if held {
		<-u.ch
	}
	c.mu.Lock()
	u.refs--
	if u.refs == 0 {
		delete(c.units, key)
	}
	c.mu.Unlock()
}

// RunExclusive runs fn while holding the unit for key. Waiting respects ctx;
// a cancelled wait returns ctx.Err() without running fn.
func (c *Coordinator) RunExclusive(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	u, err := c.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer c.release(key, u, true)
	return fn(ctx)
}

// RunExclusivePair holds both units for the duration of fn. Units are always
// acquired in ascending key order, so two concurrent transfers between the
// same accounts in opposite directions cannot deadlock. Equal keys collapse
// to a single acquisition.
func (c *Coordinator) RunExclusivePair(ctx context.Context, a, b string, fn func(ctx context.Context) error) error {
	if a == b {
		return c.RunExclusive(ctx, a, fn)
	}
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	uf, err := c.acquire(ctx, first)
	if err != nil {
		return err
	}
	us, err := c.acquire(ctx, second)
	if err != nil {
		c.release(first, uf, true)
		return err
	}
	defer c.release(first, uf, true)
	defer c.release(second, us, true)
	return fn(ctx)
}
