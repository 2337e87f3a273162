// Package debounce coalesces rapid successive edits to the same file into a
// single version, so auto-save bursts do not flood the version store.
package debounce

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/selfvault/syncengine/internal/logging"
)

// Edit is a pending coalesced write. Only the latest content survives; the
// first-seen timestamp bounds how long coalescing may defer persistence.
type Edit struct {
	PrincipalID string
	DeviceID    string
	Path        string
	Content     []byte
	Checksum    string
	FirstSeen   time.Time
	LastSeen    time.Time
	// Edits counts how many writes were folded into this entry.
	Edits int
}

// FlushFunc materializes a coalesced edit as a real file version.
type FlushFunc func(ctx context.Context, edit *Edit) error

// Cache is an injectable debounce service keyed by (principal, path). An
// entry flushes after `window` of inactivity, or once `ceiling` has elapsed
// since its first edit regardless of continued activity.
type Cache struct {
	entries *ttlcache.Cache[string, *Edit]
	window  time.Duration
	ceiling time.Duration
	flush   FlushFunc
	logger  logging.Logger
}

func NewCache(window, ceiling time.Duration, flush FlushFunc, logger logging.Logger) *Cache {
	c := &Cache{
		window:  window,
		ceiling: ceiling,
		flush:   flush,
		logger:  logger.With("module", "debounce"),
	}

	c.entries = ttlcache.New[string, *Edit](
		ttlcache.WithTTL[string, *Edit](window),
		ttlcache.WithDisableTouchOnHit[string, *Edit](),
	)

	// Only expiry flushes here. Manual flush paths delete their entry first,
	// so a late timer finds nothing and cannot double-flush.
	c.entries.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Edit]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		c.runFlush(context.Background(), item.Value())
	})

	return c
}

// Run starts the expiry loop and blocks until ctx is cancelled, then flushes
// whatever is still pending.
func (c *Cache) Run(ctx context.Context) {
	go c.entries.Start()
	<-ctx.Done()
	c.entries.Stop()
	c.ForceFlushAll(context.Background())
}

func key(principalID, path string) string {
	return principalID + "\x00" + path
}

// QueueEdit records an edit, replacing any pending content for the same file
// and resetting the inactivity timer. When the entry has been pending longer
// than the ceiling, it is flushed immediately instead.
func (c *Cache) QueueEdit(ctx context.Context, principalID, deviceID, path string, content []byte, checksum string) error {
	k := key(principalID, path)
	now := time.Now().UTC()

	edit := &Edit{
		PrincipalID: principalID,
		DeviceID:    deviceID,
		Path:        path,
		Content:     content,
		Checksum:    checksum,
		FirstSeen:   now,
		LastSeen:    now,
		Edits:       1,
	}

	if item := c.entries.Get(k, ttlcache.WithDisableTouchOnHit[string, *Edit]()); item != nil {
		prev := item.Value()
		edit.FirstSeen = prev.FirstSeen
		edit.Edits = prev.Edits + 1
	}

	if now.Sub(edit.FirstSeen) >= c.ceiling {
		c.entries.Delete(k)
		return c.flush(ctx, edit)
	}

	c.entries.Set(k, edit, c.window)
	return nil
}

// ForceFlush immediately materializes the pending entry for one file.
// Flushing an absent entry is a no-op.
func (c *Cache) ForceFlush(ctx context.Context, principalID, path string) error {
	k := key(principalID, path)
	item := c.entries.Get(k, ttlcache.WithDisableTouchOnHit[string, *Edit]())
	if item == nil {
		return nil
	}
	c.entries.Delete(k)
	return c.flush(ctx, item.Value())
}

// ForceFlushAll drains every pending entry, used on shutdown and device
// disconnect.
func (c *Cache) ForceFlushAll(ctx context.Context) {
	for _, item := range c.entries.Items() {
		c.entries.Delete(item.Key())
		c.runFlush(ctx, item.Value())
	}
}

// Pending reports whether a file currently has a coalescing entry.
func (c *Cache) Pending(principalID, path string) bool {
	return c.entries.Get(key(principalID, path), ttlcache.WithDisableTouchOnHit[string, *Edit]()) != nil
}

func (c *Cache) runFlush(ctx context.Context, edit *Edit) {
	if err := c.flush(ctx, edit); err != nil {
		c.logger.Error(ctx, "debounce flush failed",
			"principal", edit.PrincipalID, "path", edit.Path, "error", err)
	}
}
