package revocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/keybox-sentinel/interfaces"
)

// CacheKey is the storage key of the cached revocation document envelope.
const CacheKey = "revocation/status.json"

// Cache implements interfaces.RevocationCache on top of a storage backend.
// The body, ETag and fetch time live in one envelope, so a store either
// replaces all three or none.
type Cache struct {
	backend interfaces.StorageBackend
	log     *slog.Logger
	now     func() time.Time
}

func NewCache(backend interfaces.StorageBackend, log *slog.Logger) *Cache {
	return &Cache{
		backend: backend,
		log:     log,
		now:     time.Now,
	}
}

// Load returns the cached document. A missing or unreadable envelope is reported
// as interfaces.ErrCacheMiss so the caller does an unconditional fetch.
func (c *Cache) Load(ctx context.Context) (*interfaces.RevocationDocument, error) {
	data, err := c.backend.Fetch(ctx, CacheKey)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return nil, interfaces.ErrCacheMiss
	}
	if err != nil {
		c.log.Warn("Revocation cache unreadable", "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCacheMiss, err)
	}

	var doc interfaces.RevocationDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		c.log.Warn("Discarding corrupt revocation cache", "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCacheMiss, err)
	}
	return &doc, nil
}

// Store persists doc. A zero FetchedAt is stamped with the current time.
func (c *Cache) Store(ctx context.Context, doc *interfaces.RevocationDocument) error {
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = c.now()
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode revocation document: %w", err)
	}
	if err := c.backend.Store(ctx, CacheKey, data); err != nil {
		return fmt.Errorf("failed to store revocation document: %w", err)
	}

	c.log.Debug("Stored revocation document",
		slog.Int("size", len(doc.Body)),
		slog.String("etag", doc.ETag))
	return nil
}

// AgeOf returns how long ago doc was fetched. Documents stamped in the future
// (clock moved backwards) count as age zero.
func (c *Cache) AgeOf(doc *interfaces.RevocationDocument) time.Duration {
	age := c.now().Sub(doc.FetchedAt)
	if age < 0 {
		return 0
	}
	return age
}
