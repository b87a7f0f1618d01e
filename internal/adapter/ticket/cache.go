package ticket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	portcache "github.com/alanyang/domain-server/internal/port/cache"
	portverifier "github.com/alanyang/domain-server/internal/port/verifier"
)

// CachingVerifier remembers successful verifications so a node re-sending the
// same ticket every check-in is not re-verified each time. Failures are never
// cached.
type CachingVerifier struct {
	next  portverifier.Verifier
	cache portcache.Cache
	ttl   time.Duration
}

func NewCachingVerifier(next portverifier.Verifier, cache portcache.Cache, ttl time.Duration) *CachingVerifier {
	return &CachingVerifier{next: next, cache: cache, ttl: ttl}
}

func (v *CachingVerifier) Verify(ctx context.Context, token []byte) (uuid.UUID, error) {
	key := cacheKey(token)

	if b, err := v.cache.Get(ctx, key); err == nil {
		if id, err := uuid.FromBytes(b); err == nil {
			return id, nil
		}
	} else if !errors.Is(err, portcache.ErrNotFound) {
		slog.WarnContext(ctx, "ticket cache read failed", "error", err)
	}

	id, err := v.next.Verify(ctx, token)
	if err != nil {
		return uuid.Nil, err
	}

	if err := v.cache.Set(ctx, key, id[:], v.ttl); err != nil {
		slog.WarnContext(ctx, "ticket cache write failed", "error", err)
	}
	return id, nil
}

func cacheKey(token []byte) string {
	sum := sha256.Sum256(token)
	return "ticket:" + hex.EncodeToString(sum[:])
}
