package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fiscus/internal/integrity"
	dErrors "fiscus/pkg/domain-errors"
	"fiscus/pkg/platform/sentinel"
)

const redisKeyPrefix = "fiscus:anchor:"

// Redis anchors fingerprints in an external Redis instance. Records are
// write-once: SETNX guarantees the first submission wins and later
// submissions return the original reference.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed anchor over an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Submit records the fingerprint under a write-once key and returns the
// stored reference.
func (a *Redis) Submit(ctx context.Context, fingerprint string) (Ref, error) {
	if !integrity.IsValid(fingerprint) {
		return Ref{}, dErrors.New(dErrors.CodeInvalidInput, "fingerprint is not in normalized form")
	}

	ref := Ref{ID: uuid.NewString(), AnchoredAt: time.Now().UTC()}
	payload, err := json.Marshal(ref)
	if err != nil {
		return Ref{}, dErrors.Wrap(err, dErrors.CodeInternal, "encode anchor reference")
	}

	key := redisKeyPrefix + fingerprint
	set, err := a.client.SetNX(ctx, key, payload, 0).Result()
	if err != nil {
		return Ref{}, fmt.Errorf("anchor submit: %v: %w", err, sentinel.ErrUnavailable)
	}
	if set {
		return ref, nil
	}

	// Another writer anchored this fingerprint first; return their reference.
	return a.Lookup(ctx, fingerprint)
}

// Lookup returns the reference previously recorded for the fingerprint.
func (a *Redis) Lookup(ctx context.Context, fingerprint string) (Ref, error) {
	raw, err := a.client.Get(ctx, redisKeyPrefix+integrity.Normalize(fingerprint)).Bytes()
	if err == redis.Nil {
		return Ref{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Ref{}, fmt.Errorf("anchor lookup: %v: %w", err, sentinel.ErrUnavailable)
	}

	var ref Ref
	if err := json.Unmarshal(raw, &ref); err != nil {
		return Ref{}, dErrors.Wrap(err, dErrors.CodeInternal, "decode anchor reference")
	}
	return ref, nil
}
