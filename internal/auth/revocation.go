package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	revokedPrefix = "auth:revoked:"
	// DefaultRevocationTTL matches the lifetime of the longest-lived token the
	// identity service issues.
	DefaultRevocationTTL = 72 * time.Hour
)

// RevocationList reads the Redis revocation list maintained by the identity
// service. Tokens are stored by SHA-256 digest, never in the clear.
type RevocationList struct {
	client *redis.Client
}

// NewRevocationList builds a revocation list over a Redis client.
func NewRevocationList(client *redis.Client) *RevocationList {
	return &RevocationList{client: client}
}

// IsRevoked reports whether token is on the list.
func (l *RevocationList) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := l.client.Exists(ctx, revocationKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup revoked token: %w", err)
	}
	return n > 0, nil
}

// Revoke puts token on the list for ttl, or DefaultRevocationTTL when ttl is zero.
func (l *RevocationList) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultRevocationTTL
	}
	if err := l.client.Set(ctx, revocationKey(token), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func revocationKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return revokedPrefix + hex.EncodeToString(sum[:])
}
