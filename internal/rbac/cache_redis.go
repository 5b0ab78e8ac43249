package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout. Version counters are plain INCR keys; cached entries
// are JSON payloads stamped with the counters they were computed against.
const (
	cacheKeyPrefix   = "rbac:perm:user:"
	versionKeyGlobal = "rbac:ver:global"
	versionKeyFirm   = "rbac:ver:firm:"
	versionKeyUser   = "rbac:ver:user:"
)

type versionedEntry struct {
	Codes         []string `json:"codes"`
	GlobalVersion int64    `json:"gv"`
	FirmVersion   int64    `json:"fv"`
	UserVersion   int64    `json:"uv"`
}

// VersionedCache is the shared, multi-instance permission cache. Each entry
// records the global/firm/user version counters it was computed against; a
// read whose stored versions no longer match the live counters is a miss.
// Invalidation bumps a counter instead of chasing entries, so it is safe
// across processes where a purely in-memory TTL is not.
type VersionedCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewVersionedCache constructs the redis-backed cache. A non-positive ttl
// falls back to DefaultCacheTTL.
func NewVersionedCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *VersionedCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionedCache{client: client, ttl: ttl, logger: logger}
}

var (
	_ Cache       = (*VersionedCache)(nil)
	_ Invalidator = (*VersionedCache)(nil)
)

// GetUser returns the cached set when present and version-current.
func (c *VersionedCache) GetUser(ctx context.Context, principal Principal) (PermissionSet, bool) {
	payload, err := c.client.Get(ctx, cacheKeyPrefix+strconv.FormatInt(principal.UserID, 10)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("permission cache read", slog.Any("error", err))
		}
		return nil, false
	}
	var entry versionedEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, false
	}
	gv, fv, uv, err := c.versions(ctx, principal)
	if err != nil {
		// Fail closed on coherency: treat as a miss.
		return nil, false
	}
	if entry.GlobalVersion != gv || entry.FirmVersion != fv || entry.UserVersion != uv {
		return nil, false
	}
	return NewPermissionSet(entry.Codes...), true
}

// CacheStamp records the version counters in force when a resolve started.
type CacheStamp struct {
	Global int64
	Firm   int64
	User   int64
}

// Stamp reads the live counters. Capturing the stamp before resolving and
// writing with SetUserAt means a counter bump landing mid-resolve fails the
// version check on the next read instead of being stamped over.
func (c *VersionedCache) Stamp(ctx context.Context, principal Principal) (CacheStamp, bool) {
	gv, fv, uv, err := c.versions(ctx, principal)
	if err != nil {
		c.logger.Warn("permission cache version read", slog.Any("error", err))
		return CacheStamp{}, false
	}
	return CacheStamp{Global: gv, Firm: fv, User: uv}, true
}

// SetUserAt stores the resolved set stamped with counters captured earlier.
func (c *VersionedCache) SetUserAt(ctx context.Context, principal Principal, set PermissionSet, stamp CacheStamp) {
	payload, err := json.Marshal(versionedEntry{
		Codes:         set.Codes(),
		GlobalVersion: stamp.Global,
		FirmVersion:   stamp.Firm,
		UserVersion:   stamp.User,
	})
	if err != nil {
		return
	}
	key := cacheKeyPrefix + strconv.FormatInt(principal.UserID, 10)
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("permission cache write", slog.Any("error", err))
	}
}

// SetUser stores the resolved set stamped with the current counters. Callers
// holding a set resolved earlier should use Stamp and SetUserAt instead.
func (c *VersionedCache) SetUser(ctx context.Context, principal Principal, set PermissionSet) {
	stamp, ok := c.Stamp(ctx, principal)
	if !ok {
		return
	}
	c.SetUserAt(ctx, principal, set, stamp)
}

// InvalidateUser bumps the user-scope counter and drops the entry.
func (c *VersionedCache) InvalidateUser(ctx context.Context, userID int64) {
	id := strconv.FormatInt(userID, 10)
	if err := c.client.Incr(ctx, versionKeyUser+id).Err(); err != nil {
		c.logger.Warn("bump user version", slog.Any("error", err))
	}
	if err := c.client.Del(ctx, cacheKeyPrefix+id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("drop cached entry", slog.Any("error", err))
	}
}

// InvalidateFirm bumps the firm-scope counter; every entry computed for
// that firm fails its version check on the next read.
func (c *VersionedCache) InvalidateFirm(ctx context.Context, firmID int64) {
	if err := c.client.Incr(ctx, versionKeyFirm+strconv.FormatInt(firmID, 10)).Err(); err != nil {
		c.logger.Warn("bump firm version", slog.Any("error", err))
	}
}

// InvalidateAll bumps the global counter, expiring every cached entry.
func (c *VersionedCache) InvalidateAll(ctx context.Context) {
	if err := c.client.Incr(ctx, versionKeyGlobal).Err(); err != nil {
		c.logger.Warn("bump global version", slog.Any("error", err))
	}
}

func (c *VersionedCache) versions(ctx context.Context, principal Principal) (gv, fv, uv int64, err error) {
	firmKey := versionKeyFirm + "0"
	if principal.FirmID != nil {
		firmKey = versionKeyFirm + strconv.FormatInt(*principal.FirmID, 10)
	}
	values, err := c.client.MGet(ctx, versionKeyGlobal, firmKey,
		versionKeyUser+strconv.FormatInt(principal.UserID, 10)).Result()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("rbac: cache versions: %w", err)
	}
	parse := func(v any) int64 {
		s, ok := v.(string)
		if !ok {
			return 0
		}
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	return parse(values[0]), parse(values[1]), parse(values[2]), nil
}
