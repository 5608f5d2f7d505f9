package cache

import (
	"context"
	"strings"
	"time"
)

// Deduper 事件去重
type Deduper struct {
	store *Store
	ttl   time.Duration
}

// NewDeduper 创建去重器，Redis 未启用时始终视为首次
func NewDeduper(store *Store, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Deduper{store: store, ttl: ttl}
}

// MarkOnce 首次标记返回 true，重复返回 false
func (d *Deduper) MarkOnce(ctx context.Context, scope, id string) (bool, error) {
	if d == nil || !d.store.Enabled() {
		return true, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return true, nil
	}
	key := d.store.buildKey("dedup:" + scope + ":" + id)
	return d.store.client.SetNX(ctx, key, 1, d.ttl).Result()
}

// Forget 撤销标记（处理失败需要重试时）
func (d *Deduper) Forget(ctx context.Context, scope, id string) error {
	if d == nil || !d.store.Enabled() {
		return nil
	}
	return d.store.Del(ctx, "dedup:"+scope+":"+strings.TrimSpace(id))
}
