package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

// Presence records which participants are in which room. The hub is the
// source of truth for routing; presence is what GET /rooms/{room} reports
// and may be shared between relay instances.
type Presence interface {
	Add(ctx context.Context, room string, id signaling.ParticipantID) error
	Remove(ctx context.Context, room string, id signaling.ParticipantID) error
	Members(ctx context.Context, room string) ([]signaling.ParticipantID, error)
	Count(ctx context.Context, room string) (int64, error)
	Close() error
}

// NewPresence returns a Redis-backed store when Redis is configured and an
// in-process one otherwise.
func NewPresence(ctx context.Context, cfg config.RedisConfig) (Presence, error) {
	if !cfg.Enabled() {
		return NewMemoryPresence(), nil
	}
	return NewRedisPresence(ctx, cfg)
}

// presenceTurns orders one participant's presence updates. Turns are taken
// under the hub lock, so a leave is never written before the join it follows,
// even when the two run on different goroutines.
type presenceTurns struct {
	mu      sync.Mutex
	cond    *sync.Cond
	issued  uint64
	applied uint64
}

func newPresenceTurns() *presenceTurns {
	t := &presenceTurns{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *presenceTurns) take() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn := t.issued
	t.issued++
	return turn
}

// run waits for every earlier turn to finish, then runs fn.
func (t *presenceTurns) run(turn uint64, fn func()) {
	t.mu.Lock()
	for t.applied != turn {
		t.cond.Wait()
	}
	t.mu.Unlock()

	fn()

	t.mu.Lock()
	t.applied++
	t.cond.Broadcast()
	t.mu.Unlock()
}

type MemoryPresence struct {
	mu    sync.Mutex
	rooms map[string]map[signaling.ParticipantID]struct{}
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{rooms: make(map[string]map[signaling.ParticipantID]struct{})}
}

func (p *MemoryPresence) Add(_ context.Context, room string, id signaling.ParticipantID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.rooms[room]
	if !ok {
		set = make(map[signaling.ParticipantID]struct{})
		p.rooms[room] = set
	}
	set[id] = struct{}{}
	return nil
}

func (p *MemoryPresence) Remove(_ context.Context, room string, id signaling.ParticipantID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.rooms[room]
	if !ok {
		return nil
	}
	delete(set, id)
	if len(set) == 0 {
		delete(p.rooms, room)
	}
	return nil
}

func (p *MemoryPresence) Members(_ context.Context, room string) ([]signaling.ParticipantID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.rooms[room]
	out := make([]signaling.ParticipantID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortIDs(out)
	return out, nil
}

func (p *MemoryPresence) Count(_ context.Context, room string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.rooms[room])), nil
}

func (p *MemoryPresence) Close() error { return nil }

// RedisPresence keeps one set per room at room:<room>:peers. Every Add
// refreshes the key's TTL so rooms abandoned by a crashed relay expire.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresence(ctx context.Context, cfg config.RedisConfig) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return newRedisPresence(client, cfg.PresenceTTL), nil
}

func newRedisPresence(client *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = config.DefaultRedisPresenceTTL
	}
	return &RedisPresence{client: client, ttl: ttl}
}

func roomKey(room string) string {
	return "room:" + room + ":peers"
}

func (p *RedisPresence) Add(ctx context.Context, room string, id signaling.ParticipantID) error {
	key := roomKey(room)
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, key, string(id))
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence add %s: %w", room, err)
	}
	return nil
}

func (p *RedisPresence) Remove(ctx context.Context, room string, id signaling.ParticipantID) error {
	if err := p.client.SRem(ctx, roomKey(room), string(id)).Err(); err != nil {
		return fmt.Errorf("presence remove %s: %w", room, err)
	}
	return nil
}

func (p *RedisPresence) Members(ctx context.Context, room string) ([]signaling.ParticipantID, error) {
	raw, err := p.client.SMembers(ctx, roomKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence members %s: %w", room, err)
	}
	out := make([]signaling.ParticipantID, 0, len(raw))
	for _, id := range raw {
		out = append(out, signaling.ParticipantID(id))
	}
	sortIDs(out)
	return out, nil
}

func (p *RedisPresence) Count(ctx context.Context, room string) (int64, error) {
	n, err := p.client.SCard(ctx, roomKey(room)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count %s: %w", room, err)
	}
	return n, nil
}

func (p *RedisPresence) Close() error {
	return p.client.Close()
}

func sortIDs(ids []signaling.ParticipantID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
