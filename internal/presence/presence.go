package presence

import (
	"sync"
	"time"

	"github.com/kamilllllllllllllllll/lightning-server/internal/metrics"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type record struct {
	status    string
	connID    string
	expiresAt time.Time
}

// Store 维护用户在线状态，记录带滑动过期时间，过期即视为离线。
// 崩溃或断网的客户端最多在一个 TTL 窗口内仍显示在线。
type Store struct {
	mu   sync.Mutex
	m    map[uint]record
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

func NewStore(ttl time.Duration) *Store {
	s := &Store{m: make(map[uint]record), ttl: ttl, stop: make(chan struct{})}
	go s.sweep()
	return s
}

// SetOnline 将用户标记为在线并记录持有连接，同时刷新过期时间。
func (s *Store) SetOnline(userID uint, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.m[userID]; !ok || prev.status != StatusOnline {
		metrics.OnlineUsers.Inc()
	}
	s.m[userID] = record{status: StatusOnline, connID: connID, expiresAt: time.Now().Add(s.ttl)}
}

// SetOffline 只有当前持有连接可以清除在线状态；旧连接的迟到断开是静默 no-op，
// 避免重连后的新状态被覆盖。
func (s *Store) SetOffline(userID uint, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[userID]
	if !ok || rec.connID != connID {
		return
	}
	if rec.status == StatusOnline {
		metrics.OnlineUsers.Dec()
	}
	s.m[userID] = record{status: StatusOffline, connID: connID, expiresAt: time.Now().Add(s.ttl)}
}

// Get 返回用户状态，记录缺失或已过期一律视为离线。
func (s *Store) Get(userID uint) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[userID]
	if !ok || time.Now().After(rec.expiresAt) {
		return StatusOffline
	}
	return rec.status
}

func (s *Store) sweep() {
	interval := s.ttl / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, rec := range s.m {
				if now.After(rec.expiresAt) {
					if rec.status == StatusOnline {
						metrics.OnlineUsers.Dec()
					}
					delete(s.m, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Stop 停止后台清理 goroutine，用于优雅停服。
func (s *Store) Stop() {
	s.once.Do(func() { close(s.stop) })
}
