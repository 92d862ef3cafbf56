package store

import (
	"sync"

	"arb-watch-go/snapshot"
)

// Store 保存最近的 cycle，供 HTTP API 与推送读取。
// 写入只来自 engine（单写者），读取可以并发。
type Store struct {
	mu      sync.RWMutex
	history []*snapshot.Cycle // 环形缓冲，最新的在 head-1
	head    int
	size    int
}

// New historySize<=0 时只保留最新一条。
func New(historySize int) *Store {
	if historySize <= 0 {
		historySize = 1
	}
	return &Store{history: make([]*snapshot.Cycle, historySize)}
}

// Put 记录一轮结果，nil 忽略。
func (s *Store) Put(c *snapshot.Cycle) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[s.head] = c
	s.head = (s.head + 1) % len(s.history)
	if s.size < len(s.history) {
		s.size++
	}
}

// Latest 最新一轮；还没有任何结果时返回 false。
func (s *Store) Latest() (*snapshot.Cycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.size == 0 {
		return nil, false
	}
	idx := (s.head - 1 + len(s.history)) % len(s.history)
	return s.history[idx], true
}

// History 从新到旧返回保存的 cycle。
func (s *Store) History() []*snapshot.Cycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*snapshot.Cycle, 0, s.size)
	for i := 1; i <= s.size; i++ {
		idx := (s.head - i + len(s.history)) % len(s.history)
		out = append(out, s.history[idx])
	}
	return out
}

// Len 当前保存的数量。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}
