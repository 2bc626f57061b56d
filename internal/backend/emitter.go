package backend

import (
	"sort"
	"sync"
)

// Emitter はセッション変更通知のリスナーを管理し、通知を配信する。
// 配信は同期的に行い、Emitの呼び出し順を全リスナーで保証する。
type Emitter struct {
	mu        sync.Mutex
	listeners map[uint64]func(AuthEvent)
	next      uint64

	// emitMu は配信を直列化する。リスナー内からEmitを呼び出してはならない。
	emitMu sync.Mutex
}

// NewEmitter は空のEmitterを生成する。
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[uint64]func(AuthEvent))}
}

// Subscribe はリスナーを登録し、解除用のSubscriptionを返す。
func (e *Emitter) Subscribe(fn func(AuthEvent)) Subscription {
	e.mu.Lock()
	id := e.next
	e.next++
	e.listeners[id] = fn
	e.mu.Unlock()

	return &subscription{emitter: e, id: id}
}

// Emit は登録順に全リスナーへ通知を配信する。
func (e *Emitter) Emit(ev AuthEvent) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	for _, fn := range e.snapshot() {
		fn(ev)
	}
}

// Len は登録中のリスナー数を返す。
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

func (e *Emitter) snapshot() []func(AuthEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]uint64, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fns := make([]func(AuthEvent), len(ids))
	for i, id := range ids {
		fns[i] = e.listeners[id]
	}
	return fns
}

func (e *Emitter) remove(id uint64) {
	e.mu.Lock()
	delete(e.listeners, id)
	e.mu.Unlock()
}

type subscription struct {
	emitter *Emitter
	id      uint64
	once    sync.Once
}

// Unsubscribe はリスナーの登録を解除する。
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.emitter.remove(s.id)
	})
}
