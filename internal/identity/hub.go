package identity

import (
	"sync"

	"github.com/hitoshi/growthdash/internal/model"
)

// defaultSubscriberBuffer は購読者ごとの通知バッファサイズ。
const defaultSubscriberBuffer = 16

// Hub は認証状態変更通知をすべての購読者に配信するブロードキャスター。
// 通知は常に完全な状態を持つため、バッファが溢れた場合は最も古い未配信の通知を捨てて
// 最新の通知を優先する（最後に配信された通知が常に最新状態を表す）。
type Hub struct {
	mu     sync.Mutex
	subs   map[*hubSubscription]struct{}
	buffer int
}

// NewHub はHubを生成する。bufferが0以下の場合はデフォルト値を使用する。
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[*hubSubscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe は新しい購読を登録して返す。
func (h *Hub) Subscribe() Subscription {
	sub := &hubSubscription{
		hub: h,
		ch:  make(chan model.AuthEvent, h.buffer),
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Publish はすべての購読者に通知を配信する。購読者の受信を待たずに返る。
func (h *Hub) Publish(event model.AuthEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		for {
			select {
			case sub.ch <- event:
			default:
				// バッファが満杯: 最も古い通知を1件捨てて再試行する
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (h *Hub) remove(sub *hubSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// hubSubscription はHubの購読1件分。
type hubSubscription struct {
	hub  *Hub
	ch   chan model.AuthEvent
	once sync.Once
}

func (s *hubSubscription) Events() <-chan model.AuthEvent {
	return s.ch
}

func (s *hubSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// compile-time interface check
var _ Subscription = (*hubSubscription)(nil)
