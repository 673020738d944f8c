package events

import (
	"sync"
)

const defaultBufferSize = 256

// Bus はブートストラップの進行イベントを購読者に配る。
// 直近のフェーズイベントを覚えておき、後から購読した側にも現在のフェーズを渡す
type Bus struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	bufferSize  int
	closed      bool

	lastPhase *Event
}

// NewBus は新しいイベントバスを作成する
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[chan Event]struct{}),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe はイベントを受け取るチャネルを返す。
// フェーズが既に通知されていれば、最初にそのイベントが届く。
// クローズ済みのバスではクローズ済みのチャネルを返す
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	if b.lastPhase != nil {
		ch <- *b.lastPhase
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe は購読を解除してチャネルを閉じる
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub == ch {
			delete(b.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Publish は全購読者にイベントを送る。nilのバスでは何もしない。
// バッファが埋まっている購読者への送信は捨てる
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if event.Type == EventPhase {
		ev := event
		b.lastPhase = &ev
	}

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// LastPhase は直近に通知されたフェーズイベントを返す
func (b *Bus) LastPhase() (Event, bool) {
	if b == nil {
		return Event{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastPhase == nil {
		return Event{}, false
	}
	return *b.lastPhase, true
}

// SubscriberCount は購読者数を返す
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close は全購読者のチャネルを閉じる。以降のPublishは無視される
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
