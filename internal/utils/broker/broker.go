// Package broker fans messages out to in-process subscribers by topic.
package broker

import (
	"sync"
)

// BalanceUpdate is published whenever a wallet balance changes.
type BalanceUpdate struct {
	Balance float64 `json:"balance"`
	Delta   float64 `json:"delta"`
	Reason  string  `json:"reason"`
}

func BalanceTopic(userID string) string {
	return "balance_update_" + userID
}

type Broker[T any] struct {
	subscribers map[string][]chan T
	mu          sync.RWMutex
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subscribers: make(map[string][]chan T),
	}
}

func (b *Broker[T]) Subscribe(topic string) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan T, 8)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

func (b *Broker[T]) Unsubscribe(topic string, ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	chans := b.subscribers[topic]
	for i, c := range chans {
		if c == ch {
			b.subscribers[topic] = append(chans[:i], chans[i+1:]...)
			close(c)
			break
		}
	}
	if len(b.subscribers[topic]) == 0 {
		delete(b.subscribers, topic)
	}
}

// Publish never blocks: a subscriber whose buffer is full misses the message.
func (b *Broker[T]) Publish(topic string, msg T) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (b *Broker[T]) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
