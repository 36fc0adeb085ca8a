// Package feed реализует уведомления об изменениях хранилища и подписки на снимки выборок.
package feed

import "sync"

// Collection обозначает логическую коллекцию хранилища.
type Collection string

const (
	Members       Collection = "members"
	Logs          Collection = "logs"
	SpendRequests Collection = "spend_requests"
	Announcements Collection = "announcements"
	Officers      Collection = "officers"
)

// Change описывает изменение одной записи.
type Change struct {
	Collection Collection `json:"collection"`
	ID         string     `json:"id"`
	MemberID   string     `json:"member_id,omitempty"`
}

// Matcher решает, затрагивает ли изменение выборку подписчика.
type Matcher func(Change) bool

type subscriber struct {
	match  Matcher
	signal chan struct{}
}

// Broker рассылает изменения локальным подписчикам.
// Отправка не блокируется: подписчик получает сигнал «есть изменения», сигналы схлопываются.
type Broker struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]*subscriber
}

// NewBroker создаёт пустой брокер изменений.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]*subscriber)}
}

// Publish уведомляет подписчиков, чьи выборки затронуты изменениями.
func (b *Broker) Publish(changes ...Change) {
	if len(changes) == 0 {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		for _, c := range changes {
			if s.match != nil && !s.match(c) {
				continue
			}
			select {
			case s.signal <- struct{}{}:
			default:
			}
			break
		}
	}
}

// Subscribe регистрирует подписчика и возвращает канал сигналов и функцию отписки.
func (b *Broker) Subscribe(match Matcher) (<-chan struct{}, func()) {
	s := &subscriber{
		match:  match,
		signal: make(chan struct{}, 1),
	}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.signal, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Len возвращает число активных подписчиков.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
