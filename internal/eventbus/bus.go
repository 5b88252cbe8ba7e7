// Package eventbus реализует синхронную шину доменных событий между модулями POS.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultHistoryLimit = 1000

// Event описывает доменное событие. Событие неизменяемо после публикации.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	ModuleID  string      `json:"module_id"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	Version   int         `json:"version"`
}

// Handler обрабатывает доменное событие.
type Handler func(Event)

// SubscriptionID идентифицирует подписку для последующей отписки.
type SubscriptionID int64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus доставляет события подписчикам синхронно, в порядке оформления подписок.
// Доставка реентерабельна: обработчик может публиковать события из своего вызова.
// Шина не защищает от бесконечных циклов повторной публикации, это ответственность
// подписчиков.
type Bus struct {
	mu           sync.Mutex
	nextID       SubscriptionID
	subs         map[string][]subscription
	allSubs      []subscription
	history      []Event
	historyLimit int
}

// New создаёт шину событий с ограничением истории по умолчанию.
func New() *Bus {
	return NewWithHistoryLimit(defaultHistoryLimit)
}

// NewWithHistoryLimit создаёт шину событий с указанным ограничением размера истории.
func NewWithHistoryLimit(limit int) *Bus {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Bus{
		subs:         make(map[string][]subscription),
		historyLimit: limit,
	}
}

func topicKey(moduleID, eventType string) string {
	return moduleID + ":" + eventType
}

// Publish создаёт событие и синхронно доставляет его всем подписчикам.
// Вызов возвращается только после завершения всех обработчиков, поэтому
// подписчик, получивший событие, наблюдает все изменения, сделанные до публикации.
func (b *Bus) Publish(eventType, moduleID string, payload interface{}) Event {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		ModuleID:  moduleID,
		Payload:   payload,
		Timestamp: time.Now(),
		Version:   1,
	}

	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > b.historyLimit {
		b.history = b.history[len(b.history)-b.historyLimit:]
	}

	topic := b.subs[topicKey(moduleID, eventType)]
	targets := make([]subscription, 0, len(topic)+len(b.allSubs))
	targets = append(targets, topic...)
	targets = append(targets, b.allSubs...)
	b.mu.Unlock()

	// Обработчики вызываются вне блокировки, чтобы публикация из обработчика не
	// приводила к дедлоку.
	for _, s := range targets {
		s.handler(event)
	}

	return event
}

// Subscribe подписывает обработчик на события указанного типа от указанного модуля.
func (b *Bus) Subscribe(moduleID, eventType string, h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	key := topicKey(moduleID, eventType)
	b.subs[key] = append(b.subs[key], subscription{id: b.nextID, handler: h})
	return b.nextID
}

// SubscribeAll подписывает обработчик на все события шины.
func (b *Bus) SubscribeAll(h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.allSubs = append(b.allSubs, subscription{id: b.nextID, handler: h})
	return b.nextID
}

// Unsubscribe удаляет подписку по идентификатору.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subs {
		for i, s := range subs {
			if s.id == id {
				b.subs[key] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}

	for i, s := range b.allSubs {
		if s.id == id {
			b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
			return
		}
	}
}

// History возвращает события из истории, отфильтрованные по модулю и времени.
// История предназначена для диагностики и не является журналом для восстановления.
func (b *Bus) History(moduleID string, since time.Time) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := make([]Event, 0, len(b.history))
	for _, e := range b.history {
		if moduleID != "" && e.ModuleID != moduleID {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		res = append(res, e)
	}
	return res
}

// ClearHistory очищает историю событий.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}
