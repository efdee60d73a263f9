package eventbus

import (
	"sync"
	"time"
)

// Topic names one class of event on the bus. Task topics carry
// taskstore.TaskEvent payloads; scheduler topics carry sched.Event
// payloads.
type Topic string

const (
	TopicTaskCreated  Topic = "task.created"
	TopicTaskStatus   Topic = "task.status"
	TopicTaskPhase    Topic = "task.phase"
	TopicTaskProgress Topic = "task.progress"

	TopicSchedulerStarted Topic = "scheduler_started"
	TopicSchedulerStopped Topic = "scheduler_stopped"
	TopicJobAdded         Topic = "job_added"
	TopicJobRemoved       Topic = "job_removed"
	TopicJobRunStarted    Topic = "job_run_started"
	TopicJobRunCompleted  Topic = "job_run_completed"
	TopicJobRunFailed     Topic = "job_run_failed"
)

// Event is the unit of delivery. Publish stamps Time when the producer
// leaves it zero. Data should stay small and serializable; it crosses
// goroutines as-is.
type Event struct {
	Topic Topic
	Time  time.Time
	Data  any
}

// Bus fans events out to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	// Subscribe registers a buffered subscriber and returns its channel
	// plus an idempotent unsubscribe. With no topics the subscriber
	// receives every event; otherwise only the listed topics.
	Subscribe(buffer int, topics ...Topic) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &fanout{subs: map[int]*subscriber{}}
}

type subscriber struct {
	ch     chan Event
	topics map[Topic]struct{} // nil means all topics
}

func (s *subscriber) wants(tp Topic) bool {
	if s.topics == nil {
		return true
	}
	_, ok := s.topics[tp]
	return ok
}

type fanout struct {
	mu   sync.RWMutex
	next int
	subs map[int]*subscriber
}

// Publish sends under the read lock while unsubscribe closes under the
// write lock, so a delivery can never hit a closed channel.
func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(e.Topic) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Subscriber is behind; drop rather than stall the producer.
		}
	}
}

func (b *fanout) Subscribe(buffer int, topics ...Topic) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]struct{}, len(topics))
		for _, tp := range topics {
			sub.topics[tp] = struct{}{}
		}
	}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(sub.ch)
			b.mu.Unlock()
		})
	}
}
