package app

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"call_reminder/internal/domain/reminder"
)

// Collection publishes snapshots of all reminders to subscribers after
// every change. Slow subscribers only ever see the latest snapshot.
type Collection struct {
	store reminder.Repository
	log   *logrus.Entry

	mu   sync.Mutex
	subs map[int]chan []*reminder.Reminder
	next int
}

func NewCollection(store reminder.Repository, log *logrus.Entry) *Collection {
	return &Collection{
		store: store,
		log:   log.WithField("component", "collection"),
		subs:  make(map[int]chan []*reminder.Reminder),
	}
}

// Subscribe returns a channel carrying the current snapshot followed by a
// new one after every change. It is closed when ctx is done.
func (c *Collection) Subscribe(ctx context.Context) <-chan []*reminder.Reminder {
	ch := make(chan []*reminder.Reminder, 1)

	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = ch
	c.mu.Unlock()

	if list, err := c.store.GetAll(ctx); err == nil {
		c.offer(ch, list)
	} else {
		c.log.WithError(err).Warn("Initial reminder snapshot failed")
	}

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs, id)
		close(ch)
		c.mu.Unlock()
	}()
	return ch
}

// Publish pushes a fresh snapshot to every subscriber.
func (c *Collection) Publish(ctx context.Context) {
	c.mu.Lock()
	n := len(c.subs)
	c.mu.Unlock()
	if n == 0 {
		return
	}

	list, err := c.store.GetAll(ctx)
	if err != nil {
		c.log.WithError(err).Warn("Reminder snapshot failed")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		c.replace(ch, list)
	}
}

func (c *Collection) offer(ch chan []*reminder.Reminder, list []*reminder.Reminder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replace(ch, list)
}

// replace must be called with c.mu held.
func (c *Collection) replace(ch chan []*reminder.Reminder, list []*reminder.Reminder) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- list:
	default:
	}
}
