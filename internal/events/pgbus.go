package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

// PGBus is a PostgreSQL NOTIFY/LISTEN backed event bus for distributed
// deployments, adapted from the teacher's pkg/pgnotify.Bus: each core
// process LISTENs on every topic it has a local subscriber for, and
// publishes via pg_notify so every other process's subscribers see the
// event too. There is no persistent per-subscriber queue: NOTIFY payloads
// are not stored, so a subscriber that is not listening when an event is
// emitted never receives it.
type PGBus struct {
	db       *sql.DB
	listener *pq.Listener
	dsn      string

	mu       sync.RWMutex
	handlers map[string][]Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const pgBusChannelPrefix = "ace_"

// NewPGBus creates a Postgres-backed bus using dsn for both publishing
// (via the shared *sql.DB) and listening (its own dedicated connection).
func NewPGBus(db *sql.DB, dsn string) (*PGBus, error) {
	reportProblem := func(_ pq.ListenerEventType, err error) {
		if err != nil {
			fmt.Printf("events: pgbus listener error: %v\n", err)
		}
	}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)

	ctx, cancel := context.WithCancel(context.Background())
	b := &PGBus{
		db:       db,
		listener: listener,
		dsn:      dsn,
		handlers: make(map[string][]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}

	b.wg.Add(1)
	go b.listen()

	return b, nil
}

// Subscribe registers handler for topic and starts LISTENing on its
// channel if this is the first local subscriber.
func (b *PGBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.handlers[topic]) == 0 {
		if err := b.listener.Listen(pgBusChannelPrefix + topic); err != nil {
			fmt.Printf("events: pgbus listen %s: %v\n", topic, err)
		}
	}
	b.handlers[topic] = append(b.handlers[topic], handler)
}

type envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Emit publishes payload to topic via pg_notify; every process (including
// this one) with a local subscriber receives it asynchronously.
func (b *PGBus) Emit(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Printf("events: pgbus marshal payload: %v\n", err)
		return
	}
	env, err := json.Marshal(envelope{Topic: topic, Payload: data})
	if err != nil {
		fmt.Printf("events: pgbus marshal envelope: %v\n", err)
		return
	}
	if _, err := b.db.ExecContext(b.ctx, "SELECT pg_notify($1, $2)", pgBusChannelPrefix+topic, string(env)); err != nil {
		fmt.Printf("events: pgbus notify: %v\n", err)
	}
}

// Topics returns every topic with at least one local subscriber.
func (b *PGBus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		out = append(out, t)
	}
	return out
}

// Close stops the listener goroutine and releases the dedicated
// connection.
func (b *PGBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.listener.Close()
}

func (b *PGBus) listen() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case n := <-b.listener.Notify:
			if n == nil {
				continue // connection lost; pq.Listener reconnects on its own
			}
			var env envelope
			if err := json.Unmarshal([]byte(n.Extra), &env); err != nil {
				continue
			}
			var payload interface{}
			_ = json.Unmarshal(env.Payload, &payload)

			b.mu.RLock()
			handlers := make([]Handler, len(b.handlers[env.Topic]))
			copy(handlers, b.handlers[env.Topic])
			b.mu.RUnlock()

			for _, h := range handlers {
				h(env.Topic, payload)
			}
		case <-time.After(90 * time.Second):
			_ = b.listener.Ping()
		}
	}
}

var _ Bus = (*PGBus)(nil)
