package archive

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"collab-app/internal/models"
	"collab-app/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	channel_id   TEXT NOT NULL,
	author_id    TEXT NOT NULL,
	message_type TEXT NOT NULL,
	content      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
)`

const insertMessage = `
INSERT INTO messages (id, room_id, channel_id, author_id, message_type, content, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

type entry struct {
	roomID  string
	message *models.Message
}

// Archiver flushes accepted messages to Postgres asynchronously. The room
// core never blocks on it: Store is non-blocking and sheds to a counter when
// the buffer is full. Losing archive writes is acceptable; delaying the hub
// is not.
type Archiver struct {
	pool  *pgxpool.Pool
	queue chan entry
	done  chan struct{}

	// dropped is bumped from every room's worker goroutine.
	dropped atomic.Int64
}

func New(ctx context.Context, databaseURL string) (*Archiver, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	a := &Archiver{
		pool:  pool,
		queue: make(chan entry, 1024),
		done:  make(chan struct{}),
	}
	go a.run()
	logger.Info("Message archiver connected")
	return a, nil
}

// Store implements room.MessageSink.
func (a *Archiver) Store(roomID string, message *models.Message) {
	select {
	case a.queue <- entry{roomID: roomID, message: message}:
	default:
		if n := a.dropped.Add(1); n%100 == 1 {
			logger.Warn("archiver backlog full, dropped %d messages so far", n)
		}
	}
}

func (a *Archiver) run() {
	defer close(a.done)

	const batchSize = 64
	flush := time.NewTicker(time.Second)
	defer flush.Stop()

	pending := make([]entry, 0, batchSize)
	for {
		select {
		case e, ok := <-a.queue:
			if !ok {
				a.flush(pending)
				return
			}
			pending = append(pending, e)
			if len(pending) >= batchSize {
				a.flush(pending)
				pending = pending[:0]
			}
		case <-flush.C:
			if len(pending) > 0 {
				a.flush(pending)
				pending = pending[:0]
			}
		}
	}
}

func (a *Archiver) flush(pending []entry) {
	if len(pending) == 0 {
		return
	}
	batch := &pgx.Batch{}
	for _, e := range pending {
		m := e.message
		batch.Queue(insertMessage, m.ID, e.roomID, m.ChannelID, m.AuthorID, string(m.Type), m.Content, m.Timestamp)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.pool.SendBatch(ctx, batch).Close(); err != nil {
		logger.Error("archiver flush failed for %d messages: %v", len(pending), err)
	}
}

// Close drains the queue and releases the pool. Bounded by ctx.
func (a *Archiver) Close(ctx context.Context) {
	close(a.queue)
	select {
	case <-a.done:
	case <-ctx.Done():
		logger.Warn("archiver shutdown timed out with messages unflushed")
	}
	a.pool.Close()
}
