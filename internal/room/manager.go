package room

import (
	"sync"
	"time"

	"collab-app/pkg/logger"
)

// Manager owns the room registry. Rooms are created lazily on first
// attachment and garbage-collected once they have been empty for the grace
// period.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	opts        Options
	gracePeriod time.Duration
	sink        MessageSink
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewManager(opts Options, gracePeriod time.Duration, sink MessageSink) *Manager {
	if gracePeriod <= 0 {
		gracePeriod = time.Minute
	}
	m := &Manager{
		rooms:       make(map[string]*Room),
		opts:        opts,
		gracePeriod: gracePeriod,
		sink:        sink,
		stop:        make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Attach resolves (or lazily creates) the room and queues the session's
// attachment. The returned room is retained for the subscriber; Detach must
// be called exactly once to release it.
func (m *Manager) Attach(roomID string, sub Subscriber) *Room {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok || r.closed.Load() {
		r = New(roomID, m.opts, m.sink)
		m.rooms[roomID] = r
		go r.Run()
		logger.Debug("created room %s", roomID)
	}
	r.retain()
	m.mu.Unlock()

	// The retain above guarantees the janitor cannot close the room before
	// this lands in the worker queue.
	if err := r.enqueue(task{kind: taskAttach, sub: sub}); err != nil {
		logger.Error("attach to room %s: %v", roomID, err)
	}
	return r
}

func (m *Manager) Detach(r *Room, sub Subscriber) {
	if err := r.enqueue(task{kind: taskDetach, sub: sub}); err != nil && err != ErrRoomClosed {
		logger.Error("detach from room %s: %v", r.ID(), err)
	}
	r.release()
}

func (m *Manager) janitor() {
	interval := m.gracePeriod / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Manager) collect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rooms {
		count, emptySince := r.idleSince()
		if count == 0 && time.Since(emptySince) > m.gracePeriod {
			r.close()
			delete(m.rooms, id)
			logger.Debug("garbage-collected room %s", id)
		}
	}
}

// Close shuts down the janitor and every room.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rooms {
		r.close()
		delete(m.rooms, id)
	}
}
