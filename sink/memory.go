package sink

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/touka-aoi/clipsock/core/buffer"
)

type Entry struct {
	Data []byte
	At   time.Time
}

// Memory keeps the most recent payloads, oldest first.
type Memory struct {
	mu    sync.Mutex
	q     *queue.Queue
	limit int
}

func NewMemory(limit int) *Memory {
	if limit < 1 {
		limit = 1
	}
	return &Memory{q: queue.New(), limit: limit}
}

func (m *Memory) Publish(h *buffer.Handle) error {
	data, err := take(h)
	if err != nil {
		return err
	}
	m.Record(data)
	return nil
}

// Record appends data, evicting the oldest entry once the limit is reached.
func (m *Memory) Record(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.q.Length() >= m.limit {
		m.q.Remove()
	}
	m.q.Add(Entry{Data: data, At: time.Now()})
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}

func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, m.q.Length())
	for i := 0; i < m.q.Length(); i++ {
		out = append(out, m.q.Get(i).(Entry))
	}
	return out
}

// Last returns the newest entry.
func (m *Memory) Last() (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.q.Length() == 0 {
		return Entry{}, false
	}
	return m.q.Get(-1).(Entry), true
}
