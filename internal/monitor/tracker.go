package monitor

import (
	"sync"
	"time"

	"github.com/audiolibrelab/fluidcycle/internal/playback"
)

// EventType identifies what changed in a Snapshot
type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventFinish   EventType = "finish"
	// EventSnapshot is the first event of a stream, not a change
	EventSnapshot EventType = "snapshot"
)

// Snapshot is the observable state of the current or last run
type Snapshot struct {
	Status    playback.Status  `json:"status"`
	Tick      int              `json:"tick"`
	Elapsed   float64          `json:"elapsed_s"`
	Total     float64          `json:"total_s"`
	Percent   float64          `json:"percent"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	Result    *playback.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Event is sent to subscribers on every change
type Event struct {
	Type     EventType `json:"type"`
	Snapshot Snapshot  `json:"snapshot"`
}

// Tracker records playback events for status queries and live streaming. It
// implements playback.Observer.
type Tracker struct {
	mu     sync.RWMutex
	snap   Snapshot
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		snap: Snapshot{Status: playback.StatusIdle},
		subs: make(map[int]chan Event),
		now:  time.Now,
	}
}

// Reset clears the previous run before a new one starts
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{Status: playback.StatusIdle}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Subscribe returns a channel of events and a function to cancel the
// subscription. Events are dropped for subscribers that fall behind.
func (t *Tracker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

func (t *Tracker) OnStatus(status playback.Status) {
	t.update(EventStatus, func(s *Snapshot) {
		s.Status = status
		if status == playback.StatusInitializing {
			started := t.now()
			s.StartedAt = &started
		}
	})
}

func (t *Tracker) OnProgress(p playback.Progress) {
	t.update(EventProgress, func(s *Snapshot) {
		s.Tick = p.Tick
		s.Elapsed = p.Elapsed.Seconds()
		s.Total = p.Total.Seconds()
		s.Percent = p.Percent()
	})
}

func (t *Tracker) OnFinish(res playback.Result, err error) {
	t.update(EventFinish, func(s *Snapshot) {
		s.Result = &res
		s.Elapsed = res.Elapsed.Seconds()
		if err != nil {
			s.Error = err.Error()
		} else {
			s.Percent = 100
		}
	})
}

func (t *Tracker) update(kind EventType, apply func(s *Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	apply(&t.snap)
	event := Event{Type: kind, Snapshot: t.snap}
	for _, ch := range t.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
