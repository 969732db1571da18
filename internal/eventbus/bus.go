package eventbus

import (
	"sync"
	"time"
)

// Event types published by the service.
const (
	NetworkRefreshed  = "network.refreshed" // Data: telemetry.Snapshot
	RefreshFailed     = "network.refresh_failed"
	DevicesScanned    = "devices.scanned"    // Data: []telemetry.Device
	SpeedtestStarted  = "speedtest.started"  // Data: speedtest.Status
	SpeedtestProgress = "speedtest.progress" // Data: speedtest.Status
	SpeedtestFinished = "speedtest.finished" // Data: *speedtest.Result
	SpeedtestFailed   = "speedtest.failed"   // Data: error string
	SpeedtestRejected = "speedtest.rejected"
	HistoryCleared    = "history.cleared"
)

// Event is a small in-memory signal used to decouple components.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a slow subscriber drops events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock; unsubscribe takes the write lock before closing,
	// so a send never hits a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
