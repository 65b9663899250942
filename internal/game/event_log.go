package game

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	EventBufferSize       = 1024                   // Ring buffer size
	BatchFlushSize        = 64                     // Events per batch write
	BatchFlushInterval    = 100 * time.Millisecond // How often to flush
	WielderLimiterCleanup = 5 * time.Minute        // Cleanup interval for wielder limiters
)

// EventLogConfig sets the event log's rate limits.
type EventLogConfig struct {
	MaxEventsPerSec     int
	MaxEventsPerWielder int
}

// DefaultEventLogConfig returns production-safe limits.
func DefaultEventLogConfig() EventLogConfig {
	return EventLogConfig{
		MaxEventsPerSec:     10_000,
		MaxEventsPerWielder: 100,
	}
}

// EventLog keeps a bounded ring of recent events and, once started with a
// path, appends them to disk as newline-delimited JSON.
type EventLog struct {
	cfg EventLogConfig

	mu       sync.Mutex
	buffer   [EventBufferSize]Event
	written  uint64 // total events ever written to the ring
	flushed  uint64 // events handed to the writer
	sequence uint64

	// Rate limiting for DoS protection
	globalLimiter   *rate.Limiter
	limiterMu       sync.Mutex
	wielderLimiters map[string]*wielderLimiterEntry

	// Async writer
	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	file     *os.File

	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
}

type wielderLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewEventLog creates a bounded event log. Events are accepted into the ring
// immediately; Start adds the disk writer.
func NewEventLog(cfg EventLogConfig) *EventLog {
	if cfg.MaxEventsPerSec <= 0 {
		cfg.MaxEventsPerSec = DefaultEventLogConfig().MaxEventsPerSec
	}
	if cfg.MaxEventsPerWielder <= 0 {
		cfg.MaxEventsPerWielder = DefaultEventLogConfig().MaxEventsPerWielder
	}
	return &EventLog{
		cfg:             cfg,
		globalLimiter:   rate.NewLimiter(rate.Limit(cfg.MaxEventsPerSec), max(1, cfg.MaxEventsPerSec/10)),
		wielderLimiters: make(map[string]*wielderLimiterEntry),
		stopChan:        make(chan struct{}),
	}
}

// Start opens filePath for append and begins the writer goroutines. An
// empty path keeps events in memory only.
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}

	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		el.file = file
	}

	el.running.Store(true)
	el.writerWg.Add(2)
	go el.writerLoop()
	go el.cleanupLoop()

	return nil
}

// Stop flushes pending events and closes the file.
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		if !el.running.Load() {
			return
		}
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()

		if el.file != nil {
			el.file.Close()
		}
	})
}

// Emit adds an event. It returns false if the event was rate limited.
func (el *EventLog) Emit(event Event) bool {
	if !el.globalLimiter.Allow() {
		el.droppedCount.Add(1)
		return false
	}
	if event.WielderID != "" && !el.wielderLimiter(event.WielderID).Allow() {
		el.droppedCount.Add(1)
		return false
	}

	el.mu.Lock()
	el.sequence++
	event.Sequence = el.sequence
	el.buffer[el.written%EventBufferSize] = event
	el.written++
	// Unflushed events older than the ring are lost.
	if el.written-el.flushed > EventBufferSize {
		el.flushed = el.written - EventBufferSize
		if el.running.Load() {
			el.droppedCount.Add(1)
		}
	}
	el.mu.Unlock()

	el.totalCount.Add(1)
	return true
}

// EmitSimple is a convenience method to emit an event with automatic creation
func (el *EventLog) EmitSimple(eventType EventType, frame uint64, wielderID string, payload interface{}) bool {
	return el.Emit(NewEvent(eventType, frame, wielderID, payload))
}

// Recent returns up to n of the newest events, oldest first.
func (el *EventLog) Recent(n int) []Event {
	el.mu.Lock()
	defer el.mu.Unlock()

	avail := min(el.written, EventBufferSize)
	if n <= 0 || uint64(n) > avail {
		n = int(avail)
	}
	out := make([]Event, 0, n)
	for i := el.written - uint64(n); i < el.written; i++ {
		out = append(out, el.buffer[i%EventBufferSize])
	}
	return out
}

func (el *EventLog) wielderLimiter(wielderID string) *rate.Limiter {
	el.limiterMu.Lock()
	defer el.limiterMu.Unlock()

	if entry, ok := el.wielderLimiters[wielderID]; ok {
		entry.lastUsed = time.Now()
		return entry.limiter
	}
	per := el.cfg.MaxEventsPerWielder
	entry := &wielderLimiterEntry{
		limiter:  rate.NewLimiter(rate.Limit(per), max(1, per/10)),
		lastUsed: time.Now(),
	}
	el.wielderLimiters[wielderID] = entry
	return entry.limiter
}

// writerLoop batches and writes events to disk asynchronously
func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)
	for {
		select {
		case <-el.stopChan:
			for {
				batch = el.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				el.flushBatch(batch)
			}
		case <-ticker.C:
			batch = el.collectBatch(batch[:0])
			if len(batch) > 0 {
				el.flushBatch(batch)
			}
		}
	}
}

// cleanupLoop removes stale wielder limiters to prevent memory leak
func (el *EventLog) cleanupLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(WielderLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			el.cleanupWielderLimiters(time.Now().Add(-WielderLimiterCleanup))
		}
	}
}

func (el *EventLog) cleanupWielderLimiters(cutoff time.Time) {
	el.limiterMu.Lock()
	defer el.limiterMu.Unlock()

	for id, entry := range el.wielderLimiters {
		if entry.lastUsed.Before(cutoff) {
			delete(el.wielderLimiters, id)
		}
	}
}

// collectBatch copies unflushed events out of the ring.
func (el *EventLog) collectBatch(batch []Event) []Event {
	el.mu.Lock()
	defer el.mu.Unlock()

	for el.flushed < el.written && len(batch) < BatchFlushSize {
		batch = append(batch, el.buffer[el.flushed%EventBufferSize])
		el.flushed++
	}
	return batch
}

// flushBatch writes events to disk (append-only, newline-delimited JSON)
func (el *EventLog) flushBatch(batch []Event) {
	if el.file == nil {
		return
	}

	w := bufio.NewWriter(el.file)
	enc := json.NewEncoder(w)
	for _, event := range batch {
		if err := enc.Encode(event); err != nil {
			continue
		}
	}
	w.Flush()
}

// GetStats returns metrics for DoS monitoring
func (el *EventLog) GetStats() map[string]interface{} {
	el.mu.Lock()
	pending := el.written - el.flushed
	el.mu.Unlock()

	return map[string]interface{}{
		"total":   el.totalCount.Load(),
		"dropped": el.droppedCount.Load(),
		"pending": pending,
		"running": el.running.Load(),
	}
}
