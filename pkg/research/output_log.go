package research

import (
	"iter"
	"sync"
	"time"

	"ai-research-be/internal/entity"
)

// OutputLog is the append-only terminal log of one session. Sequence numbers
// start at 1 and are gap-free.
//
// The observer runs inside the append critical section, so it sees entries in
// sequence order. It must not block and must not call back into the log.
type OutputLog struct {
	mu       sync.Mutex
	entries  []entity.OutputEntry
	observer func(entity.OutputEntry)
	now      func() time.Time
}

func NewOutputLog(observer func(entity.OutputEntry)) *OutputLog {
	return &OutputLog{
		observer: observer,
		now:      time.Now,
	}
}

// Append assigns the next sequence number to entry and stores it. Seq and a
// zero Timestamp are overwritten.
func (l *OutputLog) Append(entry entity.OutputEntry) entity.OutputEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Seq = uint64(len(l.entries)) + 1
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	l.entries = append(l.entries, entry)

	if l.observer != nil {
		l.observer(entry)
	}
	return entry
}

// ReadFrom yields the entries with a sequence number greater than from, in
// order. The range is fixed when iteration starts.
func (l *OutputLog) ReadFrom(from uint64) iter.Seq[entity.OutputEntry] {
	return func(yield func(entity.OutputEntry) bool) {
		l.mu.Lock()
		total := uint64(len(l.entries))
		l.mu.Unlock()

		for seq := from + 1; seq <= total; seq++ {
			l.mu.Lock()
			entry := l.entries[seq-1]
			l.mu.Unlock()
			if !yield(entry) {
				return
			}
		}
	}
}

// Entries returns a copy of the entries after from.
func (l *OutputLog) Entries(from uint64) []entity.OutputEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if from >= uint64(len(l.entries)) {
		return []entity.OutputEntry{}
	}
	out := make([]entity.OutputEntry, len(l.entries)-int(from))
	copy(out, l.entries[from:])
	return out
}

func (l *OutputLog) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.entries))
}
