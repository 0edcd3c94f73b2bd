package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ai-research-be/internal/entity"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/pkg/events"

	"github.com/google/uuid"
)

const machineModule = "SessionMachine"

// Lifecycle event types published for usage tracking.
const (
	EventResearchStarted   = "RESEARCH_STARTED"
	EventResearchCompleted = "RESEARCH_COMPLETED"
	EventResearchFailed    = "RESEARCH_FAILED"
	EventResearchStopped   = "RESEARCH_STOPPED"
)

// Dispatcher runs one research turn. *Aggregator implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, q Query, producers []ResultProducer, out Appender) (*entity.ResearchResult, error)
}

// EventPublisher receives session lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// SessionRegistry tracks live sessions so their logs can be replayed outside
// the connection that owns them.
type SessionRegistry interface {
	Save(sessionID, owner string, log *OutputLog)
	Delete(sessionID string)
}

type MachineConfig struct {
	Owner       string
	Catalog     *ModeCatalog
	Dispatcher  Dispatcher
	CancelGrace time.Duration

	// OnEntry and OnStatus are called with internal locks held and must not
	// block.
	OnEntry  func(sessionID string, entry entity.OutputEntry)
	OnStatus func(session entity.Session)

	Registry SessionRegistry
	Events   EventPublisher
	Logger   logger.ILogger
}

// Machine owns the research session of one connection.
type Machine struct {
	cfg MachineConfig

	mu       sync.Mutex
	session  entity.Session
	log      *OutputLog
	running  bool
	stopping bool
	closed   bool
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

func NewMachine(cfg MachineConfig) *Machine {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = DefaultAggregatorConfig().CancelGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{cfg: cfg, baseCtx: ctx, baseCancel: cancel}
	m.newSession(cfg.Catalog.DefaultMode())
	return m
}

// newSession replaces the current session with a fresh idle one. Callers
// hold m.mu (or own m exclusively).
func (m *Machine) newSession(mode entity.ResearchMode) {
	if m.session.ID != "" && m.cfg.Registry != nil {
		m.cfg.Registry.Delete(m.session.ID)
	}

	id := uuid.Must(uuid.NewV7()).String()
	m.session = entity.Session{
		ID:     id,
		Mode:   mode,
		Status: entity.SessionStatusIdle,
	}
	onEntry := m.cfg.OnEntry
	m.log = NewOutputLog(func(e entity.OutputEntry) {
		if onEntry != nil {
			onEntry(id, e)
		}
	})
	if m.cfg.Registry != nil {
		m.cfg.Registry.Save(id, m.cfg.Owner, m.log)
	}
	m.emitStatus()
}

func (m *Machine) emitStatus() {
	if m.cfg.OnStatus != nil {
		m.cfg.OnStatus(m.snapshot())
	}
}

func (m *Machine) snapshot() entity.Session {
	s := m.session
	if m.log != nil {
		s.LastSeq = m.log.LastSeq()
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return s
}

func (m *Machine) Snapshot() entity.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// Log returns the current session's output log.
func (m *Machine) Log() *OutputLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log
}

// Replay returns the current session's entries after seq from.
func (m *Machine) Replay(from uint64) []entity.OutputEntry {
	return m.Log().Entries(from)
}

func (m *Machine) appendSystem(format string, args ...interface{}) {
	m.log.Append(entity.OutputEntry{Kind: entity.OutputKindSystem, Text: fmt.Sprintf(format, args...)})
}

// reject records a command error in the log and returns it.
func (m *Machine) reject(err error) error {
	m.log.Append(entity.OutputEntry{Kind: entity.OutputKindError, Text: err.Error()})
	return err
}

// Reject records the error of a command that never reached the machine, such
// as a malformed frame, and returns it.
func (m *Machine) Reject(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.reject(err)
	}
	return err
}

func (m *Machine) continuous() bool {
	spec, ok := m.cfg.Catalog.Spec(m.session.Mode)
	return ok && spec.Continuous
}

// SubmitQuery starts a research turn. An empty mode keeps the current one.
func (m *Machine) SubmitQuery(sub entity.SubscriptionContext, text string, mode entity.ResearchMode, useLocalModel bool) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return &SessionBusyError{Command: "submit a query", Status: "closed"}
	}

	query := strings.TrimSpace(text)
	if query == "" {
		defer m.mu.Unlock()
		return m.reject(&ValidationError{Field: "query", Reason: "must not be empty"})
	}

	if mode == "" {
		mode = m.session.Mode
	}
	spec, err := m.cfg.Catalog.Validate(sub, mode, useLocalModel)
	if err != nil {
		defer m.mu.Unlock()
		return m.reject(err)
	}

	if m.running || m.stopping {
		defer m.mu.Unlock()
		return m.reject(&SessionBusyError{Command: "submit a query", Status: m.session.Status})
	}

	nextTurn := m.session.Status == entity.SessionStatusActive && m.continuous()
	if nextTurn && mode != m.session.Mode {
		defer m.mu.Unlock()
		return m.reject(&SessionBusyError{Command: "change mode", Status: m.session.Status})
	}

	switch {
	case nextTurn:
		m.session.Turn++
	case m.session.Status == entity.SessionStatusCompleted || m.session.Status == entity.SessionStatusError:
		m.newSession(mode)
		m.session.Turn = 1
	default:
		m.session.Mode = mode
		m.session.Turn = 1
	}

	m.session.Query = query
	m.session.Status = entity.SessionStatusActive
	if !nextTurn {
		m.session.StartedAt = time.Now()
		m.session.EndedAt = nil
		m.session.Result = nil
	}

	m.log.Append(entity.OutputEntry{Kind: entity.OutputKindInput, Text: query})

	producers := m.cfg.Catalog.Producers(mode, useLocalModel)
	m.appendSystem("Researching in %s mode with %d sources", spec.Mode, len(producers))

	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})
	m.running = true
	m.cancel = cancel
	m.done = done

	q := Query{SessionID: m.session.ID, Turn: m.session.Turn, Text: query, Mode: mode}
	log := m.log
	m.emitStatus()
	m.mu.Unlock()

	m.cfg.Logger.Info(machineModule, "Query accepted", map[string]interface{}{
		"session_id": q.SessionID,
		"owner":      m.cfg.Owner,
		"mode":       string(mode),
		"turn":       q.Turn,
		"tier":       string(sub.Tier),
	})
	m.publish(EventResearchStarted, q, sub, nil)

	go func() {
		defer close(done)
		defer cancel()
		result, err := m.cfg.Dispatcher.Dispatch(ctx, q, producers, log)
		m.finish(gen, q, sub, result, err)
	}()
	return nil
}

func (m *Machine) finish(gen uint64, q Query, sub entity.SubscriptionContext, result *entity.ResearchResult, err error) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel = nil

	var eventType string
	if err != nil {
		now := time.Now()
		m.session.Status = entity.SessionStatusError
		m.session.EndedAt = &now
		m.reject(err)
		eventType = EventResearchFailed
	} else {
		m.session.Result = result
		m.log.Append(entity.OutputEntry{Kind: entity.OutputKindOutput, Text: result.Summary})
		if m.continuous() {
			m.appendSystem("Ready for the next query")
		} else {
			now := time.Now()
			m.session.Status = entity.SessionStatusCompleted
			m.session.EndedAt = &now
		}
		eventType = EventResearchCompleted
	}
	m.emitStatus()
	m.mu.Unlock()

	details := map[string]interface{}{"session_id": q.SessionID, "turn": q.Turn}
	if err != nil {
		details["error"] = err.Error()
		m.cfg.Logger.Warn(machineModule, "Research failed", details)
	} else {
		details["confidence"] = result.Confidence
		m.cfg.Logger.Info(machineModule, "Research completed", details)
	}

	var extra map[string]interface{}
	if err != nil {
		extra = map[string]interface{}{"error": err.Error(), "code": ErrorCode(err)}
	} else {
		extra = map[string]interface{}{"confidence": result.Confidence, "findings": len(result.Findings)}
	}
	m.publish(eventType, q, sub, extra)
}

// ChangeMode switches the mode of an idle session.
func (m *Machine) ChangeMode(sub entity.SubscriptionContext, mode entity.ResearchMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Status != entity.SessionStatusIdle || m.running || m.stopping {
		return m.reject(&SessionBusyError{Command: "change mode", Status: m.session.Status})
	}
	if _, err := m.cfg.Catalog.Validate(sub, mode, false); err != nil {
		return m.reject(err)
	}
	m.session.Mode = mode
	m.appendSystem("Mode changed to %s", mode)
	m.emitStatus()
	return nil
}

// Stop cancels the running turn (or ends a continuous session) and returns
// the session to idle. Entries already appended are kept.
func (m *Machine) Stop() error {
	m.mu.Lock()
	if m.session.Status != entity.SessionStatusActive || m.stopping {
		defer m.mu.Unlock()
		return m.reject(&SessionBusyError{Command: "stop", Status: m.session.Status})
	}
	m.stopping = true
	m.gen++
	cancel, done := m.cancel, m.done
	wasRunning := m.running
	q := Query{SessionID: m.session.ID, Turn: m.session.Turn, Text: m.session.Query, Mode: m.session.Mode}
	m.mu.Unlock()

	if wasRunning {
		cancel()
		m.await(done)
	}

	m.mu.Lock()
	m.stopping = false
	m.running = false
	m.cancel = nil
	m.session.Status = entity.SessionStatusIdle
	m.appendSystem("Research stopped")
	m.emitStatus()
	m.mu.Unlock()

	m.cfg.Logger.Info(machineModule, "Research stopped", map[string]interface{}{"session_id": q.SessionID})
	m.publish(EventResearchStopped, q, entity.SubscriptionContext{}, nil)
	return nil
}

// await waits for a cancelled dispatch to unwind. The aggregator bounds its
// own shutdown by the grace period, so the extra second only covers
// scheduling.
func (m *Machine) await(done <-chan struct{}) {
	if done == nil {
		return
	}
	timer := time.NewTimer(m.cfg.CancelGrace + time.Second)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.cfg.Logger.Warn(machineModule, "Dispatch did not unwind after cancellation", nil)
	}
}

// Reset discards the session and its log and starts a new idle one.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Status == entity.SessionStatusActive || m.running || m.stopping {
		return m.reject(&SessionBusyError{Command: "reset", Status: m.session.Status})
	}
	m.newSession(m.session.Mode)
	return nil
}

// Notice appends an operator message to the session log.
func (m *Machine) Notice(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.appendSystem("%s", text)
}

// Close is called on connection loss: in-flight work is cancelled and the
// session is discarded.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	done := m.done
	running := m.running
	if m.cfg.Registry != nil {
		m.cfg.Registry.Delete(m.session.ID)
	}
	m.mu.Unlock()

	m.baseCancel()
	if running {
		m.await(done)
	}
}

func (m *Machine) publish(eventType string, q Query, sub entity.SubscriptionContext, extra map[string]interface{}) {
	if m.cfg.Events == nil {
		return
	}
	data := map[string]interface{}{
		"session_id": q.SessionID,
		"user_id":    m.cfg.Owner,
		"mode":       string(q.Mode),
		"turn":       q.Turn,
	}
	if sub.Tier != "" {
		data["tier"] = string(sub.Tier)
	}
	for k, v := range extra {
		data[k] = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.cfg.Events.Publish(ctx, events.BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now()})
	if err != nil && !errors.Is(err, context.Canceled) {
		m.cfg.Logger.Warn(machineModule, "Failed to publish lifecycle event", map[string]interface{}{
			"type":  eventType,
			"error": err.Error(),
		})
	}
}
