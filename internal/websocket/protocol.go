package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ai-research-be/internal/dto"
	"ai-research-be/internal/entity"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/internal/pkg/serverutils"
	"ai-research-be/pkg/research"
)

const (
	protocolModule = "ResearchProtocol"
	resolveTimeout = 5 * time.Second
)

// SubscriptionResolver supplies the SubscriptionContext of a connection.
type SubscriptionResolver interface {
	Resolve(ctx context.Context, identity entity.Identity) (entity.SubscriptionContext, error)
}

// SessionDeps are the process-wide collaborators shared by every connection.
type SessionDeps struct {
	Catalog      *research.ModeCatalog
	Dispatcher   research.Dispatcher
	CancelGrace  time.Duration
	Subscription SubscriptionResolver
	Registry     research.SessionRegistry
	Events       research.EventPublisher
}

// Protocol translates between websocket frames and one research.Machine.
// Every inbound event maps to exactly one machine call.
type Protocol struct {
	identity entity.Identity
	deps     SessionDeps
	machine  *research.Machine
	send     func(frame []byte) bool
	logger   logger.ILogger

	subMu sync.RWMutex
	sub   entity.SubscriptionContext
}

// NewProtocol resolves the connection's subscription and starts an idle
// session. send must not block; it reports false when the frame was dropped.
func NewProtocol(ctx context.Context, deps SessionDeps, identity entity.Identity, send func([]byte) bool, log logger.ILogger) (*Protocol, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	sub, err := deps.Subscription.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}

	p := &Protocol{
		identity: identity,
		deps:     deps,
		send:     send,
		logger:   log,
		sub:      sub,
	}
	p.machine = research.NewMachine(research.MachineConfig{
		Owner:       identity.UserID,
		Catalog:     deps.Catalog,
		Dispatcher:  deps.Dispatcher,
		CancelGrace: deps.CancelGrace,
		OnEntry:     p.onEntry,
		OnStatus:    p.onStatus,
		Registry:    deps.Registry,
		Events:      deps.Events,
		Logger:      log,
	})
	return p, nil
}

func (p *Protocol) Machine() *research.Machine {
	return p.machine
}

func (p *Protocol) subscription() entity.SubscriptionContext {
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	return p.sub
}

// refreshSubscription re-resolves before commands that check features, so a
// plan change applies at the next session start or mode switch.
func (p *Protocol) refreshSubscription() entity.SubscriptionContext {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	sub, err := p.deps.Subscription.Resolve(ctx, p.identity)
	if err != nil {
		p.logger.Warn(protocolModule, "Subscription refresh failed, keeping previous context", map[string]interface{}{
			"user_id": p.identity.UserID,
			"error":   err.Error(),
		})
		return p.subscription()
	}
	p.subMu.Lock()
	p.sub = sub
	p.subMu.Unlock()
	return sub
}

// Handle processes one inbound frame. Command errors are reported to the
// peer as an error event and also returned.
func (p *Protocol) Handle(frame []byte) error {
	err := p.handle(frame)
	if err != nil {
		p.sendError(err)
	}
	return err
}

func (p *Protocol) handle(frame []byte) error {
	var env dto.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return p.machine.Reject(&research.ValidationError{Field: "frame", Reason: "malformed JSON"})
	}
	if err := serverutils.ValidateRequest(env); err != nil {
		return p.machine.Reject(err)
	}

	switch env.Type {
	case dto.EventResearchQuery:
		var req dto.ResearchQueryRequest
		if err := p.decodeData(env.Data, &req); err != nil {
			return err
		}
		sub := p.refreshSubscription()
		return p.machine.SubmitQuery(sub, req.Query, entity.ResearchMode(req.Mode), req.UseLocalModel)

	case dto.EventModeChange:
		var req dto.ModeChangeRequest
		if err := p.decodeData(env.Data, &req); err != nil {
			return err
		}
		sub := p.refreshSubscription()
		return p.machine.ChangeMode(sub, entity.ResearchMode(req.Mode))

	case dto.EventStop:
		return p.machine.Stop()

	case dto.EventReset:
		return p.machine.Reset()

	case dto.EventResume:
		var req dto.ResumeRequest
		if err := p.decodeData(env.Data, &req); err != nil {
			return err
		}
		p.Resume(req.FromSequence)
		return nil

	case dto.EventPing:
		var req dto.PingRequest
		if err := p.decodeData(env.Data, &req); err != nil {
			return err
		}
		if req.Timestamp == 0 {
			req.Timestamp = time.Now().UnixMilli()
		}
		p.emit(dto.EventPong, dto.PongResponse{Timestamp: req.Timestamp})
		return nil

	default:
		return p.machine.Reject(&research.ValidationError{Field: "type", Reason: "unknown event type " + env.Type})
	}
}

// Resume re-sends every entry of the current session after seq from, then
// the session status.
func (p *Protocol) Resume(from uint64) {
	session := p.machine.Snapshot()
	for _, e := range p.machine.Replay(from) {
		p.emit(dto.EventOutputUpdate, dto.ToOutputUpdate(session.ID, e))
	}
	p.onStatus(session)
}

// Close discards the session. Called on connection loss.
func (p *Protocol) Close() {
	p.machine.Close()
}

// decodeData unmarshals and validates a payload. Failures are recorded in
// the session log like any other rejected command.
func (p *Protocol) decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, v); err != nil {
			return p.machine.Reject(&research.ValidationError{Field: "data", Reason: "malformed payload"})
		}
	}
	if err := serverutils.ValidateRequest(v); err != nil {
		return p.machine.Reject(err)
	}
	return nil
}

func (p *Protocol) onEntry(sessionID string, e entity.OutputEntry) {
	p.emit(dto.EventOutputUpdate, dto.ToOutputUpdate(sessionID, e))
}

func (p *Protocol) onStatus(s entity.Session) {
	p.emit(dto.EventSessionStatus, dto.SessionStatusResponse{
		Authenticated: true,
		Identity:      &dto.IdentityResponse{UserID: p.identity.UserID, Email: p.identity.Email},
		SessionID:     s.ID,
		Status:        s.Status,
		Mode:          s.Mode,
		Tier:          p.subscription().Tier,
		Turn:          s.Turn,
		LastSequence:  s.LastSeq,
		Result:        s.Result,
	})
}

func (p *Protocol) sendError(err error) {
	p.emit(dto.EventError, dto.ErrorResponse{Message: err.Error(), Code: research.ErrorCode(err)})
}

func (p *Protocol) emit(eventType string, data interface{}) {
	frame, err := EncodeFrame(eventType, data)
	if err != nil {
		p.logger.Error(protocolModule, "Failed to encode frame", map[string]interface{}{"type": eventType, "error": err.Error()})
		return
	}
	if !p.send(frame) {
		p.logger.Warn(protocolModule, "Send buffer full, frame dropped", map[string]interface{}{
			"user_id": p.identity.UserID,
			"type":    eventType,
		})
	}
}

// EncodeFrame builds the {"type","data"} envelope.
func EncodeFrame(eventType string, data interface{}) ([]byte, error) {
	return json.Marshal(struct {
		Type string      `json:"type"`
		Data interface{} `json:"data"`
	}{Type: eventType, Data: data})
}
