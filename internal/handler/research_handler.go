package handler

import (
	"strconv"

	"ai-research-be/internal/dto"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/internal/pkg/serverutils"
	"ai-research-be/internal/service"
	internalWS "ai-research-be/internal/websocket"
	"ai-research-be/pkg/research"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// SessionLookup finds the output log of a live session.
type SessionLookup interface {
	Get(sessionID string) (*research.OutputLog, string, bool)
}

type ResearchHandler struct {
	hub          *internalWS.Hub
	catalog      *research.ModeCatalog
	sessions     SessionLookup
	subscription service.ISubscriptionService
	jwtSecret    string
	logger       logger.ILogger
}

func NewResearchHandler(hub *internalWS.Hub, catalog *research.ModeCatalog, sessions SessionLookup, subscription service.ISubscriptionService, jwtSecret string, log logger.ILogger) *ResearchHandler {
	return &ResearchHandler{
		hub:          hub,
		catalog:      catalog,
		sessions:     sessions,
		subscription: subscription,
		jwtSecret:    jwtSecret,
		logger:       log,
	}
}

// ServeWs authenticates the handshake and upgrades the connection.
func (h *ResearchHandler) ServeWs(c *fiber.Ctx) error {
	identity, err := serverutils.ParseIdentity(serverutils.TokenFromRequest(c), h.jwtSecret)
	if err != nil {
		h.logger.Warn("ResearchHandler", "Invalid Token in WS Handshake", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, err.Error()))
	}

	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(func(conn *websocket.Conn) {
			h.logger.Info("ResearchHandler", "Starting WebSocket session", map[string]interface{}{"user_id": identity.UserID})
			internalWS.ServeWs(h.hub, conn, identity)
			h.logger.Info("ResearchHandler", "WebSocket session ended", map[string]interface{}{"user_id": identity.UserID})
		})(c)
	}
	return fiber.ErrUpgradeRequired
}

// GetModes lists the deployment's modes and which ones the caller may use.
func (h *ResearchHandler) GetModes(c *fiber.Ctx) error {
	identity, ok := serverutils.IdentityFrom(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	sub, err := h.subscription.Resolve(c.UserContext(), identity)
	if err != nil {
		return err
	}

	res := dto.ModesResponse{
		Vocabulary: string(h.catalog.Vocabulary()),
		Default:    string(h.catalog.DefaultMode()),
		Tier:       string(sub.Tier),
	}
	for _, spec := range h.catalog.Modes() {
		res.Modes = append(res.Modes, dto.ModeResponse{
			Mode:            spec.Mode,
			Description:     spec.Description,
			RequiredFeature: spec.RequiredFeature,
			Continuous:      spec.Continuous,
			Allowed:         h.catalog.Allowed(sub, spec.Mode),
		})
	}
	return c.JSON(serverutils.SuccessResponse("Research modes", res))
}

// GetSessionOutput replays a live session's log after ?from=k.
func (h *ResearchHandler) GetSessionOutput(c *fiber.Ctx) error {
	identity, ok := serverutils.IdentityFrom(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	var from uint64
	if raw := c.Query("from"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return &research.ValidationError{Field: "from", Reason: "must be a non-negative integer"}
		}
		from = v
	}

	sessionID := c.Params("id")
	log, owner, found := h.sessions.Get(sessionID)
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(fiber.StatusNotFound, "Session not found"))
	}
	if owner != identity.UserID {
		return c.Status(fiber.StatusForbidden).JSON(serverutils.ErrorResponse(fiber.StatusForbidden, "Session belongs to another user"))
	}

	res := dto.SessionOutputResponse{SessionID: sessionID, Entries: []dto.OutputUpdateResponse{}}
	for e := range log.ReadFrom(from) {
		res.Entries = append(res.Entries, dto.ToOutputUpdate(sessionID, e))
		res.LastSeq = e.Seq
	}
	if res.LastSeq == 0 {
		res.LastSeq = log.LastSeq()
	}
	return c.JSON(serverutils.SuccessResponse("Session output", res))
}

// Broadcast sends an operator notice to every live session. Admin only.
func (h *ResearchHandler) Broadcast(c *fiber.Ctx) error {
	var req dto.BroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if err := h.hub.Broadcast(c.UserContext(), req.Message); err != nil {
		h.logger.Warn("ResearchHandler", "Cross-instance broadcast failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	return c.JSON(serverutils.SuccessResponse("Broadcast delivered", nil))
}

func (h *ResearchHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "ok",
		"vocabulary": h.catalog.Vocabulary(),
		"sessions":   h.hub.Count(),
	})
}

// RegisterRoutes registers the research routes.
func (h *ResearchHandler) RegisterRoutes(router fiber.Router) {
	auth := serverutils.JwtMiddleware(h.jwtSecret)

	r := router.Group("/research")
	r.Get("/ws", h.ServeWs)
	r.Get("/modes", auth, h.GetModes)
	r.Get("/sessions/:id/output", auth, h.GetSessionOutput)
	r.Post("/broadcast", auth, serverutils.AdminMiddleware(), h.Broadcast)
}

