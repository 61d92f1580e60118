package api

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/intentx-hq/intentd/pkg/engine"
	"github.com/intentx-hq/intentd/pkg/logger"
	"github.com/intentx-hq/intentd/pkg/signing"
	"github.com/intentx-hq/intentd/pkg/store"
)

// Server exposes the intent lifecycle over HTTP.
type Server struct {
	app      *fiber.App
	engine   *engine.Engine
	validate *validator.Validate
	logger   logger.Logger
	port     int
}

// createIntentRequest is the POST /intents body. The signature covers the
// swap fields plus the timestamp, so replaying the body verbatim yields the
// same signer but a fresh intent id.
type createIntentRequest struct {
	SourceToken     string `json:"sourceToken" validate:"required"`
	TargetToken     string `json:"targetToken" validate:"required"`
	SourceAmount    string `json:"sourceAmount" validate:"required"`
	MinTargetAmount string `json:"minTargetAmount" validate:"required"`
	SlippageBps     int64  `json:"slippageBps" validate:"gte=0,lte=10000"`
	UserAddress     string `json:"userAddress" validate:"required"`
	Signature       string `json:"signature" validate:"required"`
	Timestamp       int64  `json:"timestamp" validate:"required"`
}

// cancelIntentRequest is the POST /intents/:id/cancel body.
type cancelIntentRequest struct {
	UserAddress string `json:"userAddress" validate:"required"`
}

// NewServer creates the API server on the given port.
func NewServer(eng *engine.Engine, port int, log logger.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Add middleware
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))

	if log == nil {
		log = &logger.EmptyLogger{}
	}

	server := &Server{
		app:      app,
		engine:   eng,
		validate: validator.New(),
		logger:   log,
		port:     port,
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.app.Post("/intents", s.handleCreateIntent)
	s.app.Get("/intents-pending", s.handleListPending)
	s.app.Get("/intents/:userAddress", s.handleListByUser)
	s.app.Get("/intent/:id", s.handleGetIntent)
	s.app.Post("/intents/:id/cancel", s.handleCancelIntent)
	s.app.Post("/intents/:id/execute", s.handleExecuteIntent)
	s.app.Get("/analytics", s.handleAnalytics)

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})
}

// Start runs the listener. Blocks until shutdown.
func (s *Server) Start() error {
	return s.app.Listen(fmt.Sprintf(":%d", s.port))
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleCreateIntent(c *fiber.Ctx) error {
	var req createIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	intent, err := s.engine.Admit(c.Context(), engine.AdmitRequest{
		SourceToken:     req.SourceToken,
		TargetToken:     req.TargetToken,
		SourceAmount:    req.SourceAmount,
		MinTargetAmount: req.MinTargetAmount,
		SlippageBps:     req.SlippageBps,
		UserAddress:     req.UserAddress,
		Signature:       req.Signature,
		Timestamp:       req.Timestamp,
	})
	if err != nil {
		return s.mapEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(intent)
}

func (s *Server) handleListByUser(c *fiber.Ctx) error {
	intents, err := s.engine.ListByUser(c.Context(), c.Params("userAddress"))
	if err != nil {
		return s.mapEngineError(c, err)
	}
	return c.JSON(intents)
}

func (s *Server) handleGetIntent(c *fiber.Ctx) error {
	intent, err := s.engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return s.mapEngineError(c, err)
	}
	return c.JSON(intent)
}

func (s *Server) handleCancelIntent(c *fiber.Ctx) error {
	var req cancelIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	intent, err := s.engine.Cancel(c.Context(), c.Params("id"), req.UserAddress)
	if err != nil {
		return s.mapEngineError(c, err)
	}
	return c.JSON(intent)
}

// handleExecuteIntent triggers a single execution attempt outside the
// scheduler's sweep. The attempt goes through the same claim-and-transition
// path, so racing the scheduler is safe.
func (s *Server) handleExecuteIntent(c *fiber.Ctx) error {
	id := c.Params("id")
	outcome, err := s.engine.AttemptExecution(c.Context(), id)
	if err != nil {
		return s.mapEngineError(c, err)
	}
	if outcome == engine.OutcomeAlreadyHandled {
		return errorResponse(c, fiber.StatusBadRequest, "intent is not pending")
	}
	intent, err := s.engine.Get(c.Context(), id)
	if err != nil {
		return s.mapEngineError(c, err)
	}
	return c.JSON(intent)
}

func (s *Server) handleListPending(c *fiber.Ctx) error {
	intents, err := s.engine.ListPending(c.Context())
	if err != nil {
		return s.mapEngineError(c, err)
	}
	return c.JSON(intents)
}

func (s *Server) handleAnalytics(c *fiber.Ctx) error {
	stats, err := s.engine.Analytics(c.Context(), c.Query("userAddress"))
	if err != nil {
		return s.mapEngineError(c, err)
	}
	return c.JSON(stats)
}

// mapEngineError translates engine and store errors into HTTP statuses.
func (s *Server) mapEngineError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, engine.ErrValidation), errors.Is(err, signing.ErrInvalidSignature),
		errors.Is(err, engine.ErrNotCancellable):
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrSignatureMismatch), errors.Is(err, engine.ErrForbidden):
		return errorResponse(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return errorResponse(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateID):
		return errorResponse(c, fiber.StatusConflict, err.Error())
	default:
		s.logger.ErrorWithScope(logger.API, "Internal error: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func errorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}
