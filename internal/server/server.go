package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"proupgrade-backend/internal/config"
	"proupgrade-backend/internal/domain"
	"proupgrade-backend/internal/infrastructure/webhook"
	"proupgrade-backend/internal/usecase"
)

const (
	maxWebhookBody  = 1 << 20
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestId"
)

// TransactionWriter persists inbound transfers before they are matched.
type TransactionWriter interface {
	Insert(ctx context.Context, tx *domain.Transaction) error
}

type Server struct {
	cfg      config.Config
	orders   *usecase.OrderService
	engine   *usecase.ReconcileService
	txlog    TransactionWriter
	verifier webhook.Verifier
	router   *gin.Engine
	log      *slog.Logger
	loc      *time.Location
}

func New(cfg config.Config, orders *usecase.OrderService, engine *usecase.ReconcileService, txlog TransactionWriter, verifier webhook.Verifier) *Server {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	if verifier == nil {
		verifier = webhook.Noop{}
	}
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	s := &Server{
		cfg:      cfg,
		orders:   orders,
		engine:   engine,
		txlog:    txlog,
		verifier: verifier,
		router:   gin.New(),
		log:      slog.Default().With("component", "http"),
		loc:      loc,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.requestID(), s.recover(), s.accessLog(), s.cors())

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api/payment")
	{
		api.POST("/create", s.handleCreateOrder)
		api.POST("/request-upgrade", s.handleRequestUpgrade)
		api.GET("/status/:code", s.handleStatus)
		api.POST("/webhook", s.handleWebhook)
	}
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) recover() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		s.log.Error("panic recovered in handler", "panic", rec, "path", c.Request.URL.Path, "request_id", c.GetString(requestIDKey))
		s.err(c, http.StatusInternalServerError, "ServerError", "internal error")
	})
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.GetString(requestIDKey),
		)
	}
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type createOrderReq struct {
	Emails []string `json:"emails" binding:"required,min=1"`
	PlanID string   `json:"planId" binding:"required"`
	Amount int64    `json:"amount" binding:"required,gt=0"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Invalid order data")
		return
	}
	o, err := s.orders.Create(c.Request.Context(), req.Emails, req.PlanID, req.Amount)
	if err != nil {
		s.serviceErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

type upgradeReq struct {
	Emails      []string `json:"emails" binding:"required,min=1"`
	PlanID      string   `json:"planId" binding:"required"`
	ContactInfo string   `json:"contactInfo" binding:"required"`
	Amount      int64    `json:"amount" binding:"required,gt=0"`
}

func (s *Server) handleRequestUpgrade(c *gin.Context) {
	var req upgradeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Invalid request data")
		return
	}
	o, err := s.orders.CreateUpgradeRequest(c.Request.Context(), req.Emails, req.PlanID, req.ContactInfo, req.Amount)
	if err != nil {
		s.serviceErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (s *Server) handleStatus(c *gin.Context) {
	code := c.Param("code")
	o, err := s.engine.Reconcile(c.Request.Context(), code)
	if err != nil {
		s.serviceErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": o.Code, "status": o.Status})
}

// handleWebhook logs the transfer first and matches it second. A match
// failure is not an error for the sender; only failing to persist is.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "cannot read body")
		return
	}
	if err := s.verifier.Verify(c.Request, body); err != nil {
		s.log.Warn("webhook rejected", "error", err, "request_id", c.GetString(requestIDKey))
		s.err(c, http.StatusUnauthorized, "Unauthorized", "webhook not authorized")
		return
	}
	p, err := webhook.Decode(body)
	if err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "invalid json")
		return
	}

	tx := p.Transaction(body, s.loc)
	if err := s.txlog.Insert(c.Request.Context(), tx); err != nil {
		s.log.Error("persist webhook transaction failed", "error", err, "request_id", c.GetString(requestIDKey))
		s.err(c, http.StatusInternalServerError, "ServerError", "Failed to save transaction")
		return
	}

	matched := s.engine.HandleTransaction(c.Request.Context(), *tx)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"matched": matched,
		"message": "Transaction logged",
	})
}

func (s *Server) serviceErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		s.err(c, http.StatusBadRequest, "BadRequest", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		s.err(c, http.StatusNotFound, "NotFound", "Order not found")
	default:
		s.log.Error("request failed", "error", err, "request_id", c.GetString(requestIDKey))
		s.err(c, http.StatusInternalServerError, "ServerError", "internal error")
	}
}

func (s *Server) err(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":      code,
			"message":   msg,
			"requestId": c.GetString(requestIDKey),
		},
	})
}
