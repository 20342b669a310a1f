package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"posed/internal/config"
	"posed/internal/domain"
	"posed/internal/usecase"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine
	log *zap.Logger

	verifyUC *usecase.VerifyReceipt
	guard    *usecase.ReplayGuard

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Verify      *usecase.VerifyReceipt
	Guard       *usecase.ReplayGuard
	RateLimiter domain.RateLimiter
	Logger      *zap.Logger
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		cfg:                 cfg,
		r:                   r,
		log:                 log,
		verifyUC:            deps.Verify,
		guard:               deps.Guard,
		rateLimiter:         deps.RateLimiter,
		rateLimitRequests:   cfg.RateLimitRequests,
		rateLimitWindow:     cfg.RateLimitWindow(),
		rateLimitFailClosed: cfg.RateLimitFailClosed,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)

	v1 := s.r.Group("/v1")
	v1.POST("/receipts/verify", s.handleVerifyReceipt)
	v1.POST("/envelopes/validate", s.handleValidateEnvelope)
	v1.POST("/envelopes/accept", s.handleAcceptEnvelope)
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() *gin.Engine {
	return s.r
}
