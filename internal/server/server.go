package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/settlement/internal/config"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
	"github.com/smallbiznis/settlement/internal/observability"
	obsmiddleware "github.com/smallbiznis/settlement/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	obstracing "github.com/smallbiznis/settlement/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	organizationdomain "github.com/smallbiznis/settlement/internal/organization/domain"
	pricingdomain "github.com/smallbiznis/settlement/internal/pricing/domain"
	"github.com/smallbiznis/settlement/internal/ratelimit"
	settlementdomain "github.com/smallbiznis/settlement/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultHTTPAddr = ":8080"

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterAPIRoutes()
		s.RegisterWebhookRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = defaultHTTPAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine             *gin.Engine
	cfg                config.Config
	log                *zap.Logger
	orderSvc           orderdomain.Service
	settlementSvc      settlementdomain.Service
	creditSvc          creditdomain.Service
	costs              pricingdomain.Costs
	organizationSvc    organizationdomain.Service
	reservationLimiter *ratelimit.ReservationLimiter
	metrics            *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin                *gin.Engine
	Cfg                config.Config
	Log                *zap.Logger
	OrderSvc           orderdomain.Service
	SettlementSvc      settlementdomain.Service
	CreditSvc          creditdomain.Service
	Costs              pricingdomain.Costs
	OrganizationSvc    organizationdomain.Service
	ReservationLimiter *ratelimit.ReservationLimiter `optional:"true"`
	Metrics            *obsmetrics.Metrics           `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:             p.Gin,
		cfg:                p.Cfg,
		log:                p.Log.Named("http.server"),
		orderSvc:           p.OrderSvc,
		settlementSvc:      p.SettlementSvc,
		creditSvc:          p.CreditSvc,
		costs:              p.Costs,
		organizationSvc:    p.OrganizationSvc,
		reservationLimiter: p.ReservationLimiter,
		metrics:            p.Metrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/organizations", s.CreateOrganization)

	// The payer's browser lands here, so it carries no org header.
	api.GET("/payments/return/:provider", s.HandlePaymentReturn)
	api.POST("/payments/return/:provider", s.HandlePaymentReturn)

	scoped := api.Group("", OrgContext())

	scoped.GET("/organization", s.GetOrganization)

	// -------- Orders --------
	scoped.POST("/orders", s.CreateOrder)
	scoped.GET("/orders", s.ListOrders)
	scoped.GET("/orders/:id", s.GetOrder)
	scoped.GET("/orders/:id/invoice", s.GetOrderInvoice)
	scoped.POST("/orders/:id/checkout", s.CreateCheckout)
	scoped.POST("/orders/:id/confirm", s.ConfirmFreeOrder)
	scoped.POST("/orders/:id/cancel", s.CancelOrder)
	scoped.POST("/orders/:id/complete", s.CompleteOrder)
	scoped.GET("/orders/:id/payments", s.ListOrderPayments)

	// -------- Refunds --------
	scoped.GET("/orders/:id/refunds", s.ListOrderRefunds)
	scoped.POST("/orders/:id/refunds", s.RequestRefund)
	scoped.POST("/refunds/:id/approve", s.ApproveRefund)
	scoped.POST("/refunds/:id/process", s.ProcessRefund)
	scoped.POST("/refunds/:id/complete", s.CompleteRefund)
	scoped.POST("/refunds/:id/reject", s.RejectRefund)

	// -------- Credits --------
	scoped.GET("/credits/balance", s.GetCreditBalance)
	scoped.GET("/credits/transactions", s.ListCreditTransactions)
	scoped.GET("/credits/costs", s.ListCreditCosts)
	scoped.POST("/credits/reservations", s.ReservationRateLimit(), s.ReserveCredits)
	scoped.POST("/credits/reservations/:id/confirm", s.ConfirmReservation)
	scoped.POST("/credits/reservations/:id/release", s.ReleaseReservation)
}

func (s *Server) RegisterWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}
