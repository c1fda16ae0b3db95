package router

import (
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/config"
	"github.com/Gianluca27/turno-facil-sub000/internal/handler"
	"github.com/Gianluca27/turno-facil-sub000/internal/infra"
	"github.com/Gianluca27/turno-facil-sub000/internal/middleware"
	"github.com/Gianluca27/turno-facil-sub000/internal/repository"
	"github.com/Gianluca27/turno-facil-sub000/internal/service"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// Deps carries the infrastructure built in cmd/server. Optional collaborators
// are nil interfaces when their backing service is not configured.
type Deps struct {
	DB    *gorm.DB
	Redis *redis.Client
	Mongo *mongo.Client

	Locker         service.Locker
	Gateway        service.PaymentGateway
	GatewayBreaker *infra.CircuitBreaker
	Reconciler     service.RefundReconciler
	Appointments   service.AppointmentUpdater
}

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis/Mongo
func New(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.ErrorHandler())

	// ── Repositories ─────────────────────────────────────────────────────────
	catalogRepo := repository.NewCatalogRepository(d.DB)
	txRepo := repository.NewTransactionRepository(d.DB)
	cashRepo := repository.NewCashRegisterRepository(d.DB)
	outboxRepo := eventStore(cfg, d.DB)

	// ── Services ─────────────────────────────────────────────────────────────
	inventorySvc := service.NewInventoryService(catalogRepo)
	saleSvc := service.NewSaleService(txRepo, catalogRepo, cashRepo, inventorySvc, outboxRepo, d.Appointments)
	refundSvc := service.NewRefundService(txRepo, inventorySvc, outboxRepo, d.Gateway, d.Reconciler, d.Locker,
		service.RefundOptions{
			ConflictRetries: cfg.ConflictRetries,
			LockTTL:         time.Duration(cfg.SaleLockTTLSeconds) * time.Second,
		})
	cashSvc := service.NewCashRegisterService(cashRepo, txRepo, outboxRepo, cfg.ConflictRetries)
	reportSvc := service.NewReportService(txRepo)

	// ── Handlers ─────────────────────────────────────────────────────────────
	salesH := handler.NewSalesHandler(saleSvc, refundSvc)
	cashH := handler.NewCashRegisterHandler(cashSvc)
	reportsH := handler.NewReportsHandler(reportSvc)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(d.DB, d.Redis, d.Mongo, d.GatewayBreaker))

	// Protected routes. The limiter runs after JWTAuth so it can key on the business.
	allStaff := middleware.RequireRole(middleware.RoleOwner, middleware.RoleManager, middleware.RoleStaff)
	managers := middleware.RequireRole(middleware.RoleOwner, middleware.RoleManager)

	v1 := r.Group("/v1",
		middleware.JWTAuth(cfg.JWTSecret),
		middleware.RateLimiter(cfg.RateLimitPerMinute, time.Minute),
	)
	{
		sales := v1.Group("/sales")
		{
			sales.POST("", allStaff, salesH.CreateSale)
			sales.GET("", allStaff, salesH.ListSales)
			sales.GET("/:id", allStaff, salesH.GetSale)
			sales.POST("/:id/refunds", managers, salesH.RefundSale)
		}

		cash := v1.Group("/cash-register")
		{
			cash.POST("/open", allStaff, cashH.Open)
			cash.GET("/status", allStaff, cashH.Status)
			cash.GET("/history", managers, cashH.History)
			cash.GET("/:id", allStaff, cashH.Get)
			cash.POST("/:id/movements", allStaff, cashH.RecordMovement)
			cash.POST("/:id/close", managers, cashH.Close)
		}

		reports := v1.Group("/reports", managers)
		{
			reports.GET("/summary", reportsH.Summary)
			reports.GET("/daily", reportsH.Daily)
		}
	}

	// Swagger UI, only enabled outside production
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}

// eventStore is nil when no Kafka brokers are configured, since nothing would
// ever drain the outbox.
func eventStore(cfg *config.Config, db *gorm.DB) repository.OutboxRepository {
	if len(cfg.Brokers()) == 0 {
		log.Warn().Msg("router: no kafka brokers, outbox disabled")
		return nil
	}
	return repository.NewOutboxRepository(db)
}
