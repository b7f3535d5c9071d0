package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"broker_backend_project/config"
	"broker_backend_project/models"
	"broker_backend_project/routes"
	"broker_backend_project/scheduler"
	"broker_backend_project/services"
	"broker_backend_project/services/broker"

	"github.com/gin-gonic/gin"
)

// appInitialized tracks whether the backing stores have been connected.
// Guarded for concurrent access so the /ready endpoint can report status
// while initialization is still running in the background.
var appInitialized bool
var appInitMutex sync.RWMutex

func main() {
	log.Println("==============================================")
	log.Println("  Broker Session Backend - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Setup health check endpoints FIRST so the platform can detect the
	// service is up. Backing stores are initialized in background.
	setupHealthEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server immediately so the health probe succeeds while the rest
	// of the stack comes up
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize backing stores and setup routes in background
	var jobScheduler *scheduler.Scheduler
	var coordinator *services.ReloginCoordinator
	var hub *services.NotifyHub
	var journal *services.AuditJournal
	var reports *services.SweepReportStore

	go func() {
		// Database connection and migrations
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		log.Println("Running database migrations...")
		if err := models.MigrateUserModels(db); err != nil {
			log.Printf("ERROR: User migration failed: %v", err)
		}
		if err := models.MigrateBrokerModels(db); err != nil {
			log.Printf("ERROR: Broker account migration failed: %v", err)
		}

		// Redis backs the session store and the relogin dedup records
		redisClient, err := services.ConnectRedis(cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			log.Printf("ERROR: Redis connection failed: %v", err)
			return
		}
		cache := services.NewRedisCacheStore(redisClient)

		// Audit journal is best-effort; a broken local file must not block
		// startup
		journal, err = services.OpenAuditJournal(cfg.AuditDBPath)
		if err != nil {
			log.Printf("Warning: Audit journal unavailable: %v", err)
			journal = nil
		}

		// Sweep report archive is optional, enabled by MONGODB_URI
		reports = services.NewSweepReportStore()

		// Core session lifecycle services
		gateway := broker.NewClient(cfg.BrokerBaseURL)
		store := services.NewSessionStore(cache, time.Duration(cfg.SessionTTLHours)*time.Hour)
		registry := services.NewSmsChallengeRegistry(gateway,
			time.Duration(cfg.SmsResendCooldownSec)*time.Second,
			time.Duration(cfg.ChallengeTTLSec)*time.Second)
		qrRegistry := services.NewQRLoginRegistry()
		directory := services.NewGormAccountDirectory(db)
		validator := services.NewSessionValidator(store, gateway)

		sweepInterval := time.Duration(cfg.SweepIntervalMin) * time.Minute
		deduper := services.NewReloginDeduper(cache, directory,
			func() bool { return config.AppConfig.AutoReloginEnabled }, sweepInterval)

		hub = services.NewNotifyHub()
		coordinator = services.NewReloginCoordinator(store, registry, gateway, directory, deduper, hub, journal)
		coordinator.Start()

		gate := services.NewAuthGate(store, coordinator, journal)
		sweeper := services.NewConcurrentSweeper(directory, store, validator, deduper, coordinator, journal, cfg.SweepConcurrency)

		appInitMutex.Lock()
		appInitialized = true
		appInitMutex.Unlock()

		// Setup all API routes
		routes.SetupRoutes(router, routes.Deps{
			DB:          db,
			JWTSecret:   cfg.JWTSecret,
			Store:       store,
			Registry:    registry,
			QRRegistry:  qrRegistry,
			Gateway:     gateway,
			Coordinator: coordinator,
			Validator:   validator,
			Gate:        gate,
			Sweeper:     sweeper,
			Reports:     reports,
			Journal:     journal,
			Hub:         hub,
		})

		// Start background scheduler
		calendar := services.NewWeekdayCalendarFromEnv()
		jobScheduler = scheduler.NewScheduler(sweeper, registry, qrRegistry, reports, journal, calendar, sweepInterval)
		jobScheduler.Start()

		log.Println("Application fully initialized")
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	if jobScheduler != nil {
		jobScheduler.Stop()
	}
	if coordinator != nil {
		coordinator.Stop()
	}
	if hub != nil {
		hub.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if journal != nil {
		journal.Close()
	}
	if reports != nil {
		reports.Close()
	}
	if config.DB != nil {
		if sqlDB, err := config.DB.DB(); err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}

// setupHealthEndpoints sets up health check endpoints
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Broker Session Backend",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks if service is ready to receive traffic
	router.GET("/ready", func(c *gin.Context) {
		appInitMutex.RLock()
		ready := appInitialized
		appInitMutex.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Backing stores not connected",
			})
			return
		}

		sqlDB, err := config.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}
