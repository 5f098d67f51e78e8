package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/config"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/database"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/handlers"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/middleware"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/repository"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/router"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/services"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/websocket"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("starting compliance engine", "env", cfg.Env, "port", cfg.Port)

	calendar, err := compliance.NewCalendar(cfg.ComplianceTimezone)
	if err != nil {
		log.Fatal("invalid compliance timezone", "error", err, "timezone", cfg.ComplianceTimezone)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("postgres connection failed", "error", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("redis connection failed", "error", err)
	}
	defer redisClients.Close()
	log.Info("redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("database migration failed", "error", err)
	}

	// ──── Initialize Repositories ────
	store := repository.NewStore(pool)
	auditRepo := repository.NewAuditRepo(pool)
	certificateRepo := repository.NewCertificateRepo(pool)
	jobRepo := repository.NewJobRepo(pool)
	enrollmentRepo := repository.NewEnrollmentRepo(pool)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	publisher := services.NewRedisPublisher(redisClients.Queue)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL, log)
	auditService := services.NewAuditService(auditRepo, publisher, log)
	certificateService := services.NewCertificateService(jobRepo, redisClients.Queue, certificateRepo, store, emailService, publisher, auditService, log)

	heartbeatService := services.NewHeartbeatService(store, calendar, auditService, log)
	pvqService := services.NewPVQService(store, auditService, log)
	examService := services.NewExamService(store, auditService, certificateService, log)
	sessionService := services.NewSessionService(store, calendar, auditService, log)
	statusService := services.NewStatusService(store, auditRepo, calendar, log)
	enrollmentService := services.NewEnrollmentService(enrollmentRepo, store, cfg.EnrollmentRequiredUnits, auditService, log)
	auditQueryService := services.NewAuditQueryService(auditRepo, auditService, log)

	// ──── Initialize Handlers ────
	complianceHandler := handlers.NewComplianceHandler(heartbeatService, pvqService, examService, sessionService, statusService)
	certificateHandler := handlers.NewCertificateHandler(jobRepo, certificateRepo)
	enrollmentHandler := handlers.NewEnrollmentHandler(enrollmentService)
	auditHandler := handlers.NewAuditHandler(auditQueryService)

	// ──── Step 5: Background Work ────
	workerPool := worker.NewPool(redisClients.Queue, jobRepo, certificateService, cfg.CertificateWorkers, log)
	scheduler := services.NewMaintenanceScheduler(store, auditRepo, auditService, time.Duration(cfg.MaintenanceIntervalMin)*time.Minute, log)
	apiLimiter := middleware.NewRateLimiter(cfg.APIRateLimitPerMin, time.Minute)
	heartbeatLimiter := middleware.NewRedisRateLimiter(redisClients.Queue, "heartbeat", cfg.HeartbeatRateLimitPerMin, time.Minute, log)

	// ──── Step 6: WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, cfg.FrontendURL, log)
	defer wsHub.Close()

	// ──── Step 7: HTTP Server ────
	r := router.New(jwtAuth, complianceHandler, certificateHandler, enrollmentHandler, auditHandler, wsHub, router.Options{
		FrontendURL:      cfg.FrontendURL,
		HeartbeatLimiter: heartbeatLimiter,
		APILimiter:       apiLimiter,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return workerPool.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		apiLimiter.Cleanup(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("compliance engine stopped with error", "error", err)
		log.Sync()
		os.Exit(1)
	}
	log.Info("compliance engine stopped")
}
