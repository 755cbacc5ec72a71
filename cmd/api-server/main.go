package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinic-scheduling/internal/api"
	"github.com/clinicore/clinic-scheduling/internal/config"
	"github.com/clinicore/clinic-scheduling/internal/db"
	"github.com/clinicore/clinic-scheduling/internal/notify"
	redisclient "github.com/clinicore/clinic-scheduling/internal/redis"
	"github.com/clinicore/clinic-scheduling/internal/scheduling"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	if err := db.EnsureSchema(rootCtx, pgPool); err != nil {
		log.Fatalf("schema error: %v", err)
	}
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisProfessionalLocker(rdb, cfg.LockTTL)
	metrics := scheduling.NewMetrics(nil)

	// Insurance, billing and session-log collaborators are external systems
	// wired per deployment; absent config they stay disconnected and the
	// service skips those hand-offs.
	dispatcher := buildDispatcher(pgPool)

	svc := scheduling.NewService(repo, locker, nil, nil, nil, dispatcher, scheduling.Options{
		Grid: scheduling.GridConfig{
			WorkdayStart: cfg.WorkdayStart,
			WorkdayEnd:   cfg.WorkdayEnd,
			LunchStart:   cfg.LunchStart,
			LunchEnd:     cfg.LunchEnd,
			SlotMinutes:  cfg.SlotMinutes,
		},
		Metrics: metrics,
	})
	defer svc.Reminders().Stop()

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		PgPool:  pgPool,
		Redis:   rdb,
		Env:     cfg.Env,
		Version: version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on :%s", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}

func buildDispatcher(pool *pgxpool.Pool) scheduling.ReminderDispatcher {
	apiKey := os.Getenv("SENDGRID_API_KEY")
	twilioSID := os.Getenv("TWILIO_ACCOUNT_SID")
	if apiKey == "" && twilioSID == "" {
		log.Println("no reminder channels configured, dispatch disabled")
		return nil
	}

	var email *notify.EmailSender
	if apiKey != "" {
		email = notify.NewEmailSender(apiKey, os.Getenv("SENDGRID_FROM_NAME"), os.Getenv("SENDGRID_FROM_EMAIL"))
	}
	var sms *notify.SMSSender
	if twilioSID != "" {
		sms = notify.NewSMSSender(twilioSID, os.Getenv("TWILIO_AUTH_TOKEN"), os.Getenv("TWILIO_FROM_NUMBER"))
	}
	return notify.NewDispatcher(notify.NewPgDirectory(pool), email, sms)
}
