package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/clinicore/clinic-scheduling/internal/config"
	"github.com/clinicore/clinic-scheduling/internal/db"
	"github.com/clinicore/clinic-scheduling/internal/notify"
	redisclient "github.com/clinicore/clinic-scheduling/internal/redis"
	"github.com/clinicore/clinic-scheduling/internal/scheduling"
)

// The worker is the restart-safe complement to the in-process reminder
// timers: it sweeps the repository for appointments whose reminder instants
// have passed and dispatches any the process that booked them never sent.
// A per-(appointment, offset) Redis key deduplicates across both paths.

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("reminder-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running reminder worker in env=%s sweep=%q offsets=%v", cfg.Env, cfg.ReminderSweep, cfg.ReminderOffsets)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
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

	dispatcher := buildDispatcher(pgPool)
	if dispatcher == nil {
		log.Fatal("no reminder channels configured; set SENDGRID_API_KEY and/or TWILIO_ACCOUNT_SID")
	}

	repo := scheduling.NewPgRepository(pgPool)
	sweeper := &sweeper{
		repo:       repo,
		rdb:        rdb,
		dispatcher: dispatcher,
		offsets:    cfg.ReminderOffsets,
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.ReminderSweep, func() { sweeper.run(rootCtx) }); err != nil {
		log.Fatalf("invalid REMINDER_SWEEP spec %q: %v", cfg.ReminderSweep, err)
	}
	c.Start()
	defer c.Stop()

	sweeper.run(rootCtx)

	<-rootCtx.Done()
	log.Println("shutting down reminder-worker")
}

type sweeper struct {
	repo       *scheduling.PgRepository
	rdb        *redis.Client
	dispatcher scheduling.ReminderDispatcher
	offsets    []int
}

func (s *sweeper) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	maxOffset := 0
	for _, offset := range s.offsets {
		if offset > maxOffset {
			maxOffset = offset
		}
	}

	// Everything starting between now and now+maxOffset could have a
	// reminder instant already behind us.
	appts, err := s.repo.ListStartingBetween(runCtx, now, now.Add(time.Duration(maxOffset)*time.Minute))
	if err != nil {
		log.Printf("sweep list error: %v", err)
		return
	}

	sent := 0
	for _, appt := range appts {
		if !appt.Reminders.Enabled {
			continue
		}
		if appt.Status != scheduling.StatusScheduled && appt.Status != scheduling.StatusConfirmed {
			continue
		}
		for _, offset := range appt.Reminders.OffsetsMinutes {
			fireAt := appt.StartAt().Add(-time.Duration(offset) * time.Minute)
			if fireAt.After(now) {
				continue
			}
			if !s.claim(runCtx, appt.ID.String(), offset) {
				continue
			}
			for _, ch := range appt.Reminders.Channels {
				if err := s.dispatcher.SendReminder(runCtx, appt.ID, ch); err != nil {
					log.Printf("dispatch failed appointment=%s channel=%s: %v", appt.ID, ch, err)
					continue
				}
				sent++
			}
		}
	}

	log.Printf("sweep complete: %d appointments scanned, %d reminders sent", len(appts), sent)
}

// claim marks one (appointment, offset) pair as dispatched. The key lives a
// little past the offset so a repeat sweep can never re-send.
func (s *sweeper) claim(ctx context.Context, appointmentID string, offset int) bool {
	key := fmt.Sprintf("reminder:sent:%s:%d", appointmentID, offset)
	ttl := time.Duration(offset)*time.Minute + 24*time.Hour
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		log.Printf("reminder dedupe error: %v", err)
		return false
	}
	return ok
}

func buildDispatcher(pool *pgxpool.Pool) scheduling.ReminderDispatcher {
	apiKey := os.Getenv("SENDGRID_API_KEY")
	twilioSID := os.Getenv("TWILIO_ACCOUNT_SID")
	if apiKey == "" && twilioSID == "" {
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
