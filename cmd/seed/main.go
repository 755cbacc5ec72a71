package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinic-scheduling/internal/db"
	redisclient "github.com/clinicore/clinic-scheduling/internal/redis"
	"github.com/clinicore/clinic-scheduling/internal/scheduling"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	professionals, err := seedProfessionals(context.Background(), pool, 12)
	if err != nil {
		log.Fatalf("seed professionals: %v", err)
	}
	patients, err := seedPatients(context.Background(), pool, 300)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedAppointments(context.Background(), pool, professionals, patients); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

func seedProfessionals(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d professionals", count)

	disciplines := []string{
		"Speech-Language Pathology",
		"Occupational Therapy",
		"Physical Therapy",
		"Behavioral Therapy",
		"Clinical Psychology",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		discipline := disciplines[gofakeit.Number(0, len(disciplines)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO professionals (id, name, discipline, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, gofakeit.Name(), discipline)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("professionals seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email, phone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, gofakeit.Name(), gofakeit.Email(), "+1"+gofakeit.Numerify("##########"))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("patients seeded")
	return ids, nil
}

// seedAppointments books a demo week through the real service so slot grids
// and derived totals end up consistent with what the API would produce.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, professionals, patients []uuid.UUID) error {
	repo := scheduling.NewPgRepository(pool)
	svc := scheduling.NewService(repo, redisclient.NewLocalLocker(), nil, nil, nil, nil, scheduling.Options{})

	kinds := []scheduling.AppointmentKind{
		scheduling.KindEvaluation,
		scheduling.KindIndividual,
		scheduling.KindGroup,
		scheduling.KindTeletherapy,
		scheduling.KindConsultation,
	}
	cpts := []string{"92507", "92508", "92521", "92523", "92606"}

	monday := scheduling.DateOf(time.Now().UTC())
	for monday.Weekday() != time.Monday {
		monday = monday.AddDate(0, 0, 1)
	}

	created, conflicts := 0, 0
	for _, professionalID := range professionals {
		for day := 0; day < 5; day++ {
			date := monday.AddDate(0, 0, day)
			for n := 0; n < gofakeit.Number(3, 6); n++ {
				start := (8 + gofakeit.Number(0, 7)) * 60
				kind := kinds[gofakeit.Number(0, len(kinds)-1)]
				_, err := svc.CreateAppointment(ctx, scheduling.BookingRequest{
					ProfessionalID: professionalID,
					PatientID:      patients[gofakeit.Number(0, len(patients)-1)],
					Kind:           kind,
					Date:           date,
					StartMinute:    start,
					Billing:        scheduling.BillingInfo{CPTCode: cpts[gofakeit.Number(0, len(cpts)-1)]},
				})
				if err != nil {
					conflicts++
					continue
				}
				created++
			}
		}
	}

	log.Printf("appointments seeded: %d created, %d rejected", created, conflicts)
	return nil
}
