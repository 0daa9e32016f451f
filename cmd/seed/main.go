package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/db"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
)

var (
	timezones = []string{"America/New_York", "America/Chicago", "America/Denver", "America/Los_Angeles", "Europe/London"}
	species   = []string{"dog", "cat", "rabbit", "parrot", "guinea pig", "ferret"}
)

type seedCounts struct {
	Clinics       int
	VetsPerClinic int
	Staff         int
	Clients       int
	PetsPerClient int
}

func main() {
	_ = godotenv.Load()

	logger, err := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	_ = gofakeit.Seed(0)

	counts := seedCounts{Clinics: 5, VetsPerClinic: 4, Staff: 10, Clients: 2000, PetsPerClient: 2}
	if err := seed(context.Background(), logger, pool, counts); err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
	logger.Info("seed complete")
}

func seed(ctx context.Context, logger *zap.Logger, pool *pgxpool.Pool, counts seedCounts) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n := 0
	newUser := func(role string) (uuid.UUID, string, error) {
		n++
		id := uuid.New()
		name := gofakeit.Name()
		email := fmt.Sprintf("%d.%s", n, gofakeit.Email())
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, name, email, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, email, role)
		return id, name, err
	}

	for c := 0; c < counts.Clinics; c++ {
		clinicID := uuid.New()
		tz := timezones[c%len(timezones)]
		if _, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, timezone, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, clinicID, gofakeit.Company()+" Animal Hospital", tz); err != nil {
			return fmt.Errorf("insert clinic: %w", err)
		}

		for v := 0; v < counts.VetsPerClinic; v++ {
			userID, name, err := newUser("veterinarian")
			if err != nil {
				return fmt.Errorf("insert vet user: %w", err)
			}
			vetID := uuid.New()
			if _, err := tx.Exec(ctx, `
				INSERT INTO veterinarians (id, clinic_id, user_id, name, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, vetID, clinicID, userID, "Dr. "+name); err != nil {
				return fmt.Errorf("insert vet: %w", err)
			}
			if err := seedWorkingHours(ctx, tx, vetID); err != nil {
				return err
			}
		}
		logger.Info("clinic seeded", zap.String("clinic_id", clinicID.String()), zap.String("timezone", tz))
	}

	for i := 0; i < counts.Staff; i++ {
		if _, _, err := newUser("clinic_staff"); err != nil {
			return fmt.Errorf("insert staff: %w", err)
		}
	}

	for i := 0; i < counts.Clients; i++ {
		ownerID, _, err := newUser("client")
		if err != nil {
			return fmt.Errorf("insert client: %w", err)
		}
		for p := 0; p < counts.PetsPerClient; p++ {
			if _, err := tx.Exec(ctx, `
				INSERT INTO pets (id, owner_id, name, species, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), ownerID, gofakeit.PetName(), gofakeit.RandomString(species)); err != nil {
				return fmt.Errorf("insert pet: %w", err)
			}
		}
	}
	logger.Info("clients seeded", zap.Int("clients", counts.Clients), zap.Int("pets", counts.Clients*counts.PetsPerClient))

	return tx.Commit(ctx)
}

// seedWorkingHours gives each vet a weekday schedule with a randomized start and a short Saturday.
func seedWorkingHours(ctx context.Context, tx pgx.Tx, vetID uuid.UUID) error {
	opens := 8*60 + gofakeit.Number(0, 2)*30
	for weekday := time.Monday; weekday <= time.Friday; weekday++ {
		if _, err := tx.Exec(ctx, `
			INSERT INTO vet_working_hours (vet_id, weekday, opens_minute, closes_minute)
			VALUES ($1, $2, $3, $4)
		`, vetID, int(weekday), opens, opens+8*60); err != nil {
			return fmt.Errorf("insert working hours: %w", err)
		}
	}
	if gofakeit.Number(0, 1) == 1 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO vet_working_hours (vet_id, weekday, opens_minute, closes_minute)
			VALUES ($1, $2, $3, $4)
		`, vetID, int(time.Saturday), 9*60, 13*60); err != nil {
			return fmt.Errorf("insert working hours: %w", err)
		}
	}
	return nil
}
