package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seedOptions struct {
	doctorsPerDept int
	patients       int
	admins         int
	slotMinutes    int
	dayStart       string
	dayEnd         string
}

func main() {
	opts := seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate departments, doctors with weekly templates, patients and admins",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			return run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().IntVar(&opts.doctorsPerDept, "doctors-per-department", 10, "doctors created per department")
	cmd.Flags().IntVar(&opts.patients, "patients", 9000, "patients to create")
	cmd.Flags().IntVar(&opts.admins, "admins", 3, "admins to create")
	cmd.Flags().IntVar(&opts.slotMinutes, "slot-minutes", 30, "length of each template slot")
	cmd.Flags().StringVar(&opts.dayStart, "day-start", "09:00", "first slot start")
	cmd.Flags().StringVar(&opts.dayEnd, "day-end", "17:00", "last slot end")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts seedOptions) error {
	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "seed").Logger()
	logger.Info().Msg("seed starting")

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connCtx, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	faker := gofakeit.New(0)

	slots, err := appointment.DivideSlots(opts.dayStart, opts.dayEnd, time.Duration(opts.slotMinutes)*time.Minute)
	if err != nil {
		return fmt.Errorf("build template: %w", err)
	}

	deptIDs, err := seedDepartments(ctx, pool, logger)
	if err != nil {
		return fmt.Errorf("seed departments: %w", err)
	}
	if err := seedDoctors(ctx, pool, faker, deptIDs, opts.doctorsPerDept, slots, logger); err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	if err := seedPeople(ctx, pool, faker, "patients", opts.patients, logger); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	if err := seedPeople(ctx, pool, faker, "admins", opts.admins, logger); err != nil {
		return fmt.Errorf("seed admins: %w", err)
	}

	logger.Info().Msg("seed complete")
	return nil
}

func seedDepartments(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(specialties))
	for _, name := range specialties {
		var id uuid.UUID
		err := pool.QueryRow(ctx, `
			INSERT INTO departments (id, name)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, uuid.New(), name).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	logger.Info().Int("count", len(ids)).Msg("departments seeded")
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, deptIDs []uuid.UUID, perDept int, slots []string, logger zerolog.Logger) error {
	dir := appointment.NewPgDirectory(pool)
	workweek := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

	for _, deptID := range deptIDs {
		for i := 0; i < perDept; i++ {
			id := uuid.New()
			_, err := pool.Exec(ctx, `
				INSERT INTO doctors (id, name, email, department_id)
				VALUES ($1, $2, $3, $4)
			`, id, "Dr. "+faker.Name(), faker.Email(), deptID)
			if err != nil {
				return err
			}

			// each doctor skips one random weekday
			off := workweek[faker.Number(0, len(workweek)-1)]
			tmpl := appointment.AvailabilityTemplate{DoctorID: id, WeeklySlots: map[time.Weekday][]string{}}
			for _, day := range workweek {
				if day != off {
					tmpl.WeeklySlots[day] = slots
				}
			}
			if err := dir.SaveTemplate(ctx, tmpl); err != nil {
				return err
			}
		}
	}
	logger.Info().Int("count", len(deptIDs)*perDept).Msg("doctors seeded")
	return nil
}

// seedPeople fills patients or admins; both share the (id, name, email) shape.
func seedPeople(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, table string, count int, logger zerolog.Logger) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO `+table+` (id, name, email)
				VALUES ($1, $2, $3)
				ON CONFLICT (email) DO NOTHING
			`, uuid.New(), faker.Name(), faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		logger.Info().Str("table", table).Int("done", end).Int("total", count).Msg("batch seeded")
	}
	return nil
}
