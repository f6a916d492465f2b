package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/hackgods/turnos-scheduling/internal/config"
	"github.com/hackgods/turnos-scheduling/internal/db"
	"github.com/hackgods/turnos-scheduling/internal/identity"
	"github.com/hackgods/turnos-scheduling/internal/logging"
)

type demoDoctor struct {
	FirstName string
	LastName  string
	Email     string
	DNI       string
	License   string
	Bio       string
	Specialty string
}

var demoDoctors = []demoDoctor{
	{"Sofía", "Paredes", "sofia.paredes@cardio.local", "30000001", "CARD-1001", "Especialista en cardiología preventiva", "Cardiología"},
	{"Martín", "Carrizo", "martin.carrizo@cardio.local", "30000002", "CARD-1002", "Cardiólogo clínico con enfoque en rehabilitación", "Cardiología"},
	{"Diego", "Montiel", "diego.montiel@clinica.local", "30000011", "CLIN-2001", "Médico clínico generalista", "Clínica Médica"},
	{"Gabriela", "Arce", "gabriela.arce@clinica.local", "30000012", "CLIN-2002", "Clínica médica con orientación en adultos mayores", "Clínica Médica"},
	{"Florencia", "Muro", "florencia.muro@derma.local", "30000021", "DERM-3001", "Dermatóloga especialista en acné adulto", "Dermatología"},
	{"Adrián", "Castillo", "adrian.castillo@derma.local", "30000022", "DERM-3002", "Dermatología clínica y estética", "Dermatología"},
	{"Mariano", "Albornoz", "mariano.albornoz@pedia.local", "30000031", "PEDS-4001", "Pediatra general con enfoque en desarrollo infantil", "Pediatría"},
	{"Soledad", "Villar", "soledad.villar@pedia.local", "30000032", "PEDS-4002", "Pediatría y nutrición infantil", "Pediatría"},
}

type seedOptions struct {
	patients    int
	password    string
	printTokens bool
}

func main() {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo doctors and patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.patients, "patients", 200, "number of fake patients to create")
	cmd.Flags().StringVar(&opts.password, "password", "turnos123", "password for every seeded user")
	cmd.Flags().BoolVar(&opts.printTokens, "print-tokens", false, "print a bearer token for one patient and one doctor")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().Msg("seed starting")

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4, MinConns: 1})
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(opts.password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	doctorIDs, err := seedDoctors(ctx, pool, string(hash), logger)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}

	patientIDs, err := seedPatients(ctx, pool, string(hash), opts.patients, logger)
	if err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	if opts.printTokens && len(doctorIDs) > 0 && len(patientIDs) > 0 {
		for _, id := range []identity.Identity{
			{UserID: patientIDs[0], Role: identity.RolePatient},
			{UserID: doctorIDs[0], Role: identity.RoleDoctor},
		} {
			token, err := identity.Sign(cfg.JWTSecret, id, 24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n%s\n", id.Role, id.UserID, token)
		}
	}

	logger.Info().Msg("seed complete")
	return nil
}

// seedDoctors upserts the demo doctors by email and assigns their specialty.
// Specialties come from the migrations.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, hash string, logger zerolog.Logger) ([]uuid.UUID, error) {
	var ids []uuid.UUID

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, d := range demoDoctors {
			var specialtyID uuid.UUID
			if err := tx.QueryRow(ctx, `SELECT id FROM specialties WHERE name = $1`, d.Specialty).Scan(&specialtyID); err != nil {
				return fmt.Errorf("specialty %q: %w", d.Specialty, err)
			}

			var userID uuid.UUID
			err := tx.QueryRow(ctx, `
				INSERT INTO users (id, dni, email, password_hash, first_name, last_name, role, email_verified)
				VALUES ($1, $2, $3, $4, $5, $6, 'MEDICO', TRUE)
				ON CONFLICT (email) DO UPDATE
				SET first_name = EXCLUDED.first_name,
				    last_name  = EXCLUDED.last_name,
				    role       = 'MEDICO',
				    dni        = COALESCE(users.dni, EXCLUDED.dni)
				RETURNING id
			`, uuid.New(), d.DNI, d.Email, hash, d.FirstName, d.LastName).Scan(&userID)
			if err != nil {
				return fmt.Errorf("upsert %s: %w", d.Email, err)
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO doctors (user_id, license_number, bio)
				VALUES ($1, $2, $3)
				ON CONFLICT (user_id) DO UPDATE
				SET license_number = EXCLUDED.license_number, bio = EXCLUDED.bio
			`, userID, d.License, d.Bio); err != nil {
				return fmt.Errorf("doctor profile %s: %w", d.Email, err)
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO doctor_specialties (doctor_id, specialty_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, userID, specialtyID); err != nil {
				return fmt.Errorf("assign specialty %s: %w", d.Email, err)
			}

			ids = append(ids, userID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Int("count", len(ids)).Msg("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, hash string, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	const batchSize = 500

	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				id := uuid.New()
				tag, err := tx.Exec(ctx, `
					INSERT INTO users (id, dni, email, password_hash, first_name, last_name, role, email_verified)
					VALUES ($1, $2, $3, $4, $5, $6, 'PACIENTE', TRUE)
					ON CONFLICT DO NOTHING
				`, id, gofakeit.Numerify("4#######"), fmt.Sprintf("%d.%s", i, gofakeit.Email()), hash,
					gofakeit.FirstName(), gofakeit.LastName())
				if err != nil {
					return err
				}
				if tag.RowsAffected() == 1 {
					ids = append(ids, id)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return ids, nil
}
