package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/hackgods/turnos-scheduling/internal/config"
	"github.com/hackgods/turnos-scheduling/internal/db"
	"github.com/hackgods/turnos-scheduling/internal/identity"
	"github.com/hackgods/turnos-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	PatientLimit int
	SlotsPerDay  int
	JWTSecret    string
	PostgresDSN  string
}

// doctorSpecialty is one bookable (doctor, specialty) pair.
type doctorSpecialty struct {
	DoctorID    uuid.UUID
	SpecialtyID uuid.UUID
}

type booking struct {
	ID        uuid.UUID
	PatientID uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []doctorSpecialty
	Slots    []time.Time
	mu       sync.Mutex
	booked   []booking
}

func (dp *DataPool) AddBooking(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, b)
}

// TakeBooking removes and returns a random booking so each is cancelled at
// most once by the simulator.
func (dp *DataPool) TakeBooking(rng *rand.Rand) (booking, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return booking{}, false
	}
	idx := rng.Intn(len(dp.booked))
	b := dp.booked[idx]
	dp.booked[idx] = dp.booked[len(dp.booked)-1]
	dp.booked = dp.booked[:len(dp.booked)-1]
	return b, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]

	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Booking       OperationMetrics
	Cancel        OperationMetrics
	ListByPatient OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	tokens  sync.Map // patient id -> bearer token
	log     zerolog.Logger
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("dev", "info")
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4, MinConns: 1})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}

	logger.Info().
		Int("patients", len(dataPool.Patients)).
		Int("doctors", len(dataPool.Doctors)).
		Int("slots", len(dataPool.Slots)).
		Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelVerify()
	if err := verifyNoDoubleBooking(verifyCtx, pgPool); err != nil {
		logger.Fatal().Err(err).Msg("double booking detected")
	}
	logger.Info().Msg("no slot holds more than one active appointment")
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, fmt.Errorf("load base config: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SIM")
	v.AutomaticEnv()
	v.SetDefault("API_BASE_URL", "http://localhost:8080")
	v.SetDefault("DURATION", 30*time.Second)
	v.SetDefault("WORKERS", 10)
	v.SetDefault("BOOKING_RATIO", 0.6)
	v.SetDefault("CANCEL_RATIO", 0.2)
	v.SetDefault("READ_RATIO", 0.2)
	v.SetDefault("PATIENT_LIMIT", 500)
	v.SetDefault("SLOTS_PER_DAY", 8)

	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(v.GetString("API_BASE_URL"), "/"),
		Duration:     v.GetDuration("DURATION"),
		Workers:      v.GetInt("WORKERS"),
		BookingRatio: v.GetFloat64("BOOKING_RATIO"),
		CancelRatio:  v.GetFloat64("CANCEL_RATIO"),
		ReadRatio:    v.GetFloat64("READ_RATIO"),
		PatientLimit: v.GetInt("PATIENT_LIMIT"),
		SlotsPerDay:  v.GetInt("SLOTS_PER_DAY"),
		JWTSecret:    baseCfg.JWTSecret,
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.SlotsPerDay <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_SLOTS_PER_DAY must be > 0")
	}
	return cfg, nil
}

// loadDataPool picks a small grid of tomorrow's half-hour slots so workers
// contend for the same (doctor, slot) pairs.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM users WHERE role = 'PACIENTE' LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `SELECT doctor_id, specialty_id FROM doctor_specialties`)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for rows.Next() {
		var ds doctorSpecialty
		if err := rows.Scan(&ds.DoctorID, &ds.SpecialtyID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, ds)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	first := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 9, 0, 0, 0, time.UTC)
	for i := 0; i < cfg.SlotsPerDay; i++ {
		dataPool.Slots = append(dataPool.Slots, first.Add(time.Duration(i)*30*time.Minute))
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func verifyNoDoubleBooking(ctx context.Context, pool *pgxpool.Pool) error {
	var duplicates int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT a.doctor_id, a.scheduled_at
			FROM appointments a
			LEFT JOIN appointment_current_status cs ON cs.appointment_id = a.id
			WHERE COALESCE(cs.status, 'Pendiente') <> 'Cancelado'
			GROUP BY a.doctor_id, a.scheduled_at
			HAVING COUNT(*) > 1
		) d
	`).Scan(&duplicates)
	if err != nil {
		return err
	}
	if duplicates > 0 {
		return fmt.Errorf("%d slots hold more than one active appointment", duplicates)
	}
	return nil
}

func (s *Simulator) token(patientID uuid.UUID) string {
	if tok, ok := s.tokens.Load(patientID); ok {
		return tok.(string)
	}
	tok, err := identity.Sign(s.config.JWTSecret, identity.Identity{UserID: patientID, Role: identity.RolePatient}, time.Hour)
	if err != nil {
		s.log.Fatal().Err(err).Msg("sign token")
	}
	s.tokens.Store(patientID, tok)
	return tok
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				s.doListByPatient(ctx, rng)
			}
		}
	}
}

func (s *Simulator) send(ctx context.Context, method, path, token string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return s.client.Do(req)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	ds := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	resp, err := s.send(ctx, http.MethodPost, "/api/appointments", s.token(patientID), map[string]string{
		"doctor_id":    ds.DoctorID.String(),
		"specialty_id": ds.SpecialtyID.String(),
		"date":         slot.Format("2006-01-02"),
		"time":         slot.Format("15:04"),
	})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var created struct {
				ID uuid.UUID `json:"id"`
			}
			if json.NewDecoder(resp.Body).Decode(&created) == nil && created.ID != uuid.Nil {
				s.pool.AddBooking(booking{ID: created.ID, PatientID: patientID})
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.send(ctx, http.MethodPost, "/api/appointments/"+b.ID.String()+"/cancel", s.token(b.PatientID),
		map[string]string{"reason": "Simulación de carga"})
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Cancel.Record(latency, success, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	resp, err := s.send(ctx, http.MethodGet, "/api/appointments/my", s.token(patientID), nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ListByPatient.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
