package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/vet-appointment-scheduling/internal/db"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
	HotSlotWorkers  int
	SlotMinutes     int
	HorizonDays     int
	VetLimit        int
	PetLimit        int
	PostgresDSN     string
	StaffID         string
}

type vetRef struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
}

type petRef struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
}

type bookedRef struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
}

type DataPool struct {
	Vets         []vetRef
	Pets         []petRef
	mu           sync.RWMutex
	appointments []bookedRef
}

func (dp *DataPool) AddAppointment(ref bookedRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, ref)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (bookedRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return bookedRef{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking    OperationMetrics
	HotSlot    OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	Slots      OperationMetrics
	ReadByID   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics
	staffID uuid.UUID
}

func main() {
	_ = godotenv.Load()

	logger, err := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("hot_slot_workers", cfg.HotSlotWorkers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("reschedule", cfg.RescheduleRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data loaded", zap.Int("vets", len(dataPool.Vets)), zap.Int("pets", len(dataPool.Pets)))

	staffID, err := uuid.Parse(cfg.StaffID)
	if err != nil {
		staffID = uuid.New()
	}

	sim := &Simulator{
		config:  cfg,
		pool:    dataPool,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		staffID: staffID,
	}

	sim.Run()
	sim.PrintReport()

	overlaps, err := auditOverlaps(context.Background(), pgPool)
	if err != nil {
		logger.Fatal("overlap audit failed", zap.Error(err))
	}
	if overlaps > 0 {
		logger.Error("overlapping occupying appointments found", zap.Int("pairs", overlaps))
		os.Exit(1)
	}
	logger.Info("overlap audit passed: no vet is double-booked")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.15),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.25),
		HotSlotWorkers:  getInt("SIM_HOT_SLOT_WORKERS", 8),
		SlotMinutes:     getInt("SIM_SLOT_MINUTES", 30),
		HorizonDays:     getInt("SIM_HORIZON_DAYS", 7),
		VetLimit:        getInt("SIM_VET_LIMIT", 50),
		PetLimit:        getInt("SIM_PET_LIMIT", 4000),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		StaffID:         getEnv("SIM_STAFF_ID", ""),
	}

	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.SlotMinutes <= 0 || cfg.HorizonDays <= 0 {
		return fmt.Errorf("SIM_SLOT_MINUTES and SIM_HORIZON_DAYS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT v.id, v.clinic_id
		FROM veterinarians v
		WHERE EXISTS (SELECT 1 FROM vet_working_hours h WHERE h.vet_id = v.id)
		LIMIT $1
	`, cfg.VetLimit)
	if err != nil {
		return nil, fmt.Errorf("load vets: %w", err)
	}
	for rows.Next() {
		var v vetRef
		if err := rows.Scan(&v.ID, &v.ClinicID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Vets = append(dataPool.Vets, v)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `SELECT id, owner_id FROM pets LIMIT $1`, cfg.PetLimit)
	if err != nil {
		return nil, fmt.Errorf("load pets: %w", err)
	}
	for rows.Next() {
		var p petRef
		if err := rows.Scan(&p.ID, &p.OwnerID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Pets = append(dataPool.Pets, p)
	}
	rows.Close()

	if len(dataPool.Vets) == 0 {
		return nil, fmt.Errorf("no vets with working hours loaded")
	}
	if len(dataPool.Pets) == 0 {
		return nil, fmt.Errorf("no pets loaded")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", zap.Duration("duration", s.config.Duration))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.hotSlot(ctx)
	}()

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doReadByID(ctx, rng)
		}
	}
}

// hotSlot races several clients for the same vet and start time each round. At most one may win.
func (s *Simulator) hotSlot(ctx context.Context) {
	if s.config.HotSlotWorkers <= 0 {
		return
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for ctx.Err() == nil {
		vet := s.pool.Vets[rng.Intn(len(s.pool.Vets))]
		slots := s.fetchSlots(ctx, vet.ID, rng)
		if len(slots) == 0 {
			continue
		}
		start := slots[rng.Intn(len(slots))]

		var wins int64
		var wg sync.WaitGroup
		for i := 0; i < s.config.HotSlotWorkers; i++ {
			pet := s.pool.Pets[rng.Intn(len(s.pool.Pets))]
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.book(ctx, vet, pet, start, &s.metrics.HotSlot) {
					atomic.AddInt64(&wins, 1)
				}
			}()
		}
		wg.Wait()
		if wins > 1 {
			s.logger.Error("hot slot double-booked", zap.String("vet_id", vet.ID.String()), zap.Time("start", start), zap.Int64("wins", wins))
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	vet := s.pool.Vets[rng.Intn(len(s.pool.Vets))]
	pet := s.pool.Pets[rng.Intn(len(s.pool.Pets))]

	slots := s.fetchSlots(ctx, vet.ID, rng)
	if len(slots) == 0 {
		return
	}
	s.book(ctx, vet, pet, slots[rng.Intn(len(slots))], &s.metrics.Booking)
}

func (s *Simulator) book(ctx context.Context, vet vetRef, pet petRef, start time.Time, om *OperationMetrics) bool {
	body, _ := json.Marshal(map[string]any{
		"vet_id":           vet.ID,
		"pet_id":           pet.ID,
		"clinic_id":        vet.ClinicID,
		"starts_at":        start,
		"duration_minutes": s.config.SlotMinutes,
		"type":             "wellness_exam",
	})

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.do(ctx, http.MethodPost, "/appointments", body, pet.OwnerID, "client", &created, om)
	if err != nil || status != http.StatusCreated {
		return false
	}
	s.pool.AddAppointment(bookedRef{ID: created.ID, OwnerID: pet.OwnerID})
	return true
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	// move somewhere in the horizon on a half-hour boundary; conflicts and closed hours are expected
	start := time.Now().Add(24 * time.Hour).Truncate(30 * time.Minute).
		Add(time.Duration(rng.Intn(s.config.HorizonDays*48)) * 30 * time.Minute)
	body, _ := json.Marshal(map[string]any{"starts_at": start, "duration_minutes": s.config.SlotMinutes})
	_, _ = s.do(ctx, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule", body, appt.OwnerID, "client", nil, &s.metrics.Reschedule)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	_, _ = s.do(ctx, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil, s.staffID, "clinic_staff", nil, &s.metrics.Cancel)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	_, _ = s.do(ctx, http.MethodGet, "/appointments/"+appt.ID.String(), nil, appt.OwnerID, "client", nil, &s.metrics.ReadByID)
}

func (s *Simulator) fetchSlots(ctx context.Context, vetID uuid.UUID, rng *rand.Rand) []time.Time {
	from := time.Now().Add(24 * time.Hour).Add(time.Duration(rng.Intn(s.config.HorizonDays)) * 24 * time.Hour).Truncate(time.Hour)
	q := url.Values{}
	q.Set("from", from.Format(time.RFC3339))
	q.Set("to", from.Add(24*time.Hour).Format(time.RFC3339))
	q.Set("duration", strconv.Itoa(s.config.SlotMinutes))

	var resp struct {
		Slots []time.Time `json:"slots"`
	}
	status, err := s.do(ctx, http.MethodGet, "/vets/"+vetID.String()+"/slots?"+q.Encode(), nil, s.staffID, "clinic_staff", &resp, &s.metrics.Slots)
	if err != nil || status != http.StatusOK {
		return nil
	}
	return resp.Slots
}

func (s *Simulator) do(ctx context.Context, method, path string, body []byte, actor uuid.UUID, role string, out any, om *OperationMetrics) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", actor.String())
	req.Header.Set("X-Actor-Role", role)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, 0, err)
		}
		return 0, err
	}
	defer resp.Body.Close()

	om.Record(latency, resp.StatusCode, nil)
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// auditOverlaps counts pairs of occupying appointments of the same vet whose intervals intersect.
func auditOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.vet_id = b.vet_id
		 AND a.id < b.id
		 AND tstzrange(a.starts_at, a.ends_at, '[)') && tstzrange(b.starts_at, b.ends_at, '[)')
		WHERE a.status IN ('pending', 'confirmed', 'checked_in')
		  AND b.status IN ('pending', 'confirmed', 'checked_in')
	`).Scan(&n)
	return n, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d (+%d racing the hot slot)\n", s.config.Workers, s.config.HotSlotWorkers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Hot slot booking", &s.metrics.HotSlot)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List slots", &s.metrics.Slots)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

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
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}
