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
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL     string
	FixturePath    string
	Duration       time.Duration
	Workers        int
	BookingRatio   float64
	RespondRatio   float64
	ReadRatio      float64
	HorizonDays    int
	SlotMinutes    int
	HTTPTimeout    time.Duration
	VerifyOverlaps bool
	// Location must match the server's TIMEZONE, slots are civil times in it.
	Location *time.Location
}

type party struct {
	ID    uuid.UUID `json:"id"`
	Token string    `json:"token"`
}

type fixture struct {
	Admin      party   `json:"admin"`
	Therapists []party `json:"therapists"`
	Clients    []party `json:"clients"`
}

type booked struct {
	ID        uuid.UUID
	Therapist party
}

// DataPool holds the fixture and the appointments created so far.
type DataPool struct {
	fixture
	mu           sync.RWMutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
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

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return sum / time.Duration(n), latencies[0], latencies[n-1], latencies[n*50/100], latencies[min(n*95/100, n-1)]
}

type Metrics struct {
	Availability OperationMetrics
	Booking      OperationMetrics
	Respond      OperationMetrics
	ReadByID     OperationMetrics
	List         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV")).With().Str("service", "simulate").Logger()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("respond", cfg.RespondRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	dataPool, err := loadDataPool(cfg.FixturePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load fixture")
	}
	logger.Info().Int("therapists", len(dataPool.Therapists)).Int("clients", len(dataPool.Clients)).Msg("fixture loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	if cfg.VerifyOverlaps {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		violations, err := sim.VerifyNoOverlap(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("overlap verification failed")
		}
		if violations > 0 {
			logger.Error().Int("violations", violations).Msg("overlapping active appointments found")
			os.Exit(1)
		}
		logger.Info().Msg("no overlapping active appointments")
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:     strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		FixturePath:    getEnv("SIM_FIXTURE", "seed.json"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		BookingRatio:   getFloat("SIM_BOOKING_RATIO", 0.5),
		RespondRatio:   getFloat("SIM_RESPOND_RATIO", 0.2),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.3),
		HorizonDays:    getInt("SIM_HORIZON_DAYS", 14),
		SlotMinutes:    getInt("SIM_SLOT_MINUTES", 60),
		HTTPTimeout:    getDuration("SIM_HTTP_TIMEOUT", 10*time.Second),
		VerifyOverlaps: getEnv("SIM_VERIFY", "true") == "true",
		Location:       time.UTC,
	}
	if loc, err := time.LoadLocation(getEnv("TIMEZONE", "UTC")); err == nil {
		cfg.Location = loc
	}

	total := cfg.BookingRatio + cfg.RespondRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.RespondRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HorizonDays < 2 || cfg.HorizonDays > 30 {
		return fmt.Errorf("SIM_HORIZON_DAYS must be between 2 and 30")
	}
	return nil
}

func loadDataPool(path string) (*DataPool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dp := &DataPool{}
	if err := json.Unmarshal(raw, &dp.fixture); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(dp.Therapists) == 0 || len(dp.Clients) == 0 {
		return nil, fmt.Errorf("fixture %s has no therapists or clients, run cmd/seed first", path)
	}
	return dp, nil
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
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.RespondRatio:
			s.doRespond(ctx, rng)
		case rng.Intn(2) == 0:
			s.doReadByID(ctx, rng)
		default:
			s.doList(ctx, rng)
		}
	}
}

// do sends a request and decodes a JSON response into out when non-nil.
func (s *Simulator) do(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rdr)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

type slotView struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
}

// doBooking looks up free slots for a random therapist and books one of them
// for a random client. Several workers racing for the same slot is the point.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	therapist := s.pool.Therapists[rng.Intn(len(s.pool.Therapists))]
	client := s.pool.Clients[rng.Intn(len(s.pool.Clients))]

	from := time.Now().In(s.config.Location).AddDate(0, 0, 2)
	to := from.AddDate(0, 0, rng.Intn(s.config.HorizonDays-1))
	path := fmt.Sprintf("/therapists/%s/availability?date_from=%s&date_to=%s&duration=%d",
		therapist.ID, from.Format(time.DateOnly), to.Format(time.DateOnly), s.config.SlotMinutes)

	var avail struct {
		Slots []slotView `json:"slots"`
	}
	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, path, client.Token, nil, &avail)
	s.metrics.Availability.Record(time.Since(start), status, err)
	if err != nil || len(avail.Slots) == 0 {
		return
	}

	slot := avail.Slots[rng.Intn(len(avail.Slots))]
	at, err := time.ParseInLocation(time.DateOnly+" 15:04", slot.Date+" "+slot.StartTime, s.config.Location)
	if err != nil {
		return
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	start = time.Now()
	status, err = s.do(ctx, http.MethodPost, "/appointments", client.Token, map[string]any{
		"therapist_id":     therapist.ID,
		"scheduled_at":     at,
		"duration_minutes": s.config.SlotMinutes,
	}, &created)
	s.metrics.Booking.Record(time.Since(start), status, err)
	if err == nil && status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(booked{ID: created.ID, Therapist: therapist})
	}
}

func (s *Simulator) doRespond(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	action := "accept"
	if rng.Intn(5) == 0 {
		action = "reject"
	}
	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/%s", b.ID, action), b.Therapist.Token, nil, nil)
	s.metrics.Respond.Record(time.Since(start), status, err)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, "/appointments/"+b.ID.String(), b.Therapist.Token, nil, nil)
	s.metrics.ReadByID.Record(time.Since(start), status, err)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	client := s.pool.Clients[rng.Intn(len(s.pool.Clients))]
	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, "/appointments?limit=20&offset=0", client.Token, nil, nil)
	s.metrics.List.Record(time.Since(start), status, err)
}

type apptView struct {
	ID          uuid.UUID `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	EndsAt      time.Time `json:"ends_at"`
	Status      string    `json:"status"`
}

// VerifyNoOverlap pages through every therapist's active appointments and
// counts pairs whose intervals intersect.
func (s *Simulator) VerifyNoOverlap(ctx context.Context) (int, error) {
	violations := 0
	for _, t := range s.pool.Therapists {
		var active []apptView
		for offset := 0; ; offset += 100 {
			var page struct {
				Appointments []apptView `json:"appointments"`
			}
			path := fmt.Sprintf("/appointments?therapist_id=%s&status=PENDING,CONFIRMED,PENDING_MODIFICATION,MODIFICATION_REJECTED&limit=100&offset=%d", t.ID, offset)
			status, err := s.do(ctx, http.MethodGet, path, s.pool.Admin.Token, nil, &page)
			if err != nil {
				return violations, err
			}
			if status != http.StatusOK {
				return violations, fmt.Errorf("list appointments for %s: status %d", t.ID, status)
			}
			active = append(active, page.Appointments...)
			if len(page.Appointments) < 100 {
				break
			}
		}

		slices.SortFunc(active, func(a, b apptView) int { return a.ScheduledAt.Compare(b.ScheduledAt) })
		for i := 1; i < len(active); i++ {
			if active[i].ScheduledAt.Before(active[i-1].EndsAt) {
				violations++
				s.logger.Error().
					Str("therapist_id", t.ID.String()).
					Str("first", active[i-1].ID.String()).
					Str("second", active[i].ID.String()).
					Msg("overlap")
			}
		}
	}
	return violations, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Accept/Reject", &s.metrics.Respond)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List", &s.metrics.List)
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
