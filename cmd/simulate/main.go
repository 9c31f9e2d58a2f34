package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/care-allocation-core/internal/api"
	"github.com/hackgods/care-allocation-core/internal/appointment"
	"github.com/hackgods/care-allocation-core/internal/config"
	"github.com/hackgods/care-allocation-core/internal/constraint"
	"github.com/hackgods/care-allocation-core/internal/db"
	"github.com/hackgods/care-allocation-core/internal/logger"
	"github.com/hackgods/care-allocation-core/internal/optimize"
	"github.com/hackgods/care-allocation-core/internal/schedule"
	"github.com/hackgods/care-allocation-core/internal/waitlist"
)

// SimConfig drives a contention run: many workers booking a small set of
// provider days so the resource-day locks and constraint checks are hit hard.
type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookRatio     float64
	CancelRatio   float64
	SuggestRatio  float64
	WaitlistRatio float64
	Days          int
	ProviderLimit int
	PostgresDSN   string
}

type DataPool struct {
	Providers []string

	mu           sync.Mutex
	appointments []string
}

func (dp *DataPool) AddAppointment(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

// TakeAppointment removes and returns a random booked appointment.
func (dp *DataPool) TakeAppointment(rng *rand.Rand) (string, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return "", false
	}
	i := rng.Intn(len(dp.appointments))
	id := dp.appointments[i]
	dp.appointments[i] = dp.appointments[len(dp.appointments)-1]
	dp.appointments = dp.appointments[:len(dp.appointments)-1]
	return id, true
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeRejected
	outcomeBusy
	outcomeError
)

type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64
	Busy      int64
	Error     int64
	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeOK:
		atomic.AddInt64(&om.Success, 1)
	case outcomeRejected:
		atomic.AddInt64(&om.Rejected, 1)
	case outcomeBusy:
		atomic.AddInt64(&om.Busy, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, p99 time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), pct(50), pct(95), pct(99)
}

type Metrics struct {
	Book     OperationMetrics
	Cancel   OperationMetrics
	Suggest  OperationMetrics
	Waitlist OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	days    []time.Time
	log     *zap.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	zl, err := logger.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		zl.Fatal("invalid simulator config", zap.Error(err))
	}

	zl.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("book", cfg.BookRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("suggest", cfg.SuggestRatio),
		zap.Float64("waitlist", cfg.WaitlistRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	scheds, err := appointment.NewPgStore(pgPool).ListSchedules(ctx)
	if err != nil {
		zl.Fatal("load schedules", zap.Error(err))
	}
	dataPool := &DataPool{}
	for id := range scheds {
		dataPool.Providers = append(dataPool.Providers, id)
	}
	sort.Strings(dataPool.Providers)
	if len(dataPool.Providers) > cfg.ProviderLimit {
		dataPool.Providers = dataPool.Providers[:cfg.ProviderLimit]
	}
	if len(dataPool.Providers) == 0 {
		zl.Fatal("no provider schedules found, run the seed first")
	}
	zl.Info("loaded providers", zap.Int("count", len(dataPool.Providers)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    zl,
	}
	for d := 1; len(sim.days) < cfg.Days; d++ {
		day := schedule.StartOfDay(time.Now()).AddDate(0, 0, d)
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			sim.days = append(sim.days, day)
		}
	}

	sim.Run()
	sim.PrintReport()

	if err := sim.VerifyNoDoubleBookings(context.Background()); err != nil {
		zl.Fatal("double booking check failed", zap.Error(err))
	}
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 16),
		BookRatio:     getFloat("SIM_BOOK_RATIO", 0.6),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.15),
		SuggestRatio:  getFloat("SIM_SUGGEST_RATIO", 0.15),
		WaitlistRatio: getFloat("SIM_WAITLIST_RATIO", 0.1),
		Days:          getInt("SIM_DAYS", 2),
		ProviderLimit: getInt("SIM_PROVIDER_LIMIT", 3),
		PostgresDSN:   base.PostgresDSN,
	}

	total := cfg.BookRatio + cfg.CancelRatio + cfg.SuggestRatio + cfg.WaitlistRatio
	if total > 0 {
		cfg.BookRatio /= total
		cfg.CancelRatio /= total
		cfg.SuggestRatio /= total
		cfg.WaitlistRatio /= total
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
	if cfg.Days <= 0 || cfg.ProviderLimit <= 0 {
		return fmt.Errorf("SIM_DAYS and SIM_PROVIDER_LIMIT must be > 0")
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.BookRatio:
			s.doBook(ctx, rng)
		case r < c.BookRatio+c.CancelRatio:
			s.doCancel(ctx, rng)
		case r < c.BookRatio+c.CancelRatio+c.SuggestRatio:
			s.doSuggest(ctx, rng)
		default:
			s.doWaitlist(ctx, rng)
		}
	}
}

func (s *Simulator) provider(rng *rand.Rand) string {
	return s.pool.Providers[rng.Intn(len(s.pool.Providers))]
}

// doBook aims at a narrow set of quarter-hour starts so requests collide.
func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	day := s.days[rng.Intn(len(s.days))]
	req := appointment.BookingRequest{
		ProviderID:      s.provider(rng),
		PatientID:       fmt.Sprintf("sim-%06d", rng.Intn(1_000_000)),
		Start:           schedule.At(9+rng.Intn(4), 15*rng.Intn(4)).On(day),
		DurationMinutes: 30,
	}

	start := time.Now()
	status, body, err := s.call(ctx, http.MethodPost, "/appointments", req)
	latency := time.Since(start)

	switch {
	case err != nil:
		s.metrics.Book.Record(latency, outcomeError)
	case status == http.StatusCreated:
		var b appointment.Booking
		if json.Unmarshal(body, &b) == nil && b.Appointment != nil {
			s.pool.AddAppointment(b.Appointment.ID)
		}
		s.metrics.Book.Record(latency, outcomeOK)
	case status == http.StatusUnprocessableEntity:
		s.metrics.Book.Record(latency, outcomeRejected)
	case status == http.StatusConflict:
		s.metrics.Book.Record(latency, outcomeBusy)
	default:
		s.metrics.Book.Record(latency, outcomeError)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodPost, "/appointments/"+id+"/cancel", nil)
	s.metrics.Cancel.Record(time.Since(start), simpleOutcome(status, err))
}

func (s *Simulator) doSuggest(ctx context.Context, rng *rand.Rand) {
	req := api.SuggestRequest{SlotRequest: optimize.SlotRequest{
		ProviderIDs:     []string{s.provider(rng), s.provider(rng)},
		DurationMinutes: 30,
		FillGaps:        true,
		BalanceLoad:     rng.Intn(2) == 0,
	}}

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodPost, "/slots/suggest", req)
	s.metrics.Suggest.Record(time.Since(start), simpleOutcome(status, err))
}

func (s *Simulator) doWaitlist(ctx context.Context, rng *rand.Rand) {
	tiers := []waitlist.Priority{waitlist.PriorityLow, waitlist.PriorityMedium, waitlist.PriorityHigh, waitlist.PriorityUrgent}
	req := api.AddWaitlistRequest{
		PatientID:           fmt.Sprintf("sim-wait-%06d", rng.Intn(1_000_000)),
		PreferredProviderID: s.provider(rng),
		Priority:            tiers[rng.Intn(len(tiers))],
	}

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodPost, "/waitlist", req)
	s.metrics.Waitlist.Record(time.Since(start), simpleOutcome(status, err))
}

func simpleOutcome(status int, err error) outcome {
	switch {
	case err != nil:
		return outcomeError
	case status >= 200 && status < 300:
		return outcomeOK
	case status == http.StatusConflict:
		return outcomeBusy
	default:
		return outcomeError
	}
}

func (s *Simulator) call(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, r)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, err
}

// VerifyNoDoubleBookings asks the server for conflicts on every simulated
// day in parallel and fails if any provider ended up double booked.
func (s *Simulator) VerifyNoDoubleBookings(ctx context.Context) error {
	found := make([]int, len(s.days))
	g, gctx := errgroup.WithContext(ctx)
	for i, day := range s.days {
		i, day := i, day // per-iteration copies (go 1.21 loop semantics)
		g.Go(func() error {
			status, body, err := s.call(gctx, http.MethodPost, "/appointments/conflicts", api.ConflictsRequest{
				ProviderIDs: s.pool.Providers,
				From:        day,
				To:          day.AddDate(0, 0, 1),
			})
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("conflict check for %s returned %d", day.Format(time.DateOnly), status)
			}
			var resp api.ConflictsResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return err
			}
			for _, c := range resp.Conflicts {
				if c.Type == constraint.ConflictDoubleBooking {
					found[i]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total := 0
	for _, n := range found {
		total += n
	}
	if total > 0 {
		return fmt.Errorf("%d double bookings detected", total)
	}
	s.log.Info("no double bookings detected", zap.Int("days", len(s.days)))
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("CONTENTION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Providers: %d  Days: %d\n", len(s.pool.Providers), len(s.days))
	fmt.Println()

	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Suggest", &s.metrics.Suggest)
	printOperationReport("Waitlist add", &s.metrics.Waitlist)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success := atomic.LoadInt64(&om.Success)
	rejected := atomic.LoadInt64(&om.Rejected)
	busy := atomic.LoadInt64(&om.Busy)
	errs := atomic.LoadInt64(&om.Error)
	avg, p50, p95, p99 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if rejected > 0 {
		fmt.Printf("  Rejected by constraints: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if busy > 0 {
		fmt.Printf("  Provider day busy: %d (%.1f%%)\n", busy, pct(busy))
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, pct(errs))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s p99=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), p99.Round(time.Millisecond))
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
