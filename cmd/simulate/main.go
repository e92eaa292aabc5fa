package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/hackgods/govease-queue/internal/api"
	"github.com/hackgods/govease-queue/internal/logger"
	"github.com/hackgods/govease-queue/internal/logger/sl"
	"github.com/hackgods/govease-queue/internal/token"
)

type SimConfig struct {
	APIBaseURL  string        `env:"SIM_API_BASE_URL" env-default:"http://localhost:8080"`
	CenterID    string        `env:"SIM_CENTER_ID" env-default:"C1"`
	Departments []string      `env:"SIM_DEPARTMENTS" env-separator:"," env-default:"OPD,Lab"`
	Burst       int           `env:"SIM_BURST" env-default:"200"`
	Duration    time.Duration `env:"SIM_DURATION" env-default:"30s"`
	Workers     int           `env:"SIM_WORKERS" env-default:"10"`
	CreateRatio float64       `env:"SIM_CREATE_RATIO" env-default:"0.4"`
	AdminRatio  float64       `env:"SIM_ADMIN_RATIO" env-default:"0.3"`
	ReadRatio   float64       `env:"SIM_READ_RATIO" env-default:"0.3"`
	Env         string        `env:"APP_ENV" env-default:"dev"`
}

// tokenPool remembers created tokens for the admin and read operations.
type tokenPool struct {
	mu  sync.RWMutex
	ids []uuid.UUID
}

func (p *tokenPool) Add(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
}

func (p *tokenPool) Random(rng *rand.Rand) (uuid.UUID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.ids) == 0 {
		return uuid.Nil, false
	}
	return p.ids[rng.Intn(len(p.ids))], true
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
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
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
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Create   OperationMetrics
	Admin    OperationMetrics
	Progress OperationMetrics
	Stats    OperationMetrics
	List     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	log     *slog.Logger
	pool    tokenPool
	client  *http.Client
	metrics Metrics
}

func main() {
	_ = godotenv.Load()

	var cfg SimConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("read simulator config", sl.Err(err))
		os.Exit(1)
	}
	log := logger.Setup(cfg.Env, "info")

	if err := validateConfig(&cfg); err != nil {
		log.Error("invalid config", sl.Err(err))
		os.Exit(1)
	}

	log.Info("simulator starting",
		slog.String("api", cfg.APIBaseURL),
		slog.String("center_id", cfg.CenterID),
		slog.Int("burst", cfg.Burst),
		slog.Duration("duration", cfg.Duration),
		slog.Int("workers", cfg.Workers),
	)

	sim := &Simulator{
		config: cfg,
		log:    log,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	burstDept := fmt.Sprintf("sim-%s", uuid.NewString()[:8])
	ok := sim.Burst(context.Background(), burstDept)

	sim.Run()
	sim.PrintReport()

	if !ok {
		os.Exit(2)
	}
}

func validateConfig(cfg *SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Burst < 0 {
		return fmt.Errorf("SIM_BURST must be >= 0")
	}
	if len(cfg.Departments) == 0 {
		return fmt.Errorf("SIM_DEPARTMENTS must name at least one department")
	}

	total := cfg.CreateRatio + cfg.AdminRatio + cfg.ReadRatio
	if total <= 0 {
		return fmt.Errorf("operation ratios must add up to more than 0")
	}
	cfg.CreateRatio /= total
	cfg.AdminRatio /= total
	cfg.ReadRatio /= total
	return nil
}

// Burst books cfg.Burst tokens into a fresh department all at once and checks
// that the numbers handed out are exactly 1..Burst.
func (s *Simulator) Burst(ctx context.Context, department string) bool {
	n := s.config.Burst
	if n == 0 {
		return true
	}

	s.log.Info("burst booking", slog.String("department", department), slog.Int("requests", n))

	numbers := make(chan int, n)
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			t, status, latency, err := s.createToken(ctx, department)
			s.metrics.Create.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusServiceUnavailable)
			if err != nil || status != http.StatusCreated {
				s.log.Warn("burst booking failed", slog.Int("status", status), sl.Err(err))
				return
			}
			s.pool.Add(t.ID)
			numbers <- t.TokenNumber
		}()
	}
	close(start)
	wg.Wait()
	close(numbers)

	seen := make(map[int]int, n)
	for num := range numbers {
		seen[num]++
	}

	var duplicates, missing []int
	for i := 1; i <= n; i++ {
		switch seen[i] {
		case 0:
			missing = append(missing, i)
		case 1:
		default:
			duplicates = append(duplicates, i)
		}
	}
	var outOfRange int
	for num := range seen {
		if num < 1 || num > n {
			outOfRange++
		}
	}

	if len(duplicates) > 0 || len(missing) > 0 || outOfRange > 0 {
		s.log.Error("burst numbering broken",
			slog.Any("duplicates", duplicates),
			slog.Any("missing", missing),
			slog.Int("out_of_range", outOfRange),
		)
		return false
	}

	s.log.Info("burst numbering ok", slog.Int("tokens", n))
	return true
}

func (s *Simulator) Run() {
	if s.config.Duration <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("mixed load", slog.Duration("duration", s.config.Duration), slog.Int("workers", s.config.Workers))

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

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.CreateRatio:
			s.doCreate(ctx, rng)
		case r < s.config.CreateRatio+s.config.AdminRatio:
			s.doAdmin(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doProgress(ctx, rng)
			case 1:
				s.doStats(ctx)
			case 2:
				s.doList(ctx)
			}
		}
	}
}

func (s *Simulator) createToken(ctx context.Context, department string) (*token.Token, int, time.Duration, error) {
	body, _ := json.Marshal(api.CreateTokenRequest{
		CenterID:   s.config.CenterID,
		Department: department,
		Name:       "Simulated Visitor",
		Phone:      "5550000",
		Purpose:    "load test",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/tokens", bytes.NewReader(body))
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, 0, latency, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, resp.StatusCode, latency, nil
	}

	var t token.Token
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, resp.StatusCode, latency, err
	}
	return &t, resp.StatusCode, latency, nil
}

func (s *Simulator) doCreate(ctx context.Context, rng *rand.Rand) {
	dept := s.config.Departments[rng.Intn(len(s.config.Departments))]

	t, status, latency, err := s.createToken(ctx, dept)
	if ctx.Err() != nil {
		return
	}
	success := err == nil && status == http.StatusCreated
	if success {
		s.pool.Add(t.ID)
	}
	s.metrics.Create.Record(latency, success, status == http.StatusServiceUnavailable)
}

// doAdmin sends a random lifecycle action. Conflicts are expected: several
// workers act on the same tokens and only legal transitions succeed.
func (s *Simulator) doAdmin(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.Random(rng)
	if !ok {
		return
	}
	action := []string{"approve", "reject", "clear"}[rng.Intn(3)]

	status, latency, err := s.send(ctx, http.MethodPatch, fmt.Sprintf("/admin/tokens/%s/%s", id, action))
	if ctx.Err() != nil {
		return
	}
	s.metrics.Admin.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doProgress(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.Random(rng)
	if !ok {
		return
	}
	status, latency, err := s.send(ctx, http.MethodGet, fmt.Sprintf("/tokens/%s/progress", id))
	if ctx.Err() != nil {
		return
	}
	s.metrics.Progress.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doStats(ctx context.Context) {
	status, latency, err := s.send(ctx, http.MethodGet, fmt.Sprintf("/centers/%s/stats", s.config.CenterID))
	if ctx.Err() != nil {
		return
	}
	s.metrics.Stats.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doList(ctx context.Context) {
	status, latency, err := s.send(ctx, http.MethodGet, fmt.Sprintf("/tokens?centerId=%s&order=newest&limit=20", s.config.CenterID))
	if ctx.Err() != nil {
		return
	}
	s.metrics.List.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) send(ctx context.Context, method, path string) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, nil)
	if err != nil {
		return 0, 0, err
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	resp.Body.Close()
	return resp.StatusCode, latency, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Center: %s\n", s.config.CenterID)
	fmt.Printf("Burst: %d\n", s.config.Burst)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Create token", &s.metrics.Create)
	printOperationReport("Admin action", &s.metrics.Admin)
	printOperationReport("Progress", &s.metrics.Progress)
	printOperationReport("Center stats", &s.metrics.Stats)
	printOperationReport("List recent", &s.metrics.List)
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
