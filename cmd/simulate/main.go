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
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	TransitionRatio float64
	ReadRatio       float64
	PatientLimit    int
	DoctorLimit     int
	HorizonDays     int
	RaceConcurrency int
}

type doctorInfo struct {
	ID           uuid.UUID
	DepartmentID uuid.UUID
	Template     *appointment.AvailabilityTemplate
}

type booked struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
}

type DataPool struct {
	Patients     []uuid.UUID
	Doctors      []doctorInfo
	Admin        uuid.UUID
	mu           sync.RWMutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeConflict
	outcomeError
)

// classify maps a response to an outcome. 409 and 403 are the scheduler
// refusing the request, which under contention is expected.
func classify(resp *http.Response, err error, want int) outcome {
	switch {
	case err != nil:
		return outcomeError
	case resp.StatusCode == want:
		return outcomeOK
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusForbidden:
		return outcomeConflict
	default:
		return outcomeError
	}
}

type opStats struct {
	counts    [3]int
	latencies []time.Duration
}

// tally collects per-operation outcomes and latencies.
type tally struct {
	mu    sync.Mutex
	order []string
	ops   map[string]*opStats
}

func newTally(ops ...string) *tally {
	t := &tally{order: ops, ops: make(map[string]*opStats, len(ops))}
	for _, op := range ops {
		t.ops[op] = &opStats{}
	}
	return t
}

func (t *tally) add(op string, o outcome, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.ops[op]
	st.counts[o]++
	st.latencies = append(st.latencies, d)
}

func (t *tally) report(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tTOTAL\tOK\tREFUSED\tERRORS\tAVG\tP50\tP95\tMAX")
	for _, op := range t.order {
		st := t.ops[op]
		n := len(st.latencies)
		if n == 0 {
			continue
		}
		lat := slices.Clone(st.latencies)
		slices.Sort(lat)
		var sum time.Duration
		for _, l := range lat {
			sum += l
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\n", op, n,
			st.counts[outcomeOK], st.counts[outcomeConflict], st.counts[outcomeError],
			(sum / time.Duration(n)).Round(time.Millisecond),
			percentile(lat, 50).Round(time.Millisecond),
			percentile(lat, 95).Round(time.Millisecond),
			lat[n-1].Round(time.Millisecond))
	}
	_ = tw.Flush()
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	i := len(sorted) * p / 100
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

const (
	opBook       = "book"
	opTransition = "transition"
	opGet        = "get"
	opList       = "list"
	opSlots      = "available-slots"
)

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	secret  []byte
	stats   *tally
	log     zerolog.Logger

	tokenMu sync.Mutex
	tokens  map[uuid.UUID]string
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "prod")
		boot.Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.New(baseCfg.LogLevel, baseCfg.Env).With().Str("service", "simulate").Logger()

	cfg := loadConfig()
	if err := validateConfig(cfg, baseCfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("transition", cfg.TransitionRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		pgPool.Close()
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("patients", len(dataPool.Patients)).Int("doctors", len(dataPool.Doctors)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		secret: []byte(baseCfg.JWTSecret),
		log:    logger,
		tokens: make(map[uuid.UUID]string),
		stats:  newTally(opBook, opTransition, opGet, opList, opSlots),
	}

	sim.RunSlotRace()
	sim.Run()

	fmt.Printf("\nsimulated %s with %d workers against %s\n\n", cfg.Duration, cfg.Workers, cfg.APIBaseURL)
	sim.stats.report(os.Stdout)
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:      env("SIM_API_BASE_URL", "http://localhost:8080", asString),
		Duration:        env("SIM_DURATION", 30*time.Second, time.ParseDuration),
		Workers:         env("SIM_WORKERS", 10, strconv.Atoi),
		BookingRatio:    env("SIM_BOOKING_RATIO", 0.5, asFloat),
		TransitionRatio: env("SIM_TRANSITION_RATIO", 0.2, asFloat),
		ReadRatio:       env("SIM_READ_RATIO", 0.3, asFloat),
		PatientLimit:    env("SIM_PATIENT_LIMIT", 4000, strconv.Atoi),
		DoctorLimit:     env("SIM_DOCTOR_LIMIT", 100, strconv.Atoi),
		HorizonDays:     env("SIM_HORIZON_DAYS", 14, strconv.Atoi),
		RaceConcurrency: env("SIM_RACE_CONCURRENCY", 32, strconv.Atoi),
	}

	total := cfg.BookingRatio + cfg.TransitionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.TransitionRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig, base config.Config) error {
	if base.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to mint simulation tokens")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HorizonDays <= 0 {
		return fmt.Errorf("SIM_HORIZON_DAYS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients WHERE active LIMIT $1`, cfg.PatientLimit)
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

	rows, err = pool.Query(ctx, `SELECT id, department_id FROM doctors WHERE active LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for rows.Next() {
		var d doctorInfo
		if err := rows.Scan(&d.ID, &d.DepartmentID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, d)
	}
	rows.Close()

	dir := appointment.NewPgDirectory(pool)
	for i := range dataPool.Doctors {
		tmpl, err := dir.GetTemplate(ctx, dataPool.Doctors[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load template: %w", err)
		}
		dataPool.Doctors[i].Template = tmpl
	}

	admins, err := dir.ListAdminIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load admins: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}
	if len(admins) == 0 {
		return nil, fmt.Errorf("no admins loaded")
	}
	dataPool.Admin = admins[0]
	return dataPool, nil
}

func (s *Simulator) token(actor appointment.Actor) string {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if tok, ok := s.tokens[actor.ID]; ok {
		return tok
	}
	tok, err := api.IssueToken(s.secret, actor, 2*s.config.Duration+time.Hour)
	if err != nil {
		s.log.Fatal().Err(err).Msg("mint token")
	}
	s.tokens[actor.ID] = tok
	return tok
}

func (s *Simulator) do(ctx context.Context, actor appointment.Actor, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token(actor))
	return s.client.Do(req)
}

// pickSlot chooses a random template slot for doc within the horizon.
func (s *Simulator) pickSlot(rng *rand.Rand, doc doctorInfo) (time.Time, string, bool) {
	today := appointment.DateOnly(time.Now(), time.UTC)
	for attempt := 0; attempt < 7; attempt++ {
		day := today.AddDate(0, 0, 1+rng.Intn(s.config.HorizonDays))
		slots := doc.Template.SlotsFor(day)
		if len(slots) > 0 {
			return day, slots[rng.Intn(len(slots))], true
		}
	}
	return time.Time{}, "", false
}

// RunSlotRace fires concurrent bookings at one slot. Exactly one must win.
func (s *Simulator) RunSlotRace() {
	if s.config.RaceConcurrency <= 0 {
		return
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	doc := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	day, slot, ok := s.pickSlot(rng, doc)
	if !ok {
		s.log.Warn().Msg("slot race skipped: doctor has no slots in horizon")
		return
	}

	var created, conflicts, other int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < s.config.RaceConcurrency; i++ {
		patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, err := s.do(context.Background(), appointment.Actor{ID: patient, Role: appointment.RolePatient},
				http.MethodPost, "/appointments", bookingBody(doc, day, slot))
			if err != nil {
				atomic.AddInt64(&other, 1)
				return
			}
			defer resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusCreated:
				atomic.AddInt64(&created, 1)
			case http.StatusConflict:
				atomic.AddInt64(&conflicts, 1)
			default:
				atomic.AddInt64(&other, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	ev := s.log.Info()
	if created > 1 {
		ev = s.log.Error()
	}
	ev.Str("doctor_id", doc.ID.String()).
		Str("date", day.Format(time.DateOnly)).
		Str("slot", slot).
		Int64("created", created).
		Int64("conflicts", conflicts).
		Int64("other", other).
		Msg("slot race finished")
}

func bookingBody(doc doctorInfo, day time.Time, slot string) api.BookAppointmentRequest {
	return api.BookAppointmentRequest{
		DoctorID:        doc.ID.String(),
		DepartmentID:    doc.DepartmentID.String(),
		AppointmentDate: day.Format(time.DateOnly),
		TimeSlot:        slot,
		Reason:          "simulated visit",
	}
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

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
			case r < s.config.BookingRatio+s.config.TransitionRatio:
				s.doTransition(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doList(ctx, rng)
				case 2:
					s.doSlots(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doc := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	day, slot, ok := s.pickSlot(rng, doc)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.do(ctx, s.randomPatient(rng), http.MethodPost, "/appointments", bookingBody(doc, day, slot))
	o := classify(resp, err, http.StatusCreated)
	s.stats.add(opBook, o, time.Since(start))
	if err != nil {
		return
	}
	defer resp.Body.Close()

	if o == outcomeOK {
		var out api.AppointmentResponse
		if json.NewDecoder(resp.Body).Decode(&out) == nil && out.ID != uuid.Nil {
			s.pool.AddAppointment(booked{ID: out.ID, DoctorID: doc.ID})
		}
	}
}

// doTransition has the doctor cancel or the admin reject a booked visit.
// Repeats against a terminal appointment are refused.
func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	actor := appointment.Actor{ID: b.DoctorID, Role: appointment.RoleDoctor}
	body := api.TransitionRequest{Status: string(appointment.StatusCancelled), Reason: "Doctor unavailable"}
	if rng.Intn(2) == 0 {
		actor = s.admin()
		body = api.TransitionRequest{Status: string(appointment.StatusRejected), Reason: "simulated rejection"}
	}

	s.timed(opTransition, http.StatusOK, func() (*http.Response, error) {
		return s.do(ctx, actor, http.MethodPost, "/appointments/"+b.ID.String()+"/transitions", body)
	})
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.timed(opGet, http.StatusOK, func() (*http.Response, error) {
		return s.do(ctx, s.admin(), http.MethodGet, "/appointments/"+b.ID.String(), nil)
	})
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	patient := s.randomPatient(rng)
	s.timed(opList, http.StatusOK, func() (*http.Response, error) {
		return s.do(ctx, patient, http.MethodGet, "/appointments?page=1&page_size=20", nil)
	})
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	doc := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	day, _, ok := s.pickSlot(rng, doc)
	if !ok {
		return
	}
	patient := s.randomPatient(rng)
	path := fmt.Sprintf("/doctors/%s/available-slots?date=%s", doc.ID, day.Format(time.DateOnly))
	s.timed(opSlots, http.StatusOK, func() (*http.Response, error) {
		return s.do(ctx, patient, http.MethodGet, path, nil)
	})
}

// timed runs call, records its outcome under op and discards the body.
func (s *Simulator) timed(op string, want int, call func() (*http.Response, error)) {
	start := time.Now()
	resp, err := call()
	s.stats.add(op, classify(resp, err, want), time.Since(start))
	if err == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func (s *Simulator) randomPatient(rng *rand.Rand) appointment.Actor {
	return appointment.Actor{ID: s.pool.Patients[rng.Intn(len(s.pool.Patients))], Role: appointment.RolePatient}
}

func (s *Simulator) admin() appointment.Actor {
	return appointment.Actor{ID: s.pool.Admin, Role: appointment.RoleAdmin}
}

// env reads key through parse, falling back to def when unset or invalid.
func env[T any](key string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func asString(v string) (string, error) { return v, nil }

func asFloat(v string) (float64, error) { return strconv.ParseFloat(v, 64) }
