package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"go.uber.org/zap"

	"github.com/hackgods/care-allocation-core/internal/appointment"
	"github.com/hackgods/care-allocation-core/internal/clock"
	"github.com/hackgods/care-allocation-core/internal/config"
	"github.com/hackgods/care-allocation-core/internal/constraint"
	"github.com/hackgods/care-allocation-core/internal/db"
	"github.com/hackgods/care-allocation-core/internal/logger"
	redisclient "github.com/hackgods/care-allocation-core/internal/redis"
	"github.com/hackgods/care-allocation-core/internal/schedule"
	"github.com/hackgods/care-allocation-core/internal/waitlist"
)

var appointmentTypes = []string{
	"consultation",
	"follow-up",
	"procedure",
	"telehealth",
	"screening",
}

var priorities = []waitlist.Priority{
	waitlist.PriorityLow,
	waitlist.PriorityMedium,
	waitlist.PriorityMedium,
	waitlist.PriorityHigh,
	waitlist.PriorityUrgent,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	providers := envInt("SEED_PROVIDERS", 20)
	bookings := envInt("SEED_APPOINTMENTS", 400)
	waiting := envInt("SEED_WAITLIST", 150)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		zl.Fatal("ensure schema", zap.Error(err))
	}

	gofakeit.Seed(time.Now().UnixNano())

	store := appointment.NewPgStore(pool)
	ids, err := seedSchedules(ctx, store, providers)
	if err != nil {
		zl.Fatal("seed schedules", zap.Error(err))
	}
	zl.Info("schedules seeded", zap.Int("count", len(ids)))

	svc := appointment.NewService(store, redisclient.NewLocalLocker(), constraint.NewEngine(), clock.Real(), zap.NewNop())
	booked := seedAppointments(ctx, svc, ids, bookings)
	zl.Info("appointments seeded", zap.Int("attempted", bookings), zap.Int("booked", booked))

	wl, err := waitlist.NewEngine(waitlist.NewPgRepository(pool), clock.Real(), waitlist.DefaultConfig(), zap.NewNop())
	if err != nil {
		zl.Fatal("waitlist engine", zap.Error(err))
	}
	if err := seedWaitlist(ctx, wl, ids, waiting); err != nil {
		zl.Fatal("seed waitlist", zap.Error(err))
	}
	zl.Info("waitlist seeded", zap.Int("count", waiting))

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		}, zl)
		if err != nil {
			zl.Fatal("connect redis", zap.Error(err))
		}
		defer rdb.Close()
		n, err := seedTravel(ctx, redisclient.NewTravelStore(rdb), providers)
		if err != nil {
			zl.Fatal("seed travel times", zap.Error(err))
		}
		zl.Info("travel times seeded", zap.Int("routes", n))
	}

	zl.Info("seed complete")
}

func location(i int) string {
	return fmt.Sprintf("site-%02d", i%5)
}

func seedSchedules(ctx context.Context, store appointment.Store, count int) ([]string, error) {
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("dr-%s-%03d", gofakeit.LastName(), i)
		open := schedule.At(gofakeit.Number(7, 10), 0)
		closeAt := open + schedule.At(gofakeit.Number(6, 9), 0)

		s := schedule.Schedule{
			ProviderID:    id,
			BufferMinutes: []int{0, 0, 5, 10}[gofakeit.Number(0, 3)],
			MaxConcurrent: gofakeit.Number(1, 2),
			Location:      location(i),
		}
		for d := time.Monday; d <= time.Friday; d++ {
			if gofakeit.Number(0, 9) == 0 {
				continue
			}
			s.Windows = append(s.Windows,
				schedule.TimeWindow{Day: d, Start: open, End: schedule.At(12, 0), Available: true},
				schedule.TimeWindow{Day: d, Start: schedule.At(13, 0), End: closeAt, Available: true},
			)
		}
		if gofakeit.Bool() {
			off := time.Now().AddDate(0, 0, gofakeit.Number(1, 30))
			s.Exceptions = append(s.Exceptions, schedule.Exception{
				Date:   schedule.StartOfDay(off),
				Reason: "leave",
			})
		}

		if err := store.PutSchedule(ctx, s); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// seedAppointments books through the service so every row passes the
// same constraints a live booking would. Rejections are skipped.
func seedAppointments(ctx context.Context, svc *appointment.Service, providers []string, count int) int {
	today := schedule.StartOfDay(time.Now())
	booked := 0
	for i := 0; i < count; i++ {
		day := today.AddDate(0, 0, gofakeit.Number(1, 21))
		start := schedule.At(gofakeit.Number(8, 16), []int{0, 15, 30, 45}[gofakeit.Number(0, 3)]).On(day)

		b, err := svc.Book(ctx, appointment.BookingRequest{
			ProviderID:      providers[gofakeit.Number(0, len(providers)-1)],
			PatientID:       gofakeit.UUID(),
			Start:           start,
			DurationMinutes: []int{15, 30, 30, 45, 60}[gofakeit.Number(0, 4)],
			Type:            appointmentTypes[gofakeit.Number(0, len(appointmentTypes)-1)],
		})
		if err != nil || b.Appointment == nil {
			continue
		}
		booked++
	}
	return booked
}

func seedWaitlist(ctx context.Context, wl *waitlist.Engine, providers []string, count int) error {
	bands := []waitlist.TimeOfDay{waitlist.AnyTime, waitlist.Morning, waitlist.Afternoon}
	for i := 0; i < count; i++ {
		e := waitlist.Entry{
			PatientID:          gofakeit.UUID(),
			AppointmentType:    appointmentTypes[gofakeit.Number(0, len(appointmentTypes)-1)],
			Reason:             gofakeit.BuzzWord(),
			DurationMinutes:    []int{15, 30, 45}[gofakeit.Number(0, 2)],
			PreferredTimeOfDay: bands[gofakeit.Number(0, len(bands)-1)],
			Priority:           priorities[gofakeit.Number(0, len(priorities)-1)],
			AddedAt:            time.Now().Add(-time.Duration(gofakeit.Number(0, 240)) * time.Hour),
		}
		switch gofakeit.Number(0, 3) {
		case 0:
			e.ProviderID = providers[gofakeit.Number(0, len(providers)-1)]
		case 1:
			e.PreferredProviderID = providers[gofakeit.Number(0, len(providers)-1)]
		}
		if _, err := wl.Add(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func seedTravel(ctx context.Context, store *redisclient.TravelStore, providers int) (int, error) {
	sites := min(providers, 5)
	n := 0
	for i := 0; i < sites; i++ {
		for j := i + 1; j < sites; j++ {
			if err := store.SetTravelMinutes(ctx, location(i), location(j), gofakeit.Number(10, 60)); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
