package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/therapy-scheduling/internal/app"
	"github.com/hackgods/therapy-scheduling/internal/appointment"
	"github.com/hackgods/therapy-scheduling/internal/auth"
	"github.com/hackgods/therapy-scheduling/internal/config"
	"github.com/hackgods/therapy-scheduling/internal/logging"
)

// Party is a seeded identity plus a bearer token for it.
type Party struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"`
	Token string    `json:"token"`
}

// Fixture is what the seeder writes out for the simulator.
type Fixture struct {
	Admin      Party   `json:"admin"`
	Therapists []Party `json:"therapists"`
	Clients    []Party `json:"clients"`
}

var blockReasons = []string{"Supervision", "Training", "Team meeting", "Personal leave", "Case review"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "prod")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "seed").Logger()

	if cfg.JWTSecret == "" {
		logger.Fatal().Msg("JWT_SECRET is required to issue fixture tokens")
	}

	therapists := getInt("SEED_THERAPISTS", 20)
	clients := getInt("SEED_CLIENTS", 200)
	out := getEnv("SEED_OUT", "seed.json")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()

	gofakeit.Seed(time.Now().UnixNano())
	issuer := auth.NewResolver(cfg.JWTSecret, cfg.JWTIssuer)

	admin := appointment.Actor{ID: uuid.New(), Role: appointment.RoleAdmin}
	fx := Fixture{Admin: party(issuer, admin, "Administrator", "")}

	today := civil.DateOf(time.Now().In(rt.Service.Location()))
	for i := 0; i < therapists; i++ {
		actor := appointment.Actor{ID: uuid.New(), Role: appointment.RoleTherapist}
		if err := seedSchedule(ctx, rt.Service, admin, actor.ID, today); err != nil {
			logger.Fatal().Err(err).Str("therapist_id", actor.ID.String()).Msg("seed schedule")
		}
		fx.Therapists = append(fx.Therapists, party(issuer, actor, gofakeit.Name(), gofakeit.Email()))
	}
	logger.Info().Int("count", therapists).Msg("therapists seeded")

	for i := 0; i < clients; i++ {
		actor := appointment.Actor{ID: uuid.New(), Role: appointment.RoleClient}
		fx.Clients = append(fx.Clients, party(issuer, actor, gofakeit.Name(), gofakeit.Email()))
	}

	if err := writeFixture(out, fx); err != nil {
		logger.Fatal().Err(err).Msg("write fixture")
	}
	logger.Info().Str("file", out).Int("clients", clients).Msg("seed complete")
}

// seedSchedule gives a therapist weekday working hours and a couple of blocks
// over the next two weeks.
func seedSchedule(ctx context.Context, svc *appointment.Service, admin appointment.Actor, therapistID uuid.UUID, today civil.Date) error {
	start := civil.Time{Hour: gofakeit.Number(8, 10)}
	end := civil.Time{Hour: gofakeit.Number(16, 18)}
	buffer := []int{0, 5, 10, 15}[gofakeit.Number(0, 3)]

	for dow := 0; dow < 5; dow++ {
		_, err := svc.CreateRule(ctx, admin, therapistID, appointment.RuleInput{
			DayOfWeek:     dow,
			StartTime:     start,
			EndTime:       end,
			EffectiveDate: today,
			BufferMinutes: buffer,
			IsActive:      true,
		})
		if err != nil {
			return fmt.Errorf("rule for day %d: %w", dow, err)
		}
	}

	for i := 0; i < 2; i++ {
		day := today.AddDays(gofakeit.Number(1, 14))
		hour := gofakeit.Number(start.Hour, end.Hour-1)
		_, err := svc.CreateBlockedSlot(ctx, admin, therapistID, appointment.BlockedSlotInput{
			Date:      day,
			StartTime: civil.Time{Hour: hour},
			EndTime:   civil.Time{Hour: hour + 1},
			Reason:    gofakeit.RandomString(blockReasons),
			IsActive:  true,
		})
		if err != nil {
			return fmt.Errorf("blocked slot on %s: %w", day, err)
		}
	}
	return nil
}

func party(issuer *auth.Resolver, actor appointment.Actor, name, email string) Party {
	token, err := issuer.Issue(actor, 30*24*time.Hour)
	if err != nil {
		// HS256 signing only fails on an empty key, which main rules out.
		panic(err)
	}
	return Party{ID: actor.ID, Name: name, Email: email, Token: token}
}

func writeFixture(path string, fx Fixture) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fx); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
