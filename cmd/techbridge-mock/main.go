// Command techbridge-mock serves a fake eModul API seeded with a heating
// controller and a recuperation unit whose readings drift over time. Point
// techbridge at it with --tech-api-url for local development.
package main

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/tech/techmock"
	"github.com/techbridge/techbridge/pkg/types"
)

const (
	heatingUDID      = "mock-heating"
	recuperationUDID = "mock-recuperation"
)

type zoneSim struct {
	id      int
	name    string
	current int
	target  int
}

func main() {
	username := lflag.String("mock-username", "user", "Username accepted by the mock")
	password := lflag.String("mock-password", "pass", "Password accepted by the mock")
	drift := lflag.Duration("mock-drift-interval", 30*time.Second, "How often readings change")
	lflag.Configure()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := techmock.New()
	defer srv.Close()
	srv.Username = *username
	srv.Password = *password

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	zones := []*zoneSim{
		{id: 1, name: "Living room", current: 205, target: 215},
		{id: 2, name: "Bedroom", current: 190, target: 195},
		{id: 3, name: "Bathroom", current: 225, target: 230},
	}

	srv.AddModule(types.Module{ID: 1, UDID: heatingUDID, Name: "L-8", Type: "eu", Version: "1.0.0", Default: true}, nil, nil)
	srv.AddModule(types.Module{ID: 2, UDID: recuperationUDID, Name: "ST-1400", Type: "eu", Version: "1.0.0"}, nil, nil)
	srv.SetTranslations("en", map[string]string{
		"205":  "Fire sensor",
		"961":  "Fuel",
		"991":  "Valve",
		"4135": "Recuperation",
		"6131": "Supply flow",
		"6132": "Exhaust flow",
		"6133": "Bypass flow",
	})
	seed(srv, rng, zones)

	log.Ctx(ctx).InfoContext(ctx, "mock eModul api running", slog.String("url", srv.BaseURL()), slog.String("username", *username))

	ticker := time.NewTicker(*drift)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).InfoContext(ctx, "mock stopped")
			return
		case <-ticker.C:
			seed(srv, rng, zones)
		}
	}
}

// seed moves each zone a little toward its target and publishes fresh module
// data.
func seed(srv *techmock.Server, rng *rand.Rand, zones []*zoneSim) {
	var elements []any
	for _, z := range zones {
		switch {
		case z.current < z.target:
			z.current += rng.Intn(3)
		case z.current > z.target:
			z.current -= rng.Intn(3)
		}
		z.current += rng.Intn(3) - 1
		state := types.ZoneStateOn
		if z.current >= z.target {
			state = types.ZoneStateOff
		}
		elements = append(elements, techmock.Zone(z.id, z.name, state, z.current, z.target))
	}
	outdoor := 50 + rng.Intn(100)
	srv.SetModuleData(heatingUDID, elements, []any{
		techmock.Tile(10, types.TileTypeTemperature, true, map[string]any{"value": outdoor, "batteryLevel": 90}),
		techmock.Tile(11, types.TileTypeValve, true, map[string]any{
			"valveNumber": 1, "openingPercentage": rng.Intn(101), "currentTemp": 400 + rng.Intn(100), "returnTemp": 300,
		}),
		techmock.Tile(12, types.TileTypeFuelSupply, true, map[string]any{"percentage": 40 + rng.Intn(60)}),
		techmock.Tile(13, types.TileTypeSoftwareVersion, true, map[string]any{"version": "1.2.3"}),
	})

	srv.SetModuleData(recuperationUDID, nil, []any{
		techmock.Tile(20, types.TileTypeRecuperation, true, map[string]any{"gear": 1 + rng.Intn(3)}),
		techmock.Tile(21, types.TileTypeTemperatureCH, true, map[string]any{
			"widget1": map[string]any{"txtId": 6131, "value": 150 + rng.Intn(50), "unit": 0},
			"widget2": map[string]any{"txtId": 6132, "value": 140 + rng.Intn(50), "unit": 0},
		}),
	})
}
