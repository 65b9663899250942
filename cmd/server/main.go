package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"quiver/internal/api"
	"quiver/internal/config"
	"quiver/internal/game"
)

func main() {
	configPath := flag.String("config", "", "optional YAML, TOML or JSON config file")
	seed := flag.Bool("seed", true, "spawn a practice range of walls and targets")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	} else {
		log.Println("✅ Loaded environment from .env")
	}

	appConfig := config.Load()
	if *configPath != "" {
		cfg, err := config.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		appConfig = cfg
		log.Printf("✅ Loaded config from %s", *configPath)
	}
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	bow := appConfig.Bow
	log.Printf("🏹 Bow: %d arrows, velocity %.0f, range %.0f, damage %.0f-%.0f",
		bow.PoolCapacity, bow.Velocity, bow.MaxDistance, bow.Damage, bow.MaxDamage)

	engine := game.NewEngine(game.EngineConfig{
		Bow:         appConfig.Bow,
		TickRate:    appConfig.Tick.TickRate,
		MaxWielders: appConfig.Server.MaxWielders,
		Limits:      appConfig.Limits,
	})
	engine.SetCallbacks(api.EngineCallbacks())

	if *seed {
		seedRange(engine)
	}

	if err := engine.StartEventLog(appConfig.Debug.EventLogPath); err != nil {
		log.Printf("⚠️ Event log disabled: %v", err)
	} else if appConfig.Debug.EventLogPath != "" {
		log.Printf("📝 Event log: %s", appConfig.Debug.EventLogPath)
	}

	server := api.NewServer(engine, api.ServerOptions{
		RateLimit:     api.RateLimitFromLimits(appConfig.Limits),
		BroadcastRate: appConfig.Tick.BroadcastRate,
	})

	debugCfg := api.DefaultObservabilityConfig()
	debugCfg.ListenAddr = appConfig.Debug.Addr
	debugCfg.Enabled = os.Getenv("DISABLE_DEBUG_SERVER") != "true"
	debugCfg.BasicAuthUser = os.Getenv("DEBUG_USER")
	debugCfg.BasicAuthPass = os.Getenv("DEBUG_PASS")
	debugServer := api.NewDebugServer(debugCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine.Start()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return server.Run(ctx, ":"+strconv.Itoa(appConfig.Server.Port))
	})
	if debugServer != nil {
		eg.Go(func() error {
			if err := debugServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			return debugServer.Close()
		})
	}

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	err := eg.Wait()

	log.Println("🛑 Shutting down...")
	engine.Stop()
	engine.Close()
	engine.StopEventLog()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Println("👋 Goodbye!")
}

// seedRange lays out a backstop wall and a row of dummies downrange of the
// origin.
func seedRange(engine *game.Engine) {
	if _, err := engine.AddWall("backstop", mgl64.Vec3{-40, 0, 120}, mgl64.Vec3{40, 30, 122}); err != nil {
		log.Printf("⚠️ Seed wall: %v", err)
	}
	for i, x := range []float64{-20, 0, 20} {
		name := "dummy-" + strconv.Itoa(i+1)
		if _, err := engine.AddTarget(name, mgl64.Vec3{x, 5, 60}, 100); err != nil {
			log.Printf("⚠️ Seed %s: %v", name, err)
		}
	}
}
