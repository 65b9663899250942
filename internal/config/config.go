// Package config provides centralized configuration management.
// Defaults live here; environment variables and an optional config file
// override them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// BOW CONFIGURATION
// =============================================================================

// BowConfig holds the weapon tuning shared by every wielder.
type BowConfig struct {
	PoolCapacity   int           `mapstructure:"pool_capacity"`
	Velocity       float64       `mapstructure:"velocity"`
	MaxDistance    float64       `mapstructure:"max_distance"`
	MaxFlightTime  time.Duration `mapstructure:"max_flight_time"`
	WorldGravity   float64       `mapstructure:"world_gravity"`
	GravityDivisor float64       `mapstructure:"gravity_divisor"`
	MinChargeTime  time.Duration `mapstructure:"min_charge_time"`
	MaxChargeTime  time.Duration `mapstructure:"max_charge_time"`
	Damage         float64       `mapstructure:"damage"`
	MaxDamage      float64       `mapstructure:"max_damage"`
	HitTimeout     time.Duration `mapstructure:"hit_timeout"`
	TimeoutFade    time.Duration `mapstructure:"timeout_fade"`
	DeathFade      time.Duration `mapstructure:"death_fade"`
}

// DefaultBow returns the stock bow.
func DefaultBow() BowConfig {
	return BowConfig{
		PoolCapacity:   10,
		Velocity:       250,
		MaxDistance:    200,
		MaxFlightTime:  2 * time.Second,
		WorldGravity:   196.2, // studs/s², divided by GravityDivisor for arrows
		GravityDivisor: 6,
		MinChargeTime:  1 * time.Second,
		MaxChargeTime:  2 * time.Second,
		Damage:         0,
		MaxDamage:      40,
		HitTimeout:     9 * time.Second,
		TimeoutFade:    1 * time.Second,
		DeathFade:      3 * time.Second,
	}
}

// BowFromEnv returns bow configuration with environment variable overrides.
func BowFromEnv() BowConfig {
	cfg := DefaultBow()

	if n := getEnvInt("BOW_POOL_CAPACITY", 0); n > 0 {
		cfg.PoolCapacity = n
	}
	if v := getEnvFloat("BOW_VELOCITY", 0); v > 0 {
		cfg.Velocity = v
	}
	if d := getEnvFloat("BOW_MAX_DISTANCE", 0); d > 0 {
		cfg.MaxDistance = d
	}
	if d := getEnvFloat("BOW_MAX_DAMAGE", -1); d >= 0 {
		cfg.MaxDamage = d
	}
	if d := getEnvFloat("BOW_DAMAGE", -1); d >= 0 {
		cfg.Damage = d
	}
	cfg.HitTimeout = getEnvDuration("BOW_HIT_TIMEOUT", cfg.HitTimeout)

	return cfg
}

// =============================================================================
// TICK CONFIGURATION
// =============================================================================

// TickConfig controls the simulation clock.
type TickConfig struct {
	TickRate      int `mapstructure:"tick_rate"`      // Scheduler frames per second
	BroadcastRate int `mapstructure:"broadcast_rate"` // WebSocket snapshots per second
}

// DefaultTick returns the default tick configuration.
func DefaultTick() TickConfig {
	return TickConfig{
		TickRate:      20,
		BroadcastRate: 10,
	}
}

// TickFromEnv returns tick configuration with environment variable overrides.
func TickFromEnv() TickConfig {
	cfg := DefaultTick()

	if r := getEnvInt("TICK_RATE", 0); r > 0 {
		cfg.TickRate = r
	}
	if r := getEnvInt("BROADCAST_RATE", 0); r > 0 {
		cfg.BroadcastRate = r
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MaxWielders int `mapstructure:"max_wielders"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:        3000,
		MaxWielders: 100,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if mw := getEnvInt("MAX_WIELDERS", 0); mw > 0 {
		cfg.MaxWielders = mw
	}

	return cfg
}

// =============================================================================
// RESOURCE LIMITS
// =============================================================================

// ResourceLimits controls DoS protection.
type ResourceLimits struct {
	MaxEventsPerSec     int     `mapstructure:"max_events_per_sec"`     // Event log global rate
	MaxEventsPerWielder int     `mapstructure:"max_events_per_wielder"` // Event log per-wielder rate
	MaxTargets          int     `mapstructure:"max_targets"`            // Dummy characters and walls
	RequestsPerSec      float64 `mapstructure:"requests_per_sec"`       // API per-IP rate
	RequestBurst        int     `mapstructure:"request_burst"`
	ActionsPerSec       float64 `mapstructure:"actions_per_sec"`        // Draw/release/abort per wielder
	ActionBurst         int     `mapstructure:"action_burst"`
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxEventsPerSec:     10_000,
		MaxEventsPerWielder: 100,
		MaxTargets:          200,
		RequestsPerSec:      20,
		RequestBurst:        40,
		ActionsPerSec:       10,
		ActionBurst:         20,
	}
}

// =============================================================================
// DEBUG CONFIGURATION
// =============================================================================

// DebugConfig holds the localhost-only diagnostics server settings.
type DebugConfig struct {
	Addr         string `mapstructure:"addr"`           // pprof and /metrics
	EventLogPath string `mapstructure:"event_log_path"` // JSONL output, empty disables
}

// DefaultDebug returns the default debug configuration.
func DefaultDebug() DebugConfig {
	return DebugConfig{
		Addr: "localhost:6060",
	}
}

// DebugFromEnv returns debug configuration with environment variable overrides.
func DebugFromEnv() DebugConfig {
	cfg := DefaultDebug()

	if a := os.Getenv("DEBUG_ADDR"); a != "" {
		cfg.Addr = a
	}
	if p := os.Getenv("EVENT_LOG_PATH"); p != "" {
		cfg.EventLogPath = p
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Bow    BowConfig      `mapstructure:"bow"`
	Tick   TickConfig     `mapstructure:"tick"`
	Server ServerConfig   `mapstructure:"server"`
	Limits ResourceLimits `mapstructure:"limits"`
	Debug  DebugConfig    `mapstructure:"debug"`
}

// Default returns the configuration with no overrides applied.
func Default() AppConfig {
	return AppConfig{
		Bow:    DefaultBow(),
		Tick:   DefaultTick(),
		Server: DefaultServer(),
		Limits: DefaultLimits(),
		Debug:  DefaultDebug(),
	}
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Bow:    BowFromEnv(),
		Tick:   TickFromEnv(),
		Server: ServerFromEnv(),
		Limits: DefaultLimits(),
		Debug:  DebugFromEnv(),
	}
}

// LoadFile layers a YAML, TOML or JSON file over Load(). Keys can also be
// set through QUIVER_-prefixed environment variables, e.g.
// QUIVER_BOW_MAX_DAMAGE=60.
func LoadFile(path string) (AppConfig, error) {
	cfg := Load()

	v := viper.New()
	setDefaults(v, cfg)
	v.SetConfigFile(path)
	v.SetEnvPrefix("quiver")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the simulation cannot run with.
func (c AppConfig) Validate() error {
	switch {
	case c.Bow.PoolCapacity <= 0:
		return fmt.Errorf("bow.pool_capacity must be positive, got %d", c.Bow.PoolCapacity)
	case c.Bow.Velocity <= 0:
		return fmt.Errorf("bow.velocity must be positive, got %v", c.Bow.Velocity)
	case c.Bow.MaxDistance <= 0:
		return fmt.Errorf("bow.max_distance must be positive, got %v", c.Bow.MaxDistance)
	case c.Bow.MaxFlightTime <= 0:
		return fmt.Errorf("bow.max_flight_time must be positive, got %v", c.Bow.MaxFlightTime)
	case c.Bow.MaxChargeTime < c.Bow.MinChargeTime:
		return fmt.Errorf("bow.max_charge_time %v is below min_charge_time %v", c.Bow.MaxChargeTime, c.Bow.MinChargeTime)
	case c.Tick.TickRate <= 0:
		return fmt.Errorf("tick.tick_rate must be positive, got %d", c.Tick.TickRate)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, cfg AppConfig) {
	b := cfg.Bow
	v.SetDefault("bow.pool_capacity", b.PoolCapacity)
	v.SetDefault("bow.velocity", b.Velocity)
	v.SetDefault("bow.max_distance", b.MaxDistance)
	v.SetDefault("bow.max_flight_time", b.MaxFlightTime)
	v.SetDefault("bow.world_gravity", b.WorldGravity)
	v.SetDefault("bow.gravity_divisor", b.GravityDivisor)
	v.SetDefault("bow.min_charge_time", b.MinChargeTime)
	v.SetDefault("bow.max_charge_time", b.MaxChargeTime)
	v.SetDefault("bow.damage", b.Damage)
	v.SetDefault("bow.max_damage", b.MaxDamage)
	v.SetDefault("bow.hit_timeout", b.HitTimeout)
	v.SetDefault("bow.timeout_fade", b.TimeoutFade)
	v.SetDefault("bow.death_fade", b.DeathFade)

	v.SetDefault("tick.tick_rate", cfg.Tick.TickRate)
	v.SetDefault("tick.broadcast_rate", cfg.Tick.BroadcastRate)

	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.max_wielders", cfg.Server.MaxWielders)

	l := cfg.Limits
	v.SetDefault("limits.max_events_per_sec", l.MaxEventsPerSec)
	v.SetDefault("limits.max_events_per_wielder", l.MaxEventsPerWielder)
	v.SetDefault("limits.max_targets", l.MaxTargets)
	v.SetDefault("limits.requests_per_sec", l.RequestsPerSec)
	v.SetDefault("limits.request_burst", l.RequestBurst)
	v.SetDefault("limits.actions_per_sec", l.ActionsPerSec)
	v.SetDefault("limits.action_burst", l.ActionBurst)

	v.SetDefault("debug.addr", cfg.Debug.Addr)
	v.SetDefault("debug.event_log_path", cfg.Debug.EventLogPath)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
