// Package config загружает YAML-конфигурацию агента.
// Значения из файла перекрывают Default(); отсутствующие секции остаются по умолчанию.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/annel0/voxel-agent/internal/cache"
	"github.com/annel0/voxel-agent/internal/movement"
	"github.com/annel0/voxel-agent/internal/observability"
	"github.com/annel0/voxel-agent/internal/pathfind"
	"github.com/annel0/voxel-agent/internal/physics"
	"gopkg.in/yaml.v3"
)

// Бэкенды мира и исполнителя
const (
	BackendSim     = "sim"
	BackendGateway = "gateway"
)

// ErrInvalidConfig конфигурация не прошла проверку
var ErrInvalidConfig = errors.New("invalid config")

// Config корневая структура конфигурации агента
type Config struct {
	Agent     AgentConfig                   `yaml:"agent"`
	Planner   pathfind.Options              `yaml:"planner"`
	Physics   physics.Params                `yaml:"physics"`
	Executor  movement.Options              `yaml:"executor"`
	Gateway   GatewayConfig                 `yaml:"gateway"`
	Sim       SimConfig                     `yaml:"sim"`
	Cache     CacheConfig                   `yaml:"cache"`
	Archive   ArchiveConfig                 `yaml:"archive"`
	EventBus  EventBusConfig                `yaml:"eventbus"`
	Server    ServerConfig                  `yaml:"server"`
	Telemetry observability.TelemetryConfig `yaml:"telemetry"`
}

type AgentConfig struct {
	Name      string `yaml:"name"`
	Backend   string `yaml:"backend"` // sim | gateway
	MaxCycles int    `yaml:"max_cycles"`
	LogLevel  string `yaml:"log_level"`
	LogDir    string `yaml:"log_dir"`
	// BlocksDir каталог JSON-описаний типов блоков; пусто - встроенная таблица
	BlocksDir string `yaml:"blocks_dir"`
}

type GatewayConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type SimConfig struct {
	Seed           int64 `yaml:"seed"`
	ExploredRadius int32 `yaml:"explored_radius"` // в чанках, 0 - без ограничения
	SpawnX         int32 `yaml:"spawn_x"`
	SpawnZ         int32 `yaml:"spawn_z"`
}

// CacheConfig общий кеш ландшафта; пустой redis_url означает кеш в памяти
type CacheConfig struct {
	Enabled      bool `yaml:"enabled"`
	cache.Config `yaml:",inline"`

	InvalidationURL     string `yaml:"invalidation_url"`
	InvalidationSubject string `yaml:"invalidation_subject"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EventBusConfig пустой URL означает шину в памяти процесса
type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Capacity  int    `yaml:"capacity"`
}

type ServerConfig struct {
	RESTPort  int           `yaml:"rest_port"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "AGENT_REST_PORT", 8088)
}

// GetJWTSecret секрет из конфига или AGENT_JWT_SECRET
func (s *ServerConfig) GetJWTSecret() string {
	if s.JWTSecret != "" {
		return s.JWTSecret
	}
	return os.Getenv("AGENT_JWT_SECRET")
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// Default конфигурация по умолчанию: симулятор, всё внешнее выключено
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:      "agent",
			Backend:   BackendSim,
			MaxCycles: 8,
			LogLevel:  "INFO",
			LogDir:    "logs",
		},
		Planner:  pathfind.DefaultOptions(),
		Physics:  physics.DefaultParams(),
		Executor: movement.DefaultOptions(),
		Gateway: GatewayConfig{
			RequestTimeout: 10 * time.Second,
		},
		Sim: SimConfig{
			Seed:           1,
			ExploredRadius: 8,
		},
		Cache: CacheConfig{
			Config: cache.Config{
				DefaultTTL: 10 * time.Minute,
			},
			InvalidationSubject: "terrain.invalidation",
		},
		Archive: ArchiveConfig{
			Path: "data/chunks",
		},
		EventBus: EventBusConfig{
			Stream:    "NAVIGATION",
			Retention: 24,
			Capacity:  256,
		},
		Server: ServerConfig{
			TokenTTL: 24 * time.Hour,
		},
		Telemetry: observability.TelemetryConfig{
			ServiceName: "voxel-agent",
			Insecure:    true,
			SampleRatio: 1,
		},
	}
}

// Load читает YAML файл конфигурации поверх Default().
// Если path == "", используется ENV AGENT_CONFIG; без файла возвращаются значения по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("AGENT_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность секций
func (c *Config) Validate() error {
	switch c.Agent.Backend {
	case BackendSim:
	case BackendGateway:
		if c.Gateway.URL == "" {
			return fmt.Errorf("%w: gateway.url is required for backend %q", ErrInvalidConfig, BackendGateway)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Agent.Backend)
	}
	if c.Agent.MaxCycles <= 0 {
		return fmt.Errorf("%w: agent.max_cycles must be positive", ErrInvalidConfig)
	}
	if c.Planner.PartialProgress <= 0 || c.Planner.PartialProgress > 1 {
		return fmt.Errorf("%w: planner.partial_progress must be in (0, 1]", ErrInvalidConfig)
	}
	if c.Executor.MoveUnitCap <= 0 {
		return fmt.Errorf("%w: executor.move_unit_cap must be positive", ErrInvalidConfig)
	}
	if len(c.Planner.WeightBands) == 0 {
		c.Planner.WeightBands = pathfind.DefaultWeightBands
	}
	return nil
}
