package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/annel0/voxel-agent/internal/agent"
	"github.com/annel0/voxel-agent/internal/api"
	"github.com/annel0/voxel-agent/internal/auth"
	"github.com/annel0/voxel-agent/internal/cache"
	"github.com/annel0/voxel-agent/internal/config"
	"github.com/annel0/voxel-agent/internal/eventbus"
	"github.com/annel0/voxel-agent/internal/gateway"
	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/annel0/voxel-agent/internal/movement"
	"github.com/annel0/voxel-agent/internal/observability"
	"github.com/annel0/voxel-agent/internal/storage"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/annel0/voxel-agent/internal/world/block"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const sessionTokenFile = "operator.token"

// closer отложенные остановки компонентов в обратном порядке
type closer []func()

func (c *closer) add(fn func()) { *c = append(*c, fn) }

func (c closer) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $AGENT_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	// === ЛОГИРОВАНИЕ ===
	logging.LogDir = cfg.Agent.LogDir
	if err := logging.InitDefaultLogger("agent"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	level, err := logging.ParseLevel(cfg.Agent.LogLevel)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	logging.SetDefaultLevel(level)
	logging.GetLoggerManager().SetLevelAll(level)

	agentLog := logging.GetAgentLogger()
	plannerLog := logging.GetPlannerLogger()
	executorLog := logging.GetExecutorLogger()
	gatewayLog := logging.GetGatewayLogger()
	eventsLog := logging.GetComponentLogger(logging.ComponentEvents)
	apiLog := logging.GetComponentLogger(logging.ComponentAPI)
	logging.Debug("логгеры компонентов: %v", logging.GetLoggerManager().Components())

	logging.Info("🧭 Запуск навигационного агента %q (backend=%s)", cfg.Agent.Name, cfg.Agent.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var shutdown closer
	defer shutdown.run()

	// === ТЕЛЕМЕТРИЯ ===
	if cfg.Telemetry.Enabled {
		flush, err := observability.InitTelemetry(ctx, cfg.Telemetry)
		if err != nil {
			logging.Warn("⚠️ Трейсинг недоступен: %v", err)
		} else {
			shutdown.add(func() {
				fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = flush(fctx)
			})
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// === ТАБЛИЦА БЛОКОВ ===
	table := block.Default
	if cfg.Agent.BlocksDir != "" {
		n, err := block.LoadJSONBlocks(table, cfg.Agent.BlocksDir)
		if err != nil && !os.IsNotExist(err) {
			logging.Error("Ошибка загрузки JSON-блоков: %v", err)
		} else {
			logging.Info("📦 Загружено %d описаний блоков из %s", n, cfg.Agent.BlocksDir)
		}
	}

	// === МИР И ИСПОЛНИТЕЛЬ ===
	w, mover, err := openBackend(ctx, cfg, table, gatewayLog)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения к миру: %v", err)
	}
	if c, ok := mover.(*gateway.Client); ok {
		shutdown.add(func() { _ = c.Close() })
	}

	w, terrain := wrapTerrain(ctx, cfg, w, &shutdown)

	// === ШИНА СОБЫТИЙ ===
	bus, err := openEventBus(cfg)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения к шине событий: %v", err)
	}
	shutdown.add(func() { _ = bus.Close() })

	if sub, err := eventbus.StartLoggingListener(bus, eventsLog); err != nil {
		logging.Warn("⚠️ Логгер событий не запущен: %v", err)
	} else {
		shutdown.add(sub.Unsubscribe)
	}
	exporter := eventbus.NewMetricsExporter(bus, registry)
	exporter.Start()
	shutdown.add(exporter.Stop)

	// === НАВИГАТОР ===
	opts := agent.DefaultOptions()
	opts.Name = cfg.Agent.Name
	opts.MaxCycles = cfg.Agent.MaxCycles
	opts.Physics = cfg.Physics
	opts.Planner = cfg.Planner
	opts.Executor = cfg.Executor
	opts.Table = table

	nav := agent.NewNavigator(w, mover, opts,
		agent.WithEventBus(bus),
		agent.WithLogger(agentLog),
		agent.WithComponentLoggers(plannerLog, executorLog),
		agent.WithMetrics(metrics),
		agent.WithTracer(observability.Tracer()),
	)
	shutdown.add(func() { nav.Cancel() })

	// === REST API ===
	issuer, err := auth.NewTokenIssuer(cfg.Server.GetJWTSecret(), cfg.Server.TokenTTL)
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации JWT: %v", err)
	}
	if cfg.Server.GetJWTSecret() == "" {
		// Без секрета ключ случайный; выдаём токен оператора, иначе API недоступен
		token, err := issuer.Issue("local", auth.RoleOperator)
		if err == nil {
			logging.Warn("⚠️ JWT секрет не задан, ключ подписи случайный до перезапуска")
			if path, err := writeSessionToken(cfg.Agent.LogDir, token); err != nil {
				logging.Debug("токен оператора на время сессии: %s", token)
				logging.Warn("⚠️ Файл токена не записан (%v), токен выведен на уровне DEBUG", err)
			} else {
				logging.Warn("⚠️ Токен оператора на время сессии записан в %s", path)
			}
		}
	}

	restPort := cfg.Server.GetRESTPort()
	rest := api.NewRestServer(api.Config{
		Addr:         fmt.Sprintf(":%d", restPort),
		Navigator:    nav,
		Issuer:       issuer,
		Registry:     registry,
		TerrainCache: terrain,
		Logger:       apiLog,
	})

	go func() {
		if err := rest.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("❌ Ошибка REST API: %v", err)
			stop()
		}
	}()

	logging.Info("✅ Агент готов")
	logging.Info("   🌐 REST API: http://localhost:%d", restPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)

	<-ctx.Done()
	logging.Info("📡 Получен сигнал завершения, остановка...")

	// === GRACEFUL SHUTDOWN ===
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rest.Shutdown(sctx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}

	logging.Info("👋 Агент остановлен")
}

// openBackend возвращает мир и исполнитель согласно agent.backend
func openBackend(ctx context.Context, cfg *config.Config, table *block.Table, gatewayLog *logging.Logger) (world.World, movement.Mover, error) {
	switch cfg.Agent.Backend {
	case config.BackendGateway:
		dctx, cancel := context.WithTimeout(ctx, cfg.Gateway.RequestTimeout)
		defer cancel()
		client, err := gateway.Dial(dctx, gateway.ClientConfig{
			URL:            cfg.Gateway.URL,
			Token:          cfg.Gateway.Token,
			RequestTimeout: cfg.Gateway.RequestTimeout,
		}, gatewayLog)
		if err != nil {
			return nil, nil, err
		}
		logging.Info("🔌 Подключён шлюз %s", cfg.Gateway.URL)
		return client, client, nil

	default:
		sim := world.NewSimWorld(cfg.Sim.Seed)
		spawn := sim.SpawnPoint(cfg.Sim.SpawnX, cfg.Sim.SpawnZ)
		sim.Center = spawn
		sim.ExploredRadius = cfg.Sim.ExploredRadius
		mover := movement.NewSimMover(sim, spawn).WithTable(table)
		mover.MoveUnitCap = cfg.Executor.MoveUnitCap
		logging.Info("🌍 Симулятор: seed=%d, spawn=%v, радиус исследования=%d чанков", cfg.Sim.Seed, spawn, cfg.Sim.ExploredRadius)
		return sim, mover, nil
	}
}

// wrapTerrain оборачивает мир архивом и общим кешем чанков, если они включены.
// Ошибки инфраструктуры не фатальны: агент продолжает работу без кеша.
func wrapTerrain(ctx context.Context, cfg *config.Config, w world.World, shutdown *closer) (world.World, cache.CacheRepo) {
	if !cfg.Cache.Enabled && !cfg.Archive.Enabled {
		return w, nil
	}

	var cold cache.ColdStorage
	if cfg.Archive.Enabled {
		archive, err := storage.OpenChunkArchive(cfg.Archive.Path)
		if err != nil {
			logging.Warn("⚠️ Архив чанков недоступен: %v", err)
		} else {
			cold = archive
			shutdown.add(func() { _ = archive.Close() })
			if n, err := archive.Count(); err == nil {
				logging.Info("💾 Архив чанков %s: %d записей", cfg.Archive.Path, n)
			}
		}
	}

	var inv *cache.NATSInvalidator
	if cfg.Cache.InvalidationURL != "" {
		var err error
		inv, err = cache.NewNATSInvalidator(cache.InvalidatorConfig{
			NATSURL: cfg.Cache.InvalidationURL,
			Subject: cfg.Cache.InvalidationSubject,
		}, fmt.Sprintf("%s-%s", cfg.Agent.Name, uuid.NewString()[:8]))
		if err != nil {
			logging.Warn("⚠️ Инвалидация через NATS недоступна: %v", err)
			inv = nil
		} else {
			shutdown.add(func() { _ = inv.Close() })
		}
	}

	var invalidator cache.CacheInvalidator
	if inv != nil {
		invalidator = inv
	}

	// repo присваивается только при успехе: (*RedisCache)(nil) в интерфейсе не равен nil
	var repo cache.CacheRepo
	redisOK := false
	if cfg.Cache.RedisURL != "" {
		if rc, err := cache.NewRedisCache(cfg.Cache.Config, cold, invalidator); err != nil {
			logging.Warn("⚠️ Redis недоступен (%v), используется кеш в памяти", err)
		} else {
			repo = rc
			redisOK = true
		}
	}
	if repo == nil {
		repo = cache.NewMemoryCache(cfg.Cache.Config, cold, invalidator)
	}
	shutdown.add(func() { _ = repo.Close() })

	codec, err := storage.NewChunkCodec()
	if err != nil {
		logging.Warn("⚠️ Кодек чанков недоступен: %v", err)
		return w, nil
	}
	shutdown.add(codec.Close)

	cached := cache.NewCachedWorld(w, repo, codec, cfg.Cache.DefaultTTL)
	if inv != nil {
		if err := cached.ListenInvalidations(ctx, inv); err != nil {
			logging.Warn("⚠️ Подписка на инвалидации: %v", err)
		}
	}
	logging.Info("🗄️ Кеш ландшафта включён (redis=%t, архив=%t)", redisOK, cold != nil)
	return cached, repo
}

// writeSessionToken сохраняет токен оператора в файл с правами 0600
func writeSessionToken(dir, token string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, sessionTokenFile)
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", err
	}
	// WriteFile не меняет права существующего файла
	if err := os.Chmod(path, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// openEventBus шина в памяти или JetStream, если задан URL
func openEventBus(cfg *config.Config) (eventbus.EventBus, error) {
	if cfg.EventBus.URL == "" {
		return eventbus.NewMemoryBus(cfg.EventBus.Capacity), nil
	}
	bus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, time.Duration(cfg.EventBus.Retention)*time.Hour)
	if err != nil {
		return nil, err
	}
	logging.Info("📨 JetStream %s, стрим %s", cfg.EventBus.URL, cfg.EventBus.Stream)
	return bus, nil
}
