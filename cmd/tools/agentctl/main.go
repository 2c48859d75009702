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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/voxel-agent/internal/agent"
	"github.com/annel0/voxel-agent/internal/auth"
	"github.com/annel0/voxel-agent/internal/gateway"
	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/annel0/voxel-agent/internal/movement"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
)

const usage = `agentctl - утилиты навигационного агента

Команды:
  plan      построить путь офлайн и показать партии перемещений
  token     выпустить JWT оператора или наблюдателя
  secret    сгенерировать секрет для server.jwt_secret
  serve-sim поднять шлюз мира поверх симулятора

Пример:
  agentctl plan -seed 7 -from 0,70,0 -to 40,70,12
  agentctl token -secret $AGENT_JWT_SECRET -operator alice -role operator`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "plan":
		err = runPlan(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "secret":
		err = runSecret()
	case "serve-sim":
		err = runServeSim(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "неизвестная команда %q\n\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("❌ %s: %v", os.Args[1], err)
	}
}

func runPlan(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	var (
		flat     = fs.Bool("flat", false, "плоский мир (пол на y=63) вместо симулятора")
		seed     = fs.Int64("seed", 1, "сид симулятора")
		radius   = fs.Int("radius", 0, "радиус исследованных чанков вокруг старта, 0 - весь мир")
		from     = fs.String("from", "", "старт x,y,z (по умолчанию точка появления)")
		to       = fs.String("to", "", "цель x,y,z")
		minIter  = fs.Int("min-iterations", 0, "минимальный бюджет итераций поиска, 0 - по умолчанию")
		verbose  = fs.Bool("v", false, "печатать каждую клетку пути")
		timeout  = fs.Duration("timeout", 30*time.Second, "таймаут планирования")
		logLevel = fs.String("log", "WARN", "уровень логирования")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == "" {
		return errors.New("не задана цель -to")
	}
	target, err := parseVec(*to)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	logger := logging.NewWriterLogger("plan", os.Stderr, level)

	var (
		w     world.World
		start vec.Vec3
	)
	if *flat {
		w = world.NewFlatWorld(63)
		start = vec.New(0, 64, 0)
	} else {
		sim := world.NewSimWorld(*seed)
		start = sim.SpawnPoint(0, 0)
		sim.Center = start
		sim.ExploredRadius = int32(*radius)
		w = sim
	}
	if *from != "" {
		if start, err = parseVec(*from); err != nil {
			return err
		}
	}

	opts := agent.DefaultOptions()
	if *minIter > 0 {
		opts.Planner.MinIterations = *minIter
	}
	// Офлайн: исполнитель не нужен, используется только разбиение на партии
	nav := agent.NewNavigator(w, movement.NewSimMover(w, start), opts, agent.WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	began := time.Now()
	res, err := nav.Planner().PlanPath(ctx, start, target)
	if err != nil {
		return err
	}

	fmt.Printf("🧭 %v -> %v (цель после коррекции %v)\n", start, target, res.Target)
	fmt.Printf("   статус: %s, итераций: %d, вес эвристики: %.1f, за %v\n", res.Status, res.Iterations, res.Weight, time.Since(began).Round(time.Millisecond))
	fmt.Printf("   дистанция: старт %d, ближайшая %d\n", res.StartDistance, res.ClosestDistance)
	if !res.HasPath() {
		return nil
	}

	fmt.Printf("   клеток в пути: %d\n", len(res.Path))
	if *verbose {
		for i, p := range res.Path {
			fmt.Printf("   %4d %v\n", i, p)
		}
	}

	batches, err := nav.Executor().Partition(ctx, res.Path)
	if err != nil {
		return err
	}
	total := 0
	for i, b := range batches {
		total += b.MoveUnits
		fmt.Printf("   📦 партия %d: %d шагов, %d единиц, до %v\n", i+1, len(b.Steps), b.MoveUnits, b.Last())
	}
	fmt.Printf("   всего партий: %d, единиц движения: %d\n", len(batches), total)
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	var (
		secret   = fs.String("secret", os.Getenv("AGENT_JWT_SECRET"), "base64 секрет (как server.jwt_secret)")
		operator = fs.String("operator", "operator", "имя оператора")
		role     = fs.String("role", string(auth.RoleOperator), "роль: operator | viewer")
		ttl      = fs.Duration("ttl", 24*time.Hour, "срок действия")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("не задан -secret или AGENT_JWT_SECRET")
	}

	r := auth.Role(*role)
	if r != auth.RoleOperator && r != auth.RoleViewer {
		return fmt.Errorf("неизвестная роль %q", *role)
	}

	issuer, err := auth.NewTokenIssuer(*secret, *ttl)
	if err != nil {
		return err
	}
	token, err := issuer.Issue(*operator, r)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runSecret() error {
	secret, err := auth.GenerateSecureSecret()
	if err != nil {
		return err
	}
	fmt.Println(secret)
	return nil
}

func runServeSim(args []string) error {
	fs := flag.NewFlagSet("serve-sim", flag.ExitOnError)
	var (
		addr   = fs.String("addr", ":8090", "адрес шлюза")
		seed   = fs.Int64("seed", 1, "сид симулятора")
		radius = fs.Int("radius", 8, "радиус исследованных чанков вокруг точки появления")
		token  = fs.String("token", "", "bearer-токен клиентов; пусто - без авторизации")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := logging.NewWriterLogger("gateway", os.Stdout, logging.INFO)

	sim := world.NewSimWorld(*seed)
	spawn := sim.SpawnPoint(0, 0)
	sim.Center = spawn
	sim.ExploredRadius = int32(*radius)

	srv := gateway.NewServer(sim, movement.NewSimMover(sim, spawn), logger)
	if *token != "" {
		expected := *token
		srv.Authorize = func(got string) error {
			if got != expected {
				return errors.New("invalid token")
			}
			return nil
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	httpSrv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)
	}()

	logger.Info("🌍 Шлюз симулятора ws://localhost%s/ws (seed=%d, spawn=%v)", *addr, *seed, spawn)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	srv.Wait()
	logger.Info("👋 Шлюз остановлен")
	return nil
}

// parseVec разбирает "x,y,z"
func parseVec(s string) (vec.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return vec.Vec3{}, fmt.Errorf("ожидается x,y,z: %q", s)
	}
	var out [3]int32
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return vec.Vec3{}, fmt.Errorf("координата %q: %w", p, err)
		}
		out[i] = int32(n)
	}
	return vec.New(out[0], out[1], out[2]), nil
}
