package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcrew/agent/crew"
	"github.com/BaSui01/agentcrew/config"
	"github.com/BaSui01/agentcrew/internal/metrics"
	"github.com/BaSui01/agentcrew/internal/telemetry"
	"github.com/BaSui01/agentcrew/types"
)

// =============================================================================
// 🎭 rehearse 命令
// =============================================================================

// echoEngine 本地回显引擎，不访问任何模型服务
type echoEngine struct{}

func (echoEngine) Generate(ctx context.Context, req crew.Request) (*crew.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	last := "(no messages)"
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Text()
	}
	return &crew.Reply{
		Content: fmt.Sprintf("%s received %d message(s); last: %s", req.Worker, len(req.Messages), last),
	}, nil
}

func runRehearse(args []string) error {
	fs := flag.NewFlagSet("rehearse", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	rosterPath := fs.String("roster", "", "Path to roster file (YAML)")
	turns := fs.Int("turns", 0, "Initiator turns to play (default: until the time budget ends)")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus /metrics on this address while rehearsing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	reg, err := buildRegistry(*rosterPath, cfg, logger)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		collector = metrics.NewCollectorWithRegistry(cfg.Metrics.Namespace, promReg, logger)
		if *metricsAddr != "" {
			srv := serveMetrics(*metricsAddr, promReg, logger)
			defer srv.Close()
		}
	}

	a, err := openArchives(ctx, cfg, collector, true, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	instruments, err := telemetry.NewRunInstruments(nil)
	if err != nil {
		return err
	}

	opts := []crew.Option{crew.WithInstruments(instruments), crew.WithSinks(a.sinks()...)}
	if collector != nil {
		opts = append(opts, crew.WithCollector(collector))
	}
	c, err := crew.New(cfg, reg, echoEngine{}, logger, opts...)
	if err != nil {
		return err
	}

	runErr := rehearse(ctx, c, cfg, *turns)
	artifacts, err := c.Finish(ctx, runErr == nil, runErr)
	if err != nil {
		return err
	}

	printSummary(artifacts, cfg)
	return runErr
}

// rehearse 让发起者按时间预算轮流发言，每轮把一个子任务委派给下一个关联对象
func rehearse(ctx context.Context, c *crew.Crew, cfg *config.Config, turns int) error {
	initiator, ok := c.Registry().Initiator()
	if !ok {
		return types.NewValidationError("roster has no initiator")
	}

	prompt := cfg.Run.Prompt
	if prompt == "" {
		prompt = "rehearsal"
	}
	history := []types.Message{types.NewMessage(types.RoleUser, prompt)}

	for i := 0; turns <= 0 || i < turns; i++ {
		turn, err := c.Act(ctx, initiator.Name(), history)
		if err != nil {
			return err
		}
		content := fmt.Sprint(turn.Content)
		fmt.Printf("[%s] %s\n", turn.Worker, content)
		history = append(history, types.NewMessage(types.RoleAssistant, content))
		if turn.Terminate {
			return nil
		}

		associates := initiator.Associates()
		if len(associates) == 0 {
			continue
		}
		to := associates[i%len(associates)].Name
		task := fmt.Sprintf("rehearsal task %d", i+1)
		result, err := c.Delegate(ctx, initiator.Name(), to, task, func(ctx context.Context) (string, error) {
			t, err := c.Act(ctx, to, []types.Message{types.NewMessage(types.RoleUser, task)})
			if err != nil {
				return "", err
			}
			return fmt.Sprint(t.Content), nil
		})
		if err != nil {
			if types.IsErrorCode(err, types.ErrDelegationLimit) {
				continue
			}
			return err
		}
		history = append(history, types.NewMessage(types.RoleUser, result))
	}
	return nil
}

func printSummary(a *crew.Artifacts, cfg *config.Config) {
	m := a.Metrics
	fmt.Println()
	fmt.Printf("Run %s\n", a.RunID)
	fmt.Printf("  responses: %d  tokens: %d  delegations: %d\n",
		m.TotalAgentResponses, m.TotalTokens, m.TotalDelegations)
	fmt.Printf("  time limit reached: %t  delegation limit reached: %t\n",
		m.TimeLimitPromptsReached, m.DelegationLimitReached)
	if cfg.Run.OutputDir != "" {
		fmt.Printf("  artifacts: %s/%s\n", cfg.Run.OutputDir, a.RunID)
	}
	if a.DelegationTree != "" {
		fmt.Println()
		fmt.Print(a.DelegationTree)
	}
}

// serveMetrics 在后台暴露 /metrics
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	logger.Info("metrics server started", zap.String("addr", addr))
	return srv
}

var _ crew.Engine = echoEngine{}
