package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/BaSui01/agentcrew/agent"
	"github.com/BaSui01/agentcrew/agent/observability"
	"github.com/BaSui01/agentcrew/internal/cache"
)

// =============================================================================
// 🔍 inspect 命令
// =============================================================================

// inspection 从任一归档端读出的运行
type inspection struct {
	RunID   string                 `json:"run_id"`
	Source  string                 `json:"source"`
	Metrics observability.Snapshot `json:"metrics"`
	Tree    string                 `json:"delegation_tree,omitempty"`
	Workers []agent.WorkerDump     `json:"workers"`
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	runID := fs.String("run", "", "Run id to show (default: the most recent run in the database)")
	source := fs.String("source", "database", "Archive to read: database or redis")
	asJSON := fs.Bool("json", false, "Print the run as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := openArchives(ctx, cfg, nil, false, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var in *inspection
	switch *source {
	case "database":
		in, err = inspectDatabase(ctx, a, *runID)
	case "redis":
		in, err = inspectRedis(ctx, a, *runID)
	default:
		return fmt.Errorf("unknown source %q (database, redis)", *source)
	}
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(in)
	}
	printInspection(in)
	return nil
}

func inspectDatabase(ctx context.Context, a *archives, runID string) (*inspection, error) {
	if a.repo == nil {
		return nil, fmt.Errorf("database archive is disabled (set database.enabled)")
	}
	if runID == "" {
		runs, err := a.repo.ListRuns(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, fmt.Errorf("no archived runs")
		}
		runID = runs[0].ID
	}

	run, err := a.repo.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	snap, err := run.DecodeSnapshot()
	if err != nil {
		return nil, err
	}
	dumps, err := run.DecodeDumps()
	if err != nil {
		return nil, err
	}
	return &inspection{RunID: run.ID, Source: "database", Metrics: snap, Tree: run.DelegationTree, Workers: dumps}, nil
}

func inspectRedis(ctx context.Context, a *archives, runID string) (*inspection, error) {
	if a.redis == nil {
		return nil, fmt.Errorf("redis archive is disabled (set redis.enabled)")
	}
	if runID == "" {
		return nil, fmt.Errorf("--run is required for the redis archive")
	}

	snap, err := a.redis.LoadSnapshot(ctx, runID)
	if cache.IsCacheMiss(err) {
		return nil, fmt.Errorf("run %s is not cached", runID)
	}
	if err != nil {
		return nil, err
	}
	tree, err := a.redis.LoadTree(ctx, runID)
	if err != nil && !cache.IsCacheMiss(err) {
		return nil, err
	}
	byName, err := a.redis.LoadWorkers(ctx, runID)
	if err != nil && !cache.IsCacheMiss(err) {
		return nil, err
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	dumps := make([]agent.WorkerDump, 0, len(names))
	for _, name := range names {
		dumps = append(dumps, byName[name])
	}
	return &inspection{RunID: runID, Source: "redis", Metrics: *snap, Tree: tree, Workers: dumps}, nil
}

func printInspection(in *inspection) {
	m := in.Metrics
	status := "success"
	if !m.Success {
		status = "failed"
		if m.ErrorMessage != nil {
			status += ": " + *m.ErrorMessage
		}
	}

	fmt.Printf("Run %s (%s)\n", in.RunID, in.Source)
	fmt.Printf("  model: %s  mode: %s  status: %s\n", m.Model, m.AgentsMode, status)
	if m.ExecutionTimeSeconds != nil {
		fmt.Printf("  execution time: %.2fs\n", *m.ExecutionTimeSeconds)
	}
	fmt.Printf("  responses: %d  tokens: %d  tool calls: %d  delegations: %d\n",
		m.TotalAgentResponses, m.TotalTokens, m.TotalToolCalls, m.TotalDelegations)
	fmt.Printf("  time limit reached: %t  delegation limit reached: %t\n",
		m.TimeLimitPromptsReached, m.DelegationLimitReached)

	fmt.Println()
	fmt.Println("Workers:")
	for _, w := range in.Workers {
		marker := ""
		if w.IsInitiator {
			marker = " (initiator)"
		}
		fmt.Printf("  %s%s: role %s v%d, %d memories, %d associates\n",
			w.WorkerName, marker, w.Role.RoleName, w.Role.RoleVersion, w.MemoryCount, len(w.Associates))
	}

	if in.Tree != "" {
		fmt.Println()
		fmt.Print(in.Tree)
	}
}
