// =============================================================================
// AgentCrew 命令行入口
// =============================================================================
// 治理层的离线工具：校验花名册、用本地引擎彩排一次运行、迁移与查看运行归档
//
// 使用方法:
//
//	agentcrew validate --roster crew.yaml           # 校验配置与花名册
//	agentcrew rehearse --roster crew.yaml           # 用回显引擎彩排一次运行
//	agentcrew migrate --config config.yaml          # 创建运行归档表
//	agentcrew inspect --run <run-id>                # 查看归档的运行
//	agentcrew version                               # 显示版本信息
// =============================================================================

package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentcrew/agent"
	"github.com/BaSui01/agentcrew/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:])
	case "rehearse":
		err = runRehearse(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	rosterPath := fs.String("roster", "", "Path to roster file (YAML)")
	showInstructions := fs.Bool("instructions", false, "Print the rendered instructions of every worker")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	reg, err := buildRegistry(*rosterPath, cfg, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Roster OK: %d workers\n", reg.Len())
	for _, w := range reg.Workers() {
		marker := ""
		if w.IsInitiator() {
			marker = " (initiator)"
		}
		fmt.Printf("  %s%s: %d associates, %d memories\n",
			w.Name(), marker, len(w.Associates()), w.Memory().Count())
		if *showInstructions {
			fmt.Println()
			fmt.Println(w.Instructions())
			fmt.Println()
		}
	}
	return nil
}

// =============================================================================
// 🔧 公共辅助
// =============================================================================

// loadConfig 加载并校验配置；path 为空时只用默认值与环境变量
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// buildRegistry 读取花名册并构建一致的工作者注册表
func buildRegistry(rosterPath string, cfg *config.Config, logger *zap.Logger) (*agent.Registry, error) {
	if rosterPath == "" {
		return nil, fmt.Errorf("--roster is required")
	}
	roster, err := agent.LoadRoster(rosterPath)
	if err != nil {
		return nil, err
	}

	reg := agent.NewRegistry(logger, agent.WithMemorySize(cfg.Memory.MaxSize))
	if _, err := roster.Build(reg); err != nil {
		return nil, fmt.Errorf("build roster: %w", err)
	}
	if err := reg.CheckConsistency(); err != nil {
		return nil, fmt.Errorf("inconsistent roster: %w", err)
	}
	return reg, nil
}

// initLogger 初始化日志
func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}

// =============================================================================
// 📋 版本与帮助
// =============================================================================

func printVersion() {
	fmt.Printf("AgentCrew %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AgentCrew - governance layer for multi-agent runs

Usage:
  agentcrew <command> [options]

Commands:
  validate   Load config and roster, check registry consistency
  rehearse   Run the roster against a local echo engine and archive the run
  migrate    Create or update the run archive tables
  inspect    Show an archived run (database or redis)
  version    Show version information
  help       Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --roster <path>     Path to roster file (validate, rehearse)
  --run <id>          Run id (inspect)

Examples:
  agentcrew validate --roster crew.yaml --instructions
  agentcrew rehearse --config config.yaml --roster crew.yaml --turns 4
  agentcrew migrate --config config.yaml
  agentcrew inspect --config config.yaml --run 5f0c... --source redis`)
}
