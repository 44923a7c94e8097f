// Package main is the entry point for the orchestrator CLI and web facade.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	probing "github.com/prometheus-community/pro-bing"
	"github.com/vinayprograms/agentkit/llm"

	"github.com/vinayprograms/agent/internal/agentrunner"
	"github.com/vinayprograms/agent/internal/ceremony"
	"github.com/vinayprograms/agent/internal/config"
	"github.com/vinayprograms/agent/internal/coordinator"
	"github.com/vinayprograms/agent/internal/factory"
	"github.com/vinayprograms/agent/internal/scaleplanner"
	"github.com/vinayprograms/agent/internal/sessionlock"
	"github.com/vinayprograms/agent/internal/workflow"
)

var cli struct {
	Run   RunCmd   `cmd:"" help:"Plan and run a project prompt end to end"`
	Serve ServeCmd `cmd:"" help:"Start the read-only web observability facade"`
	Lock  LockCmd  `cmd:"" help:"Inspect or force-unlock the session lock"`
}

// RunCmd classifies prompt, builds the workflow sequence, and drives it
// through the coordinator, holding the write lock for the duration.
type RunCmd struct {
	Prompt      string `arg:"" help:"Project prompt to plan and execute"`
	ProjectRoot string `help:"Project root directory" default:"."`
	ConfigPath  string `help:"Config file path" default:"orchestrator.toml"`
	WorkflowDir string `help:"Installed workflow definitions directory" default:"workflows"`
	Stub        bool   `help:"Use the canned in-repo stub instead of a real model provider"`
}

func (r *RunCmd) Run() error {
	cfg, err := loadConfig(r.ConfigPath)
	if err != nil {
		return err
	}

	newWorkflowExecutor, ceremonyExecutor, analysis, err := agentCallbacks(cfg, r.Stub)
	if err != nil {
		return err
	}
	sys, err := factory.Build(r.ProjectRoot, cfg, r.WorkflowDir, factory.ModeCLI, newWorkflowExecutor, ceremonyExecutor, analysis)
	if err != nil {
		return fmt.Errorf("assembling orchestrator: %w", err)
	}
	defer sys.Shutdown()

	if err := sys.Lock.Acquire(sessionlock.InterfaceCLI, sessionlock.ModeWrite); err != nil {
		return fmt.Errorf("acquiring write lock: %w", err)
	}
	defer sys.Lock.Release()

	ctx := context.Background()
	plan, err := sys.Planner.Plan(ctx, r.Prompt)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	if plan.Analysis.NeedsClarification {
		fmt.Println("Clarification needed before planning can continue:")
		for _, q := range plan.Analysis.Questions {
			fmt.Println(" -", q)
		}
		return nil
	}

	seq := toCoordinatorSequence(plan.Sequence)
	result := sys.Coordinator.Run(ctx, seq, plan.Analysis.EstimatedStories, map[string]string{"prompt": r.Prompt})

	fmt.Printf("sequence %s: %s\n", result.SequenceID, result.Status)
	for _, step := range result.Steps {
		fmt.Printf("  %-20s %s (%d attempt(s))\n", step.Name, step.Status, step.Attempts)
	}
	if result.Status != "completed" {
		return fmt.Errorf("sequence ended in status %s: %s", result.Status, result.ErrorMsg)
	}
	return nil
}

// ServeCmd starts the WebSocket hub / HTTP facade in read-only mode.
type ServeCmd struct {
	ProjectRoot string `help:"Project root directory" default:"."`
	ConfigPath  string `help:"Config file path" default:"orchestrator.toml"`
	WorkflowDir string `help:"Installed workflow definitions directory" default:"workflows"`
	Stub        bool   `help:"Use the canned in-repo stub instead of a real model provider"`
}

func (s *ServeCmd) Run() error {
	cfg, err := loadConfig(s.ConfigPath)
	if err != nil {
		return err
	}

	newWorkflowExecutor, ceremonyExecutor, analysis, err := agentCallbacks(cfg, s.Stub)
	if err != nil {
		return err
	}
	sys, err := factory.Build(s.ProjectRoot, cfg, s.WorkflowDir, factory.ModeWeb, newWorkflowExecutor, ceremonyExecutor, analysis)
	if err != nil {
		return fmt.Errorf("assembling orchestrator: %w", err)
	}
	defer sys.Shutdown()

	if err := sys.Lock.Acquire(sessionlock.InterfaceWeb, sessionlock.ModeRead); err != nil {
		return fmt.Errorf("acquiring read lock: %w", err)
	}
	defer sys.Lock.Release()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	fmt.Printf("serving on %s\n", addr)
	return http.ListenAndServe(addr, sys.WebServer.Handler())
}

// LockCmd inspects or clears the session lock without assembling the whole
// orchestrator — it only needs the lock file, not the rest of System.
type LockCmd struct {
	Status      LockStatusCmd      `cmd:"" help:"Show current lock state"`
	ForceUnlock LockForceUnlockCmd `cmd:"" help:"Force-clear a stale lock"`
	Doctor      LockDoctorCmd      `cmd:"" help:"Diagnose a lock held on a remote host before force-unlocking it"`
}

type LockStatusCmd struct {
	ProjectRoot string `help:"Project root directory" default:"."`
	ConfigPath  string `help:"Config file path" default:"orchestrator.toml"`
}

func (l *LockStatusCmd) Run() error {
	cfg, err := loadConfig(l.ConfigPath)
	if err != nil {
		return err
	}
	lock := sessionlock.New(cfg.LockPath(l.ProjectRoot))
	state := lock.GetLockState()
	if !state.Held {
		fmt.Println("unlocked")
		return nil
	}
	fmt.Printf("held by %s in %s mode since %s\n", state.Holder, state.Mode, state.Timestamp)
	return nil
}

type LockForceUnlockCmd struct {
	ProjectRoot string `help:"Project root directory" default:"."`
	ConfigPath  string `help:"Config file path" default:"orchestrator.toml"`
}

func (l *LockForceUnlockCmd) Run() error {
	cfg, err := loadConfig(l.ConfigPath)
	if err != nil {
		return err
	}
	lock := sessionlock.New(cfg.LockPath(l.ProjectRoot))
	if err := lock.ForceUnlock(); err != nil {
		return err
	}
	fmt.Println("lock cleared")
	return nil
}

// LockDoctorCmd is a read-only diagnostic: it reports the recorded lock
// holder and, when that holder is on a different host, pings it so an
// operator can judge whether a subsequent force-unlock is likely safe.
// processIsAlive (internal/sessionlock) conservatively treats a remote
// PID as alive since it cannot signal it directly — this command is the
// promised second opinion the liveness check itself cannot give.
type LockDoctorCmd struct {
	ProjectRoot string        `help:"Project root directory" default:"."`
	ConfigPath  string        `help:"Config file path" default:"orchestrator.toml"`
	Timeout     time.Duration `help:"Ping timeout" default:"2s"`
}

func (l *LockDoctorCmd) Run() error {
	cfg, err := loadConfig(l.ConfigPath)
	if err != nil {
		return err
	}
	lock := sessionlock.New(cfg.LockPath(l.ProjectRoot))
	state := lock.GetLockState()
	if !state.Held {
		fmt.Println("unlocked")
		return nil
	}
	fmt.Printf("held by %s (pid %d on %s) in %s mode since %s\n",
		state.Holder, state.PID, state.Hostname, state.Mode, state.Timestamp)

	local, _ := os.Hostname()
	if state.Hostname == "" || state.Hostname == local {
		fmt.Println("holder is on this host; pid liveness already reflects reality")
		return nil
	}

	pinger, err := probing.NewPinger(state.Hostname)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", state.Hostname, err)
	}
	pinger.Count = 3
	pinger.Timeout = l.Timeout
	pinger.SetPrivileged(false)
	if err := pinger.Run(); err != nil {
		fmt.Printf("could not ping %s: %v; treat the lock as possibly stale\n", state.Hostname, err)
		return nil
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		fmt.Printf("%s is unreachable (%d/%d packets lost); the lock is likely stale\n",
			state.Hostname, stats.PacketsSent, stats.PacketsSent)
	} else {
		fmt.Printf("%s is reachable (%d/%d packets received); the holder is probably still alive\n",
			state.Hostname, stats.PacketsRecv, stats.PacketsSent)
	}
	return nil
}

// agentCallbacks builds the three agent-executor callbacks factory.Build
// takes as parameters: this binary is the caller the package doc refers
// to as supplying the production implementation, never the factory
// itself. stub selects the canned in-repo fallback (no model calls, no
// API key needed) for local dry runs; otherwise a single llm.Provider is
// built from cfg.LLM and shared by all three.
func agentCallbacks(cfg *config.Config, stub bool) (
	func(*workflow.Registry, *workflow.Resolver) coordinator.AgentExecutor,
	ceremony.AgentExecutor,
	scaleplanner.AnalysisService,
	error,
) {
	if stub {
		newWorkflowExecutor := func(*workflow.Registry, *workflow.Resolver) coordinator.AgentExecutor {
			return agentrunner.NewStubWorkflowExecutor()
		}
		return newWorkflowExecutor, agentrunner.NewStubCeremonyExecutor(), agentrunner.NewStubAnalysisService(), nil
	}

	apiKey := ""
	if cfg.LLM.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.LLM.APIKeyEnv)
	}
	provider, err := llm.NewProvider(llm.ProviderConfig{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		APIKey:    apiKey,
		MaxTokens: cfg.LLM.MaxTokens,
		BaseURL:   cfg.LLM.BaseURL,
		Thinking:  llm.ThinkingConfig{Level: llm.ThinkingLevel(cfg.LLM.Thinking)},
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building LLM provider: %w", err)
	}

	runner := agentrunner.NewRunner(provider, slog.Default())
	newWorkflowExecutor := func(registry *workflow.Registry, resolver *workflow.Resolver) coordinator.AgentExecutor {
		return agentrunner.NewWorkflowExecutor(runner, registry, resolver)
	}
	return newWorkflowExecutor, agentrunner.NewCeremonyExecutor(runner), agentrunner.NewAnalysisExecutor(runner), nil
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.New(), nil
	}
	return config.LoadFile(path)
}

func main() {
	ctx := kong.Parse(&cli, kong.Name("orchestrator"),
		kong.Description("Plans and drives multi-agent software development sequences."))
	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
