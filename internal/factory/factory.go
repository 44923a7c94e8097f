// Package factory is the single assembly routine that wires every
// orchestration component into a running System: event bus, state store,
// session lock, workflow registry, quality gate, artifact manager,
// ceremony trigger/failure handling, ceremony orchestrator, coordinator,
// scale planner, and the WebSocket hub/server façade, in dependency
// order.
//
// The agent runtime that actually performs model calls is out of scope
// for this package (and for the core generally): Build takes the three
// agent-executor callbacks — coordinator.AgentExecutor,
// ceremony.AgentExecutor, scaleplanner.AnalysisService — as parameters
// supplied by the caller. Passing nil for any of them falls back to the
// minimal in-repo stub in internal/agentrunner, which is only suitable
// for tests and local dry runs; a real deployment constructs its own
// model-backed implementation (internal/agentrunner.Runner is one such
// implementation, built around github.com/vinayprograms/agentkit/llm)
// and passes it in instead.
package factory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vinayprograms/agent/internal/agentrunner"
	"github.com/vinayprograms/agent/internal/artifacts"
	"github.com/vinayprograms/agent/internal/ceremony"
	"github.com/vinayprograms/agent/internal/ceremonyfailure"
	"github.com/vinayprograms/agent/internal/ceremonytrigger"
	"github.com/vinayprograms/agent/internal/config"
	"github.com/vinayprograms/agent/internal/coordinator"
	"github.com/vinayprograms/agent/internal/eventbus"
	"github.com/vinayprograms/agent/internal/featurepath"
	"github.com/vinayprograms/agent/internal/qualitygate"
	"github.com/vinayprograms/agent/internal/scaleplanner"
	"github.com/vinayprograms/agent/internal/sessionlock"
	"github.com/vinayprograms/agent/internal/statestore"
	"github.com/vinayprograms/agent/internal/webhub"
	"github.com/vinayprograms/agent/internal/workflow"

	"github.com/nats-io/nats.go"
)

// storePersistence adapts *statestore.Store to coordinator.PersistenceStore,
// translating the coordinator's decoupled shapes into statestore's own
// types.
type storePersistence struct {
	store *statestore.Store
}

func (p storePersistence) UpsertEpic(epicNum int, title, feature, status string) error {
	return p.store.UpsertEpic(statestore.Epic{
		EpicNum: epicNum,
		Title:   title,
		Feature: feature,
		Status:  statestore.EpicStatus(status),
	})
}

func (p storePersistence) UpsertStory(epicNum, storyNum int, title, status string) error {
	return p.store.UpsertStory(statestore.Story{
		EpicNum:  epicNum,
		StoryNum: storyNum,
		Title:    title,
		Status:   statestore.StoryStatus(status),
	})
}

func (p storePersistence) SaveWorkflowRun(r coordinator.WorkflowRunRecord) error {
	steps := make([]statestore.StepResult, len(r.Steps))
	for i, s := range r.Steps {
		steps[i] = statestore.StepResult{
			Name:        s.Name,
			Status:      s.Status,
			DurationMS:  s.DurationMS,
			StartedAt:   s.StartedAt,
			CompletedAt: s.CompletedAt,
		}
	}
	completedAt := r.CompletedAt
	return p.store.SaveWorkflowRun(statestore.WorkflowRun{
		WorkflowID:   r.WorkflowID,
		WorkflowName: "sequence",
		EpicNum:      &r.EpicNum,
		Status:       statestore.WorkflowRunStatus(r.Status),
		StartedAt:    r.StartedAt,
		CompletedAt:  &completedAt,
		Steps:        steps,
		Variables:    r.Variables,
		Artifacts:    r.Artifacts,
		ErrorMessage: r.ErrorMessage,
	})
}

// Mode is the interface a cmd/ binary is acquiring the session lock for:
// the CLI takes the write lock, the web façade stays read-only.
type Mode string

const (
	ModeCLI Mode = "cli"
	ModeWeb Mode = "web"
)

// System holds every assembled component a cmd/ binary needs. Only
// Coordinator, Planner, and WebServer (for ModeWeb) are typically driven
// directly; the rest are exposed for diagnostics and tests.
type System struct {
	Config     *config.Config
	Logger     *slog.Logger
	Bus        *eventbus.Bus
	Store      *statestore.Store
	Lock       *sessionlock.Lock
	Registry   *workflow.Registry
	Resolver   *workflow.Resolver
	Gate       *qualitygate.Gate
	Artifacts  *artifacts.Manager
	Trigger    *ceremonytrigger.Engine
	Failure    *ceremonyfailure.Handler
	Ceremonies *ceremony.Orchestrator
	Coordinator *coordinator.Coordinator
	Planner    *scaleplanner.Planner
	Hub        *webhub.Hub
	WebServer  *webhub.Server

	natsConn   *nats.Conn
	natsBridge *eventbus.NATSBridge
}

// Build assembles a System for the given project root, config, and
// interface mode. workflowDir is the directory of installed workflow
// definitions (see internal/workflow.Registry.LoadDir); an empty dir is
// tolerated (an empty registry, every sequence name gets dropped with a
// logged warning).
//
// newWorkflowExecutor, ceremonyExecutor, and analysis are the
// agent-runtime callbacks described in the package doc. newWorkflowExecutor
// is a constructor rather than a plain value because the workflow
// executor needs the registry and resolver Build assembles internally
// (to render a workflow's instructions template); pass nil for any of
// the three to fall back to the in-repo stub (internal/agentrunner.Stub*).
func Build(
	projectRoot string,
	cfg *config.Config,
	workflowDir string,
	mode Mode,
	newWorkflowExecutor func(*workflow.Registry, *workflow.Resolver) coordinator.AgentExecutor,
	ceremonyExecutor ceremony.AgentExecutor,
	analysis scaleplanner.AnalysisService,
) (*System, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if newWorkflowExecutor == nil {
		newWorkflowExecutor = func(*workflow.Registry, *workflow.Resolver) coordinator.AgentExecutor {
			return agentrunner.NewStubWorkflowExecutor()
		}
	}
	if ceremonyExecutor == nil {
		ceremonyExecutor = agentrunner.NewStubCeremonyExecutor()
	}
	if analysis == nil {
		analysis = agentrunner.NewStubAnalysisService()
	}
	logger := slog.Default()

	bus := eventbus.New(logger)

	statePath := cfg.StatePath(projectRoot)
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		return nil, fmt.Errorf("factory: creating state dir: %w", err)
	}
	store, err := statestore.Open(statePath)
	if err != nil {
		return nil, fmt.Errorf("factory: opening state store: %w", err)
	}

	lock := sessionlock.New(cfg.LockPath(projectRoot))

	registry := workflow.NewRegistry()
	if workflowDir != "" {
		if err := registry.LoadDir(workflowDir); err != nil {
			store.Close()
			return nil, fmt.Errorf("factory: loading workflow registry: %w", err)
		}
	}
	featureResolver := featurepath.NewResolver(store)
	resolver := workflow.NewResolver(nil, nil, featureResolver)
	workflowExecutor := newWorkflowExecutor(registry, resolver)

	gate := qualitygate.New(nil, projectRoot, bus)
	artifactManager := artifacts.New(projectRoot, nil, store)

	trigger := ceremonytrigger.New(store)
	failure := ceremonyfailure.New()

	transcriptWriter := ceremony.NewFileTranscriptWriter(projectRoot)
	var vcs ceremony.VCS
	if cfg.Ceremony.AutoCommit {
		vcs = ceremony.NewGitVCS(projectRoot)
	}
	ceremonyOrchestrator := ceremony.New(ceremonyExecutor, store, transcriptWriter, vcs, logger,
		ceremony.WithAutoCommit(cfg.Ceremony.AutoCommit),
		ceremony.WithMaxRetries(cfg.Ceremony.RetryMaxAttempts),
	)

	coord := coordinator.New(workflowExecutor, gate, artifactManager, trigger, ceremonyOrchestrator, bus, logger,
		coordinator.WithMaxRetries(cfg.Ceremony.RetryMaxAttempts),
		coordinator.WithSafetyCap(cfg.Planner.MaxStoriesPerEpic),
		coordinator.WithFailureHandler(failure),
		coordinator.WithPersistenceStore(storePersistence{store: store}),
	)

	planner := scaleplanner.New(analysis, scaleplanner.LookupFunc(func(name string) bool {
		_, ok := registry.Lookup(name)
		return ok
	}), logger)

	hub := webhub.New(logger,
		webhub.WithMaxConnections(cfg.Web.MaxConnections),
		webhub.WithReplayBuffer(cfg.Web.ReplayBufferSize, secondsToDuration(cfg.Web.ReplayBufferTTLSec)),
	)
	hub.SubscribeBus(bus, "*")

	tokens, err := webhub.NewTokenManager(cfg.TokenPath(projectRoot))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("factory: initializing session token: %w", err)
	}
	var webServer *webhub.Server
	if mode == ModeWeb {
		webServer = webhub.NewServer(hub, tokens, lock, logger, bus, store)
	}

	var natsConn *nats.Conn
	var natsBridge *eventbus.NATSBridge
	if cfg.NATS.Enabled {
		natsConn, err = nats.Connect(cfg.NATS.URL)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("factory: connecting to nats: %w", err)
		}
		natsBridge = eventbus.NewNATSBridge(bus, natsConn, cfg.NATS.Subject)
	}

	return &System{
		Config:      cfg,
		Logger:      logger,
		Bus:         bus,
		Store:       store,
		Lock:        lock,
		Registry:    registry,
		Resolver:    resolver,
		Gate:        gate,
		Artifacts:   artifactManager,
		Trigger:     trigger,
		Failure:     failure,
		Ceremonies:  ceremonyOrchestrator,
		Coordinator: coord,
		Planner:     planner,
		Hub:         hub,
		WebServer:   webServer,
		natsConn:    natsConn,
		natsBridge:  natsBridge,
	}, nil
}

// Shutdown tears components down in reverse dependency order. Safe to call
// on a partially-nil System.
func (s *System) Shutdown() error {
	if s.Hub != nil {
		s.Hub.Shutdown()
	}
	if s.natsBridge != nil {
		s.natsBridge.Close()
	}
	if s.natsConn != nil {
		s.natsConn.Close()
	}
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
