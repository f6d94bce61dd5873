// Package orchestrator owns the cluster table: it starts clusters from
// a resolved template, wires each agent's collaborators, applies the
// closed set of cluster operations hooks and CLUSTER_OPERATIONS
// messages produce, and exposes the control surface
// (Start/List/Status/Logs/Stop/Kill/Resume/Purge).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshrun/meshrun/pkg/agent"
	"github.com/meshrun/meshrun/pkg/bus"
	"github.com/meshrun/meshrun/pkg/config"
	"github.com/meshrun/meshrun/pkg/hooks"
	"github.com/meshrun/meshrun/pkg/isolation"
	"github.com/meshrun/meshrun/pkg/ledger"
	"github.com/meshrun/meshrun/pkg/models"
	"github.com/meshrun/meshrun/pkg/promptctx"
	"github.com/meshrun/meshrun/pkg/runner"
	"github.com/meshrun/meshrun/pkg/template"
	"github.com/meshrun/meshrun/pkg/trigger"
)

// RunnerFactory constructs the Runner a newly started cluster's agents
// will use; tests substitute a canned implementation here.
type RunnerFactory func() runner.Runner

// clusterOperationsConsumer is the bus subscription name
// runClusterOperations listens on; it is not a real agent name so it
// never collides with one.
const clusterOperationsConsumer = "_cluster-operations"

// StartOptions carries the per-start overrides the control surface
// accepts on top of a template's own defaults.
type StartOptions struct {
	Name         string
	Params       map[string]any
	WorkDir      string
	WorktreePath string
	ParentID     string
	// Input seeds the cluster's ISSUE_OPENED message: the issue body,
	// file contents, or free text the run was started from.
	Input string
	// InputSource records where Input came from. Defaults to
	// models.InputSourceText when Input is non-empty and InputSource
	// is left unset.
	InputSource models.InputSource
}

// runningCluster holds everything a started cluster needs to keep
// running: its ledger/bus, its agent table (mutable at runtime via
// CLUSTER_OPERATIONS add_agents/remove_agent), and the shared,
// cluster-scoped collaborators every agent — present at start or
// added later — is wired with.
type runningCluster struct {
	cluster models.Cluster
	ledger  *ledger.Ledger
	bus     *bus.Bus
	cancel  context.CancelFunc
	ctx     context.Context
	parent  string

	agentsMu sync.RWMutex
	agents   map[string]*agent.Agent

	// opsMu serializes CLUSTER_OPERATIONS application so a batch of
	// operations is applied atomically with respect to any other
	// batch, even though add_agents/remove_agent/publish/stop run
	// sequentially within applyClusterOperations.
	opsMu sync.Mutex

	triggerEngine  *trigger.Engine
	fireGuard      *trigger.FireGuard
	promptBuilder  *promptctx.Builder
	hookRunner     *hooks.Runner
	baseIsolation  isolation.Config
	runnerFactory  RunnerFactory
	modelCeiling   string
	modelFloor     string
	defaultStale   time.Duration
	logger         *slog.Logger
}

// Orchestrator is the top-level entry point of the engine.
type Orchestrator struct {
	settings      *config.Settings
	resolver      *template.Resolver
	runnerFactory RunnerFactory
	logger        *slog.Logger
	registry      *registry

	mu       sync.RWMutex
	clusters map[string]*runningCluster
}

// New constructs an Orchestrator against settings, using factory to
// build each cluster's Runner.
func New(settings *config.Settings, factory RunnerFactory, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		settings:      settings,
		resolver:      template.NewResolver(settings),
		runnerFactory: factory,
		logger:        logger,
		registry:      newRegistry(settings.Defaults.StateDir),
		clusters:      make(map[string]*runningCluster),
	}
}

// Start resolves templateID, opens a fresh ledger for a new cluster,
// starts every agent's subscription loop, and — when an input was
// given — seeds the ledger with an ISSUE_OPENED message recording it.
func (o *Orchestrator) Start(ctx context.Context, templateID string, opts StartOptions) (models.Cluster, error) {
	agentDefs, err := o.resolver.Resolve(templateID, opts.Params)
	if err != nil {
		return models.Cluster{}, err
	}

	clusterID := uuid.NewString()
	stateDir := o.settings.Defaults.StateDir
	cluster := models.Cluster{
		ID:           clusterID,
		Name:         opts.Name,
		TemplateID:   templateID,
		Status:       models.ClusterStarting,
		StateDir:     stateDir,
		WorktreePath: opts.WorktreePath,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	l, err := ledger.Open(clusterID, filepath.Join(stateDir, clusterID+".db"))
	if err != nil {
		return models.Cluster{}, err
	}

	rc, err := o.wireCluster(cluster, l, agentDefs, opts)
	if err != nil {
		_ = l.Close()
		return models.Cluster{}, err
	}
	rc.parent = opts.ParentID
	rc.cluster.Status = models.ClusterRunning

	o.mu.Lock()
	o.clusters[clusterID] = rc
	o.mu.Unlock()

	if opts.Input != "" {
		source := opts.InputSource
		if source == "" {
			source = models.InputSourceText
		}
		if _, err := rc.bus.Publish(ctx, models.MessageIssueOpened, "", map[string]any{"input": opts.Input}, map[string]any{models.MetaSource: string(source)}); err != nil {
			o.logger.Error("failed to seed ISSUE_OPENED", "cluster_id", clusterID, "error", err)
		}
	}

	if err := o.persistLocked(); err != nil {
		o.logger.Error("failed to persist cluster registry", "error", err)
	}

	if opts.ParentID != "" {
		if parent, ok := o.lookup(opts.ParentID); ok {
			_, _ = parent.bus.Publish(ctx, models.MessageSubClusterSpawned, "", map[string]any{"cluster_id": clusterID, "template": templateID}, nil)
		}
	}

	o.logger.Info("cluster started", "cluster_id", clusterID, "template", templateID, "agents", len(agentDefs))
	return rc.cluster, nil
}

// wireCluster builds the bus, the cluster-wide shared collaborators,
// starts every initial agent's notification loop, and subscribes the
// CLUSTER_OPERATIONS dispatcher.
func (o *Orchestrator) wireCluster(cluster models.Cluster, l *ledger.Ledger, defs map[string]models.AgentDefinition, opts StartOptions) (*runningCluster, error) {
	b := bus.New(l)
	ctx, cancel := context.WithCancel(context.Background())

	rc := &runningCluster{
		cluster: cluster,
		ledger:  l,
		bus:     b,
		ctx:     ctx,
		cancel:  cancel,
		agents:  make(map[string]*agent.Agent, len(defs)),

		triggerEngine: trigger.NewEngine(o.settings.Defaults.TriggerBudget),
		fireGuard:     trigger.NewFireGuard(),
		promptBuilder: promptctx.NewBuilder(l),
		hookRunner:    hooks.NewRunner(),
		baseIsolation: isolation.Config{
			WorkDir:      opts.WorkDir,
			WorktreePath: opts.WorktreePath,
		},
		runnerFactory: o.runnerFactory,
		modelCeiling:  o.settings.Defaults.ModelCeiling,
		modelFloor:    o.settings.Defaults.ModelFloor,
		defaultStale:  o.settings.Defaults.StaleAfter,
		logger:        o.logger,
	}

	for name, def := range defs {
		o.startAgent(rc, name, def)
	}

	go o.runClusterOperations(rc)

	return rc, nil
}

// startAgent constructs one agent's Deps from rc's shared
// collaborators, registers it in rc.agents, and starts its
// notification loop. It takes rc.agentsMu itself to register the
// agent, so callers must not hold it.
func (o *Orchestrator) startAgent(rc *runningCluster, name string, def models.AgentDefinition) *agent.Agent {
	if def.StaleAfter == 0 {
		def.StaleAfter = rc.defaultStale
	}
	deps := agent.Deps{
		Bus:           rc.bus,
		Trigger:       rc.triggerEngine,
		FireGuard:     rc.fireGuard,
		PromptBuilder: rc.promptBuilder,
		Runner:        rc.runnerFactory(),
		HookRunner:    rc.hookRunner,
		Sink:          o,
		Isolation:     rc.baseIsolation,
		ModelCeiling:  rc.modelCeiling,
		ModelFloor:    rc.modelFloor,
		Logger:        rc.logger,
	}
	a := agent.New(rc.cluster.ID, def, deps)

	rc.agentsMu.Lock()
	rc.agents[name] = a
	rc.agentsMu.Unlock()

	ch := rc.bus.Subscribe(name)
	go func(a *agent.Agent, ch <-chan models.Message) {
		for msg := range ch {
			if err := a.OnMessage(rc.ctx, msg); err != nil {
				o.logger.Debug("agent.OnMessage returned error", "agent", a.Name(), "error", err)
			}
		}
	}(a, ch)

	return a
}

// List returns every cluster the orchestrator currently knows about.
func (o *Orchestrator) List() []models.Cluster {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.Cluster, 0, len(o.clusters))
	for _, rc := range o.clusters {
		out = append(out, rc.cluster)
	}
	return out
}

// ClusterStatus is the control surface's per-cluster status report.
type ClusterStatus struct {
	Cluster models.Cluster    `json:"cluster"`
	Agents  []models.Snapshot `json:"agents"`
}

// Status reports a cluster's record plus a snapshot of every agent's
// runtime state.
func (o *Orchestrator) Status(clusterID string) (ClusterStatus, error) {
	rc, ok := o.lookup(clusterID)
	if !ok {
		return ClusterStatus{}, &ClusterNotFoundError{ClusterID: clusterID}
	}
	rc.agentsMu.RLock()
	snaps := make([]models.Snapshot, 0, len(rc.agents))
	for _, a := range rc.agents {
		snaps = append(snaps, a.Runtime().Snapshot())
	}
	rc.agentsMu.RUnlock()
	return ClusterStatus{Cluster: rc.cluster, Agents: snaps}, nil
}

// Logs returns the cluster's ledger messages. When follow is true the
// channel stays open and also receives newly published messages until
// ctx is cancelled; otherwise it delivers the current history and
// closes.
func (o *Orchestrator) Logs(ctx context.Context, clusterID string, follow bool) (<-chan models.Message, error) {
	rc, ok := o.lookup(clusterID)
	if !ok {
		return nil, &ClusterNotFoundError{ClusterID: clusterID}
	}

	history, err := rc.ledger.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan models.Message, len(history)+1)
	for _, m := range history {
		out <- m
	}

	if !follow {
		close(out)
		return out, nil
	}

	consumerName := fmt.Sprintf("_control-%s", uuid.NewString())
	live := rc.bus.Subscribe(consumerName)
	go func() {
		defer close(out)
		defer rc.bus.Unsubscribe(consumerName)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-live:
				if !ok {
					return
				}
				out <- msg
			}
		}
	}()

	return out, nil
}

func (o *Orchestrator) lookup(clusterID string) (*runningCluster, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rc, ok := o.clusters[clusterID]
	return rc, ok
}

func (o *Orchestrator) persistLocked() error {
	o.mu.RLock()
	snapshot := make(map[string]models.Cluster, len(o.clusters))
	for id, rc := range o.clusters {
		snapshot[id] = rc.cluster
	}
	o.mu.RUnlock()
	return o.registry.save(snapshot)
}
