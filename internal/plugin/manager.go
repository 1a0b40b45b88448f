package plugin

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/me/harvest/internal/scheduler"
)

// Builtin constructs the collector function for a compiled-in collector,
// given the name of the plugin registering it.
type Builtin func(pluginName string) scheduler.CollectorFn

// Manager owns the mapping from plugin names to scheduler groups. It
// assigns a fresh group id per loaded plugin instance, resolves name-level
// dependencies to group ids, and registers every collector.
type Manager struct {
	sched    *scheduler.Scheduler
	logger   *slog.Logger
	builtins map[string]Builtin

	mu     sync.Mutex
	groups map[string]uuid.UUID
}

// NewManager creates a Manager registering into sched. builtins maps
// builtin collector names (as referenced by manifests) to their factories.
func NewManager(sched *scheduler.Scheduler, builtins map[string]Builtin, logger *slog.Logger) *Manager {
	return &Manager{
		sched:    sched,
		logger:   logger.With("component", "plugin-manager"),
		builtins: builtins,
		groups:   make(map[string]uuid.UUID),
	}
}

// registration is one collector ready to hand to the scheduler.
type registration struct {
	group uuid.UUID
	name  string
	deps  []uuid.UUID
	fn    scheduler.CollectorFn
}

// Load registers all collectors of the given manifests. Group ids are
// staged for every manifest before dependencies are resolved, so manifests
// may depend on plugins loaded in the same call regardless of order.
// Dependencies may also name plugins loaded earlier. The whole batch is
// validated before anything is registered; a bad manifest leaves neither
// group ids nor collectors behind.
func (m *Manager) Load(manifests []*Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[string]uuid.UUID, len(manifests))
	for _, mf := range manifests {
		if _, dup := m.groups[mf.Name]; dup {
			return fmt.Errorf("plugin %s already loaded", mf.Name)
		}
		if _, dup := staged[mf.Name]; dup {
			return fmt.Errorf("plugin %s already loaded", mf.Name)
		}
		staged[mf.Name] = uuid.New()
	}

	var regs []registration
	for _, mf := range manifests {
		group := staged[mf.Name]

		deps := make([]uuid.UUID, 0, len(mf.DependsOn))
		for _, depName := range mf.DependsOn {
			depGroup, ok := staged[depName]
			if !ok {
				depGroup, ok = m.groups[depName]
			}
			if !ok {
				return fmt.Errorf("plugin %s depends on unknown plugin %s", mf.Name, depName)
			}
			deps = append(deps, depGroup)
		}

		for _, cs := range mf.Collectors {
			fn, err := m.collectorFn(mf, cs)
			if err != nil {
				return err
			}
			regs = append(regs, registration{group: group, name: cs.Name, deps: deps, fn: fn})
		}
	}

	// Commit: the batch is known good.
	for name, group := range staged {
		m.groups[name] = group
	}
	for _, r := range regs {
		m.sched.Add(r.group, r.name, r.deps, r.fn)
	}
	for _, mf := range manifests {
		m.logger.Info("plugin loaded", "plugin", mf.Name, "group", staged[mf.Name],
			"collectors", len(mf.Collectors), "deps", mf.DependsOn)
	}
	return nil
}

// LoadDir loads every manifest found in dir.
func (m *Manager) LoadDir(dir string) error {
	manifests, err := LoadDir(dir)
	if err != nil {
		return err
	}
	return m.Load(manifests)
}

func (m *Manager) collectorFn(mf *Manifest, cs CollectorSpec) (scheduler.CollectorFn, error) {
	if cs.Builtin != "" {
		factory, ok := m.builtins[cs.Builtin]
		if !ok {
			return nil, fmt.Errorf("plugin %s: collector %q references unknown builtin %q", mf.Name, cs.Name, cs.Builtin)
		}
		return factory(mf.Name), nil
	}
	return newScriptFn(mf.Name, cs.Name, mf.DependsOn, cs.Script), nil
}

// Unload removes every collector of the named plugin, joining their workers
// before returning. Plugins that depend on an unloaded plugin keep their
// dependency; a later pass over them fails with unmet dependencies.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	group, ok := m.groups[name]
	if ok {
		delete(m.groups, name)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugin %s not loaded", name)
	}

	m.sched.RemoveGroup(group)
	m.logger.Info("plugin unloaded", "plugin", name, "group", group)
	return nil
}

// Group returns the scheduler group assigned to the named plugin.
func (m *Manager) Group(name string) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[name]
	return g, ok
}

// Plugins returns the names of all loaded plugins.
func (m *Manager) Plugins() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.groups))
	for name := range m.groups {
		names = append(names, name)
	}
	return names
}
