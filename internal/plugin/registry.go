package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/capability"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/events"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/metrics"
)

// State is a plugin instance lifecycle stage.
type State string

const (
	StateDiscovered State = "discovered"
	StateValidated  State = "validated"
	StateLoaded     State = "loaded"
	StateEnabled    State = "enabled"
	StateDisabled   State = "disabled"
	StateUnloading  State = "unloading"
	StateUnloaded   State = "unloaded"
)

// Instance pairs an immutable manifest with a live implementation.
// Mutable fields (state, refs) are guarded by the owning Registry's mutex.
type Instance struct {
	Manifest *Manifest

	impl  capability.Implementation
	state State
	refs  int
	once  sync.Once // close happens exactly once
}

// Impl returns the live implementation for capability dispatch.
func (i *Instance) Impl() capability.Implementation { return i.impl }

// Info is a point-in-time snapshot of an instance for listings.
type Info struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Driver       string   `json:"driver"`
	State        State    `json:"state"`
	Refs         int      `json:"refs"`
	Capabilities []string `json:"capabilities"`
}

// Registry owns the plugin instance table: loading in dependency order,
// enable/disable, capability resolution with reference counting, and
// hot-reload with deferred unload of the displaced version.
type Registry struct {
	mu        sync.Mutex
	env       capability.Env
	configs   map[string]map[string]any
	instances map[string]*Instance
	retired   []*Instance
	hub       *events.Hub
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. configs maps plugin name to the
// plugin's config block from the main config document.
func NewRegistry(env capability.Env, configs map[string]map[string]any, hub *events.Hub, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if configs == nil {
		configs = make(map[string]map[string]any)
	}
	return &Registry{
		env:       env,
		configs:   configs,
		instances: make(map[string]*Instance),
		hub:       hub,
		logger:    logger,
	}
}

// Load brings a set of discovered manifests to the Loaded state in
// dependency order. Failures are per-plugin: a version mismatch, a cycle,
// or a broken driver aborts only the affected plugins, and the returned
// errors describe each one.
func (r *Registry) Load(ctx context.Context, manifests []*Manifest) []error {
	set := make(map[string]*Manifest, len(manifests))
	for _, m := range manifests {
		set[m.Name] = m
	}

	var errs []error
	failed := make(map[string]bool)

	// Check every dependency edge before ordering. A plugin whose
	// dependency is missing, incompatible, or itself failed is excluded,
	// and the exclusion propagates to its dependents.
	for changed := true; changed; {
		changed = false
		for _, m := range manifests {
			if failed[m.Name] {
				continue
			}
			for _, dep := range m.Dependencies {
				target, ok := set[dep.Name]
				if ok && !failed[dep.Name] {
					c, _ := ParseConstraint(dep.Version)
					if c.Matches(target.ParsedVersion()) {
						continue
					}
					errs = append(errs, &DependencyVersionError{
						Plugin:     m.Name,
						Dependency: dep.Name,
						Constraint: dep.Version,
						Found:      target.Version,
					})
				} else {
					errs = append(errs, &DependencyVersionError{
						Plugin:     m.Name,
						Dependency: dep.Name,
						Constraint: dep.Version,
					})
				}
				failed[m.Name] = true
				changed = true
				break
			}
		}
	}

	order, cycle := topoOrder(manifests, failed)
	if len(cycle) > 0 {
		errs = append(errs, &DependencyCycleError{Members: cycle})
	}

	for _, name := range order {
		m := set[name]
		if err := r.loadOne(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// topoOrder runs Kahn's algorithm over the non-failed manifests, taking the
// lexicographically smallest ready name first so load order is stable
// across runs. Leftover nodes are the members of at least one cycle.
func topoOrder(manifests []*Manifest, failed map[string]bool) (order []string, cycle []string) {
	indegree := make(map[string]int)
	dependents := make(map[string][]string)
	for _, m := range manifests {
		if failed[m.Name] {
			continue
		}
		indegree[m.Name] += 0
		for _, dep := range m.Dependencies {
			indegree[m.Name]++
			dependents[dep.Name] = append(dependents[dep.Name], m.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dependent := range dependents[name] {
			if _, ok := indegree[dependent]; !ok {
				continue
			}
			indegree[dependent]--
			if indegree[dependent] == 0 {
				i := sort.SearchStrings(ready, dependent)
				ready = append(ready[:i], append([]string{dependent}, ready[i:]...)...)
			}
		}
		delete(indegree, name)
	}

	for name, deg := range indegree {
		if deg > 0 {
			cycle = append(cycle, name)
		}
	}
	sort.Strings(cycle)
	return order, cycle
}

func (r *Registry) loadOne(ctx context.Context, m *Manifest) error {
	r.mu.Lock()
	if _, exists := r.instances[m.Name]; exists {
		r.mu.Unlock()
		return &PluginLoadError{Plugin: m.Name, Err: fmt.Errorf("already loaded")}
	}
	conf := r.configs[m.Name]
	r.mu.Unlock()

	inst, err := r.buildInstance(ctx, m, conf)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.instances[m.Name] = inst
	r.mu.Unlock()

	r.logger.Info("plugin loaded", "plugin", m.Name, "version", m.Version, "driver", m.Driver)
	r.publish(events.TypePluginLoaded, m)
	return nil
}

// buildInstance constructs and initializes an implementation without
// touching the instance table.
func (r *Registry) buildInstance(ctx context.Context, m *Manifest, conf map[string]any) (*Instance, error) {
	if missing := m.MissingConfigKeys(conf); len(missing) > 0 {
		return nil, &PluginLoadError{Plugin: m.Name, Err: fmt.Errorf("missing required config keys: %v", missing)}
	}

	impl, err := capability.New(m.Driver)
	if err != nil {
		return nil, &PluginLoadError{Plugin: m.Name, Err: err}
	}

	inst := &Instance{Manifest: m, impl: impl, state: StateValidated}
	if err := impl.Init(ctx, r.env, conf); err != nil {
		return nil, &PluginLoadError{Plugin: m.Name, Err: fmt.Errorf("init: %w", err)}
	}
	inst.state = StateLoaded
	return inst, nil
}

// Enable transitions a loaded or disabled plugin to Enabled. All of its
// dependencies must already be Enabled.
func (r *Registry) Enable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[name]
	if !ok {
		return fmt.Errorf("plugin %q is not loaded", name)
	}
	if inst.state == StateEnabled {
		return nil
	}
	if inst.state != StateLoaded && inst.state != StateDisabled {
		return fmt.Errorf("plugin %q cannot be enabled from state %q", name, inst.state)
	}
	for _, dep := range inst.Manifest.Dependencies {
		di, ok := r.instances[dep.Name]
		if !ok || di.state != StateEnabled {
			return fmt.Errorf("plugin %q requires %q to be enabled first", name, dep.Name)
		}
	}

	inst.state = StateEnabled
	metrics.PluginsEnabled.Inc()
	r.logger.Info("plugin enabled", "plugin", name, "version", inst.Manifest.Version)
	r.publish(events.TypePluginEnabled, inst.Manifest)
	return nil
}

// Disable transitions an enabled plugin to Disabled. Enabled dependents are
// warned about but not cascaded: they keep running and may start failing.
func (r *Registry) Disable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[name]
	if !ok {
		return fmt.Errorf("plugin %q is not loaded", name)
	}
	if inst.state != StateEnabled {
		return fmt.Errorf("plugin %q is not enabled (state %q)", name, inst.state)
	}

	for depName, depInst := range r.instances {
		if depInst.state != StateEnabled {
			continue
		}
		for _, dep := range depInst.Manifest.Dependencies {
			if dep.Name == name {
				r.logger.Warn("disabling plugin with enabled dependents",
					"plugin", name, "dependent", depName)
			}
		}
	}

	inst.state = StateDisabled
	metrics.PluginsEnabled.Dec()
	r.logger.Info("plugin disabled", "plugin", name)
	r.publish(events.TypePluginDisabled, inst.Manifest)
	return nil
}

// Resolve returns the Enabled instance providing the named capability, with
// its reference count incremented. The caller must call release exactly once
// when execution finishes; release completes any deferred unload. When more
// than one enabled plugin provides the capability the lexicographically
// smallest plugin name wins.
func (r *Registry) Resolve(capName string) (*Instance, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var chosen *Instance
	for _, inst := range r.instances {
		if inst.state != StateEnabled {
			continue
		}
		if _, ok := inst.Manifest.Provides(capName); !ok {
			continue
		}
		if chosen == nil || inst.Manifest.Name < chosen.Manifest.Name {
			chosen = inst
		}
	}
	if chosen == nil {
		return nil, nil, fmt.Errorf("no enabled plugin provides capability %q", capName)
	}

	chosen.refs++
	var once sync.Once
	release := func() {
		once.Do(func() { r.release(chosen) })
	}
	return chosen, release, nil
}

// ResolveCapability is Resolve flattened for executors: the implementation,
// the capability kind, and the release closure.
func (r *Registry) ResolveCapability(capName string) (capability.Implementation, capability.Kind, func(), error) {
	inst, release, err := r.Resolve(capName)
	if err != nil {
		return nil, "", nil, err
	}
	kind, _ := inst.Manifest.Provides(capName)
	return inst.Impl(), kind, release, nil
}

func (r *Registry) release(inst *Instance) {
	r.mu.Lock()
	inst.refs--
	drained := inst.state == StateUnloading && inst.refs == 0
	if drained {
		inst.state = StateUnloaded
		r.dropRetired(inst)
	}
	r.mu.Unlock()

	if drained {
		r.closeInstance(inst)
	}
}

// dropRetired removes a fully drained instance from the retired list so List
// stops reporting versions that no longer exist. Caller holds r.mu.
func (r *Registry) dropRetired(inst *Instance) {
	for i, old := range r.retired {
		if old == inst {
			r.retired = append(r.retired[:i], r.retired[i+1:]...)
			return
		}
	}
}

// HotReload loads a new manifest for a plugin side by side with the running
// version. Once the new instance is Enabled it takes over routing; the old
// instance unloads immediately if idle, otherwise it waits in Unloading
// until its last in-flight task releases it.
func (r *Registry) HotReload(ctx context.Context, m *Manifest) error {
	r.mu.Lock()
	for _, dep := range m.Dependencies {
		di, ok := r.instances[dep.Name]
		if !ok || di.state != StateEnabled {
			r.mu.Unlock()
			return &DependencyVersionError{Plugin: m.Name, Dependency: dep.Name, Constraint: dep.Version}
		}
		c, err := ParseConstraint(dep.Version)
		if err != nil {
			r.mu.Unlock()
			return &ManifestError{Reason: fmt.Sprintf("dependency %q: %v", dep.Name, err)}
		}
		if !c.Matches(di.Manifest.ParsedVersion()) {
			r.mu.Unlock()
			return &DependencyVersionError{
				Plugin:     m.Name,
				Dependency: dep.Name,
				Constraint: dep.Version,
				Found:      di.Manifest.Version,
			}
		}
	}
	conf := r.configs[m.Name]
	r.mu.Unlock()

	inst, err := r.buildInstance(ctx, m, conf)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.instances[m.Name]
	inst.state = StateEnabled
	r.instances[m.Name] = inst
	if old == nil || old.state != StateEnabled {
		metrics.PluginsEnabled.Inc()
	}

	var closeOld bool
	if old != nil {
		if old.refs == 0 {
			old.state = StateUnloaded
			closeOld = true
		} else {
			old.state = StateUnloading
			r.retired = append(r.retired, old)
		}
	}
	r.mu.Unlock()

	r.publish(events.TypePluginLoaded, m)
	r.publish(events.TypePluginEnabled, m)
	r.logger.Info("plugin hot-reloaded", "plugin", m.Name, "version", m.Version)

	if old != nil {
		r.publish(events.TypePluginUnloading, old.Manifest)
		if closeOld {
			r.closeInstance(old)
		} else {
			r.logger.Info("old plugin version draining",
				"plugin", old.Manifest.Name, "version", old.Manifest.Version)
		}
	}
	return nil
}

// List returns a snapshot of all instances, current and retired, sorted by
// name then version.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*Instance, 0, len(r.instances)+len(r.retired))
	for _, inst := range r.instances {
		all = append(all, inst)
	}
	all = append(all, r.retired...)

	infos := make([]Info, 0, len(all))
	for _, inst := range all {
		caps := make([]string, 0, len(inst.Manifest.Capabilities))
		for _, c := range inst.Manifest.Capabilities {
			caps = append(caps, c.Name)
		}
		infos = append(infos, Info{
			Name:         inst.Manifest.Name,
			Version:      inst.Manifest.Version,
			Driver:       inst.Manifest.Driver,
			State:        inst.state,
			Refs:         inst.refs,
			Capabilities: caps,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].Version < infos[j].Version
	})
	return infos
}

// Get returns the snapshot for a single plugin by name.
func (r *Registry) Get(name string) (Info, bool) {
	for _, info := range r.List() {
		if info.Name == name {
			return info, true
		}
	}
	return Info{}, false
}

// Shutdown closes every current instance. In-flight references are not
// waited for; the orchestrator drains before calling this.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	var toClose []*Instance
	for _, inst := range r.instances {
		if inst.state == StateEnabled {
			metrics.PluginsEnabled.Dec()
		}
		if inst.state != StateUnloaded {
			inst.state = StateUnloaded
			toClose = append(toClose, inst)
		}
	}
	r.mu.Unlock()

	for _, inst := range toClose {
		r.closeInstance(inst)
	}
}

func (r *Registry) closeInstance(inst *Instance) {
	inst.once.Do(func() {
		if err := inst.impl.Close(context.Background()); err != nil {
			r.logger.Warn("plugin close failed",
				"plugin", inst.Manifest.Name, "version", inst.Manifest.Version, "error", err)
		}
		r.logger.Info("plugin unloaded",
			"plugin", inst.Manifest.Name, "version", inst.Manifest.Version)
		r.publish(events.TypePluginUnloaded, inst.Manifest)
	})
}

func (r *Registry) publish(eventType string, m *Manifest) {
	if r.hub == nil {
		return
	}
	r.hub.Publish(eventType, map[string]any{
		"plugin":  m.Name,
		"version": m.Version,
	})
}
