package eventsystem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry and Engine.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides rule management with caching and thread safety.
// It wraps a Repository and keeps every rule in memory so the engine can
// evaluate device changes without touching SQLite.
//
// All public methods are thread-safe. Returned rules are deep copies.
type Registry struct {
	repo    Repository
	cache   map[string]*Rule
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new rule registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Rule),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all rules from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	rules, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Rule, len(rules))
	for i := range rules {
		r.cache[rules[i].ID] = rules[i].DeepCopy()
	}

	r.logger.Info("rule cache refreshed", "count", len(rules))
	return nil
}

// GetRule retrieves a rule by ID.
func (r *Registry) GetRule(_ context.Context, id string) (*Rule, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrRuleNotFound
}

// ListRules returns all rules sorted by name.
func (r *Registry) ListRules(_ context.Context) []Rule {
	return r.collect(func(*Rule) bool { return true })
}

// DeviceRules returns the enabled rules triggered by changes of device idx.
func (r *Registry) DeviceRules(idx int64) []Rule {
	return r.collect(func(rule *Rule) bool {
		return rule.Enabled && rule.Trigger.Type == TriggerDevice && rule.Trigger.DeviceIdx == idx
	})
}

// TimeRules returns the enabled rules with a time trigger.
func (r *Registry) TimeRules() []Rule {
	return r.collect(func(rule *Rule) bool {
		return rule.Enabled && rule.Trigger.Type == TriggerTime
	})
}

func (r *Registry) collect(keep func(*Rule) bool) []Rule {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	rules := make([]Rule, 0, len(r.cache))
	for _, rule := range r.cache {
		if keep(rule) {
			rules = append(rules, *rule.DeepCopy())
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}

// CreateRule validates, persists, and caches a new rule.
func (r *Registry) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = GenerateID()
	}
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, rule); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("rule created", "id", rule.ID, "name", rule.Name)
	return nil
}

// UpdateRule validates and persists a rule definition. Firing statistics
// are kept from the cached rule.
func (r *Registry) UpdateRule(ctx context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	existing, err := r.GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	if err := r.repo.Update(ctx, rule); err != nil {
		return err
	}

	rule.LastFired = existing.LastFired
	rule.FireCount = existing.FireCount
	rule.CreatedAt = existing.CreatedAt

	r.cacheMu.Lock()
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("rule updated", "id", rule.ID, "name", rule.Name)
	return nil
}

// DeleteRule removes a rule from persistence and cache.
func (r *Registry) DeleteRule(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("rule deleted", "id", id)
	return nil
}

// MarkFired records that a rule fired at the given time.
func (r *Registry) MarkFired(ctx context.Context, id string, at time.Time) error {
	if err := r.repo.MarkFired(ctx, id, at); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		t := at
		cached.LastFired = &t
		cached.FireCount++
	}
	r.cacheMu.Unlock()
	return nil
}

// Count returns the number of cached rules.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
