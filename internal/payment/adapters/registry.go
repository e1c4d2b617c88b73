package adapters

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/payment/domain"
	"go.uber.org/zap"
)

// Registry resolves payment adapters by provider name. It is built once at
// start-up and shared by reference.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]domain.PaymentAdapter
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{adapters: map[string]domain.PaymentAdapter{}, log: log}
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func (r *Registry) Register(name string, adapter domain.PaymentAdapter) {
	name = normalize(name)
	if name == "" || adapter == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
}

// Get returns ErrProviderNotFound for unknown names. That is a configuration
// problem, so it is logged loudly.
func (r *Registry) Get(name string) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider := normalize(name)
	r.mu.RLock()
	adapter, ok := r.adapters[provider]
	r.mu.RUnlock()
	if !ok {
		r.log.Error("payment provider not registered", zap.String("provider", provider))
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, provider)
	}
	return adapter, nil
}

func (r *Registry) ProviderExists(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[normalize(name)]
	return ok
}

// List returns adapters ordered by provider name.
func (r *Registry) List() []domain.PaymentAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.PaymentAdapter, 0, len(names))
	for _, name := range names {
		out = append(out, r.adapters[name])
	}
	return out
}

// NewFromConfig builds adapters for every enabled provider. A provider that is
// enabled but misconfigured fails start-up.
func NewFromConfig(cfg config.Config, log *zap.Logger, factories ...domain.AdapterFactory) (*Registry, error) {
	registry := NewRegistry(log)
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		providerCfg, ok := cfg.Providers[provider]
		if !ok || !providerCfg.Enabled {
			continue
		}
		adapter, err := factory.NewAdapter(domain.AdapterConfig{
			Provider: provider,
			Timeout:  cfg.Settlement.NetworkTimeout,
			Config:   providerCfg.Values,
		})
		if err != nil {
			return nil, fmt.Errorf("payment provider %s: %w", provider, err)
		}
		registry.Register(provider, adapter)
		registry.log.Info("payment provider registered", zap.String("provider", provider))
	}
	return registry, nil
}
