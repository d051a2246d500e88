// internal/provider/registry.go
package provider

import (
	"encoding/json"
	"sync"
	"time"

	"mailcourier/internal/common/errors"
	commonhttp "mailcourier/internal/common/http"
	"mailcourier/internal/common/logger"
	"mailcourier/internal/models"
)

// Registry builds concrete adapters from validated team configurations. It
// is passed explicitly into the delivery queue at construction; there is no
// process-wide adapter state. Built adapters are cached per config id and
// revision, so a retried job does not re-validate the schema or rebuild a
// provider client.
type Registry struct {
	httpClient *commonhttp.Client
	logger     logger.Logger

	mu    sync.Mutex
	cache map[string]cachedAdapter
}

type cachedAdapter struct {
	revisedAt time.Time
	adapter   Adapter
}

// NewRegistry creates a registry whose HTTP-based adapters share one
// timeout-bounded client.
func NewRegistry(log logger.Logger, providerTimeout time.Duration) *Registry {
	return &Registry{
		httpClient: commonhttp.NewClient(providerTimeout),
		logger:     log,
		cache:      make(map[string]cachedAdapter),
	}
}

// Build validates cfg against its kind's field schema and constructs the
// adapter, reusing the cached instance while the config is unrevised.
// Dispatch on kind happens once here, not per call.
func (r *Registry) Build(cfg *models.AdapterConfig) (Adapter, error) {
	if cfg.ID != "" {
		r.mu.Lock()
		if entry, ok := r.cache[cfg.ID]; ok && entry.revisedAt.Equal(cfg.UpdatedAt) {
			r.mu.Unlock()
			return entry.adapter, nil
		}
		r.mu.Unlock()
	}

	adapter, err := r.build(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.ID != "" {
		r.mu.Lock()
		r.cache[cfg.ID] = cachedAdapter{revisedAt: cfg.UpdatedAt, adapter: adapter}
		r.mu.Unlock()
	}
	return adapter, nil
}

func (r *Registry) build(cfg *models.AdapterConfig) (Adapter, error) {
	if err := ValidateConfig(cfg.Kind, cfg.Config); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case models.ProviderSES:
		return newSESAdapter(cfg.Config)
	case models.ProviderSMTP:
		return newSMTPAdapter(cfg.Config)
	case models.ProviderSendGrid:
		return newSendGridAdapter(cfg.Config, r.httpClient)
	case models.ProviderMailgun:
		return newMailgunAdapter(cfg.Config, r.httpClient)
	case models.ProviderPostmark:
		return newPostmarkAdapter(cfg.Config, r.httpClient)
	case models.ProviderResend:
		return newResendAdapter(cfg.Config, r.httpClient)
	default:
		return nil, errors.NewAdapterConfigInvalidError(string(cfg.Kind), "unknown provider kind")
	}
}

// decodeConfig unmarshals a validated blob into a typed adapter config,
// filling schema defaults first.
func decodeConfig(kind models.ProviderKind, raw json.RawMessage, out interface{}) error {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errors.NewAdapterConfigInvalidError(string(kind), err.Error())
	}
	applyDefaults(kind, doc)

	buf, err := json.Marshal(doc)
	if err != nil {
		return errors.NewAdapterConfigInvalidError(string(kind), err.Error())
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return errors.NewAdapterConfigInvalidError(string(kind), err.Error())
	}
	return nil
}
