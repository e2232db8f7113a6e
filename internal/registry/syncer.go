// Package registry maintains the model registry: it resolves every declared
// model's backend reference to a serving endpoint, probes the endpoint for
// readiness and persists the resulting phase. Phase transitions notify the
// reconciliation engine so generated rules follow availability.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/models"
)

const (
	defaultSyncInterval   = 30 * time.Second
	defaultRequestTimeout = 5 * time.Second

	probePath = "/v1/models"
)

// Syncer keeps model phases synced with backend availability.
type Syncer struct {
	db        *gorm.DB
	endpoints map[string]string
	interval  time.Duration
	client    *http.Client
	notify    func()
}

// NewSyncer constructs a registry syncer. notify may be nil.
func NewSyncer(db *gorm.DB, cfg config.RegistryConfig, notify func()) *Syncer {
	if db == nil {
		return nil
	}
	interval := cfg.SyncInterval
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	return &Syncer{
		db:        db,
		endpoints: cfg.Endpoints,
		interval:  interval,
		client:    &http.Client{Timeout: defaultRequestTimeout},
		notify:    notify,
	}
}

// Start runs the sync loop in the background.
func (s *Syncer) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("registry syncer started (interval=%s)", s.interval)
}

func (s *Syncer) run(ctx context.Context) {
	if err := s.SyncOnce(ctx); err != nil {
		log.WithError(err).Warn("registry syncer: initial sync failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				log.WithError(err).Warn("registry syncer: sync failed")
			}
		}
	}
}

// SyncOnce resolves and probes every declared model once. Individual model
// failures mark the model failed and do not abort the pass.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("registry syncer: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var declared []models.Model
	if errFind := s.db.WithContext(ctx).Find(&declared).Error; errFind != nil {
		return fmt.Errorf("registry syncer: load models: %w", errFind)
	}

	changed := false
	for _, m := range declared {
		endpoint, phase := s.resolveAndProbe(ctx, m)
		if endpoint == m.Endpoint && phase == m.Phase {
			continue
		}
		errUpdate := s.db.WithContext(ctx).
			Model(&models.Model{}).
			Where("id = ?", m.ID).
			Updates(map[string]interface{}{
				"endpoint": endpoint,
				"phase":    phase,
			}).Error
		if errUpdate != nil {
			log.WithError(errUpdate).Warnf("registry syncer: update model %s failed", m.Name)
			continue
		}
		log.Infof("registry syncer: model %s phase %s -> %s", m.Name, m.Phase, phase)
		changed = true
	}

	if changed && s.notify != nil {
		s.notify()
	}
	return nil
}

// resolveAndProbe maps a model's backend reference to an endpoint and
// checks whether the endpoint serves.
func (s *Syncer) resolveAndProbe(ctx context.Context, m models.Model) (string, string) {
	endpoint := s.resolveEndpoint(m)
	if endpoint == "" {
		return "", models.PhasePending
	}
	if s.probe(ctx, endpoint) {
		return endpoint, models.PhaseReady
	}
	return endpoint, models.PhaseFailed
}

func (s *Syncer) resolveEndpoint(m models.Model) string {
	// External models declare their endpoint directly; backend refs
	// resolve through the configured endpoint map.
	if m.RefKind == models.RefKindExternalModel && m.Endpoint != "" {
		return m.Endpoint
	}
	if base, ok := s.endpoints[m.RefName]; ok {
		return strings.TrimRight(base, "/")
	}
	return ""
}

func (s *Syncer) probe(ctx context.Context, endpoint string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	req, errBuild := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint+probePath, nil)
	if errBuild != nil {
		return false
	}
	resp, errDo := s.client.Do(req)
	if errDo != nil {
		return false
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Debug("registry syncer: close probe body failed")
		}
	}()
	// 405 means the endpoint is alive but the discovery route is not
	// implemented; the model still serves.
	if resp.StatusCode == http.StatusMethodNotAllowed {
		return true
	}
	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
}
