// Package discovery answers "which models can this caller use right now".
// Candidates come from the access ruleset; each candidate's serving
// endpoint is then probed live with the caller's own credentials so the
// answer reflects both authorization and availability.
package discovery

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/enforce"
	"github.com/modelgate/modelgate/internal/models"
)

const probePath = "/v1/models"

// Entry is one discoverable model.
type Entry struct {
	Name     string `json:"id"`
	Endpoint string `json:"endpoint,omitempty"`
	Phase    string `json:"phase"`
	Kind     string `json:"kind,omitempty"`
}

// Service lists the models accessible to a caller.
type Service struct {
	db          *gorm.DB
	gate        *enforce.Gatekeeper
	client      *http.Client
	timeout     time.Duration
	concurrency int
}

// NewService constructs a discovery service.
func NewService(db *gorm.DB, gate *enforce.Gatekeeper, cfg config.ProbeConfig) *Service {
	if db == nil || gate == nil {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Service{
		db:          db,
		gate:        gate,
		client:      &http.Client{Timeout: timeout},
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// ListAccessible returns the ready models granted to the caller's groups
// whose endpoints answer a live probe. The caller's authorization header is
// forwarded so backends enforcing their own auth answer for this caller,
// not for the gateway. Probe failures exclude the model and never fail the
// listing.
func (s *Service) ListAccessible(ctx context.Context, groups []string, authorization string) ([]Entry, error) {
	granted := s.gate.ListAccessibleModels(groups)
	if len(granted) == 0 {
		return []Entry{}, nil
	}

	var candidates []models.Model
	errFind := s.db.WithContext(ctx).
		Where("name IN ? AND phase = ?", granted, models.PhaseReady).
		Find(&candidates).Error
	if errFind != nil {
		return nil, errFind
	}

	entries := make([]Entry, len(candidates))
	include := make([]bool, len(candidates))

	group, probeCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for i := range candidates {
		i := i
		group.Go(func() error {
			m := candidates[i]
			if s.probe(probeCtx, m.Endpoint, authorization) {
				entries[i] = Entry{Name: m.Name, Endpoint: m.Endpoint, Phase: m.Phase, Kind: m.RefKind}
				include[i] = true
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(candidates))
	for i, ok := range include {
		if ok {
			out = append(out, entries[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) probe(ctx context.Context, endpoint, authorization string) bool {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, errBuild := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint+probePath, nil)
	if errBuild != nil {
		return false
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, errDo := s.client.Do(req)
	if errDo != nil {
		log.WithError(errDo).Debugf("discovery: probe %s failed", endpoint)
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusMethodNotAllowed {
		return true
	}
	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
}
