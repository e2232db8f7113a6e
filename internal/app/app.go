// Package app assembles the service: storage, reconciliation, enforcement,
// discovery and the HTTP surface, plus the background loops that keep them
// converged.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/credential"
	"github.com/modelgate/modelgate/internal/db"
	"github.com/modelgate/modelgate/internal/discovery"
	"github.com/modelgate/modelgate/internal/enforce"
	"github.com/modelgate/modelgate/internal/http/api"
	"github.com/modelgate/modelgate/internal/reconcile"
	"github.com/modelgate/modelgate/internal/registry"
)

const (
	shutdownTimeout       = 10 * time.Second
	expiryNormalizePeriod = time.Hour
	reconcileScopeDefault = "cluster"
	reconcileTimeout      = 30 * time.Second
)

// Run starts the service and blocks until ctx is canceled.
func Run(ctx context.Context, cfg config.Config) error {
	conn, errOpen := db.Open(cfg.Storage)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	credentials := credential.NewStore(conn, nil)
	gate := enforce.NewGatekeeper()
	limiter := enforce.NewManager(cfg.Redis, nil, nil)
	enforcer := enforce.NewEnforcer(gate, limiter)

	engine := reconcile.NewEngine(conn, gate.Swap)
	rules := reconcile.NewRuleStore(conn)
	if errBaseline := rules.EnsureBaseline(ctx); errBaseline != nil {
		return errBaseline
	}

	queue := reconcile.NewQueue(func(ctx context.Context, scope string) error {
		passCtx, cancel := context.WithTimeout(ctx, reconcileTimeout)
		defer cancel()
		_, errReconcile := engine.Reconcile(passCtx)
		return errReconcile
	})
	queue.Start(ctx)
	queue.Notify(reconcileScopeDefault)

	syncer := registry.NewSyncer(conn, cfg.Registry, func() {
		queue.Notify(reconcileScopeDefault)
	})
	syncer.Start(ctx)

	go normalizeExpiredLoop(ctx, credentials)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api.Register(router, api.Deps{
		DB:          conn,
		Credentials: credentials,
		Discovery:   discovery.NewService(conn, gate, cfg.Probe),
		Enforcer:    enforcer,
		Identity:    cfg.Identity,
		Notify: func() {
			queue.Notify(reconcileScopeDefault)
		},
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", server.Addr)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case errServe := <-errCh:
		if errServe != nil {
			return fmt.Errorf("app: serve: %w", errServe)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("app: shutdown: %w", errShutdown)
	}
	queue.Wait()
	log.Info("shutdown complete")
	return nil
}

// normalizeExpiredLoop periodically flips expired-but-active credential rows
// so the stored status stays accurate for audits.
func normalizeExpiredLoop(ctx context.Context, store *credential.Store) {
	ticker := time.NewTicker(expiryNormalizePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, errNormalize := store.NormalizeExpired(ctx)
			if errNormalize != nil {
				log.WithError(errNormalize).Warn("credential: normalize expired failed")
				continue
			}
			if count > 0 {
				log.Infof("credential: marked %d credentials expired", count)
			}
		}
	}
}
