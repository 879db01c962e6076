// Package runtime assembles the full server process: configuration, logging,
// storage, the task engine, the retention sweep and the HTTP listener.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	app "github.com/LoyaltyLabs/receipt_layer/internal/app"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/httpapi"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/metrics"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage/postgres"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/tasks"
	"github.com/LoyaltyLabs/receipt_layer/internal/config"
	"github.com/LoyaltyLabs/receipt_layer/pkg/logger"
)

// Server is the fully assembled process.
type Server struct {
	cfg  *config.Config
	log  *logger.Logger
	app  *app.Application
	http *http.Server
	cron *cron.Cron
	db   *sql.DB
}

// NewServer builds the process from configuration. An empty database DSN
// selects the in-memory store.
func NewServer(cfg *config.Config) (*Server, error) {
	log := logger.New(cfg.Logging).WithField("component", "server")

	var stores app.Stores
	var db *sql.DB
	var err error
	if cfg.Database.DSN != "" {
		db, err = openDatabase(cfg.Database)
		if err != nil {
			return nil, err
		}
		pg := postgres.New(db)
		stores = app.Stores{Accounts: pg, Receipts: pg, Tasks: pg}
		log.Info("using postgres storage")
	} else {
		log.Warn("no database DSN configured, using in-memory storage")
	}

	application, err := app.New(app.Options{
		Stores: stores,
		Dispatcher: tasks.DispatcherConfig{
			TickInterval:   cfg.Tasks.TickInterval(),
			MaxConcurrent:  cfg.Tasks.MaxConcurrent,
			HandlerTimeout: cfg.Tasks.HandlerTimeout(),
		},
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	handler := httpapi.NewHandler(application, httpapi.Options{AuthSecret: cfg.Server.AuthSecret}, log.WithField("component", "httpapi"))

	s := &Server{
		cfg: cfg,
		log: log,
		app: application,
		db:  db,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      handler,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		},
		cron: cron.New(),
	}

	if _, err := s.cron.AddFunc(cfg.Tasks.CleanupSchedule, s.sweepTasks); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Tasks.CleanupSchedule, err)
	}
	return s, nil
}

// Run starts background processing and blocks serving HTTP until the
// listener stops.
func (s *Server) Run(ctx context.Context) error {
	if err := s.app.Start(ctx); err != nil {
		return err
	}
	s.cron.Start()

	s.log.WithField("addr", s.http.Addr).Info("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener, the retention sweep and the task engine.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")

	if err := s.http.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("http shutdown")
	}
	<-s.cron.Stop().Done()

	err := s.app.Shutdown(ctx)
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// sweepTasks removes terminal tasks older than the retention window.
func (s *Server) sweepTasks() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.cfg.Tasks.Retention())
	removed, err := s.app.Engine.Status().Cleanup(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Warn("task retention sweep failed")
		return
	}
	if removed > 0 {
		metrics.RecordTasksCleaned(removed)
		s.log.WithField("removed", removed).Info("terminal tasks swept")
	}
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
