package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sant-anurag/feas/internal/config"
	"github.com/sant-anurag/feas/internal/database"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Application wires configuration, database, router, and server lifecycle.
type Application struct {
	cfg    config.Application
	db     *pgxpool.Pool
	router *mux.Router
	srv    *http.Server
}

// NewApplication constructs the full HTTP application, ready to Run().
func NewApplication() (*Application, error) {
	cfg, err := config.Load("./config/application.yaml")
	if err != nil {
		return nil, err
	}
	settings, err := parseSettings(cfg)
	if err != nil {
		return nil, err
	}

	// DB + migrations
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(cfg.Database); err != nil {
		db.Close()
		return nil, err
	}

	r := mux.NewRouter()

	// Build dependencies (services, handlers...)
	deps := BuildDependencies(db, settings)

	// Middleware chain
	SetupMiddleware(r, deps)

	// Routes
	RegisterRoutes(r, deps)

	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.Server.Addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Application{cfg: cfg, db: db, router: r, srv: srv}, nil
}

// Run starts the HTTP server and blocks.
func (a *Application) Run() error {
	defer a.db.Close()
	log.Infof("Starting server on %s", a.srv.Addr)
	return a.srv.ListenAndServe()
}

// Settings are the configuration values services need, parsed into their domain types.
type Settings struct {
	DefaultMonthlyCap decimal.Decimal
	PunchTxOptions    pgx.TxOptions
	LockAllocation    bool
}

func parseSettings(cfg config.Application) (Settings, error) {
	defaultCap, err := decimal.NewFromString(cfg.Allocation.DefaultMonthlyCap)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid allocation.defaultmonthlycap %q: %w", cfg.Allocation.DefaultMonthlyCap, err)
	}
	if defaultCap.IsNegative() {
		return Settings{}, fmt.Errorf("allocation.defaultmonthlycap must not be negative, got %s", defaultCap.String())
	}
	isolation, err := database.ParseIsolation(cfg.Punch.Isolation)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid punch.isolation: %w", err)
	}
	log.Infof("default monthly cap %s, punch isolation %s, allocation lock %t", defaultCap.StringFixed(2), isolation, cfg.Punch.LockAllocation)
	return Settings{
		DefaultMonthlyCap: defaultCap.Round(2),
		PunchTxOptions:    pgx.TxOptions{IsoLevel: isolation},
		LockAllocation:    cfg.Punch.LockAllocation,
	}, nil
}
