package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"taxdesk.org/internal/access"
	"taxdesk.org/internal/audit"
	"taxdesk.org/internal/auth"
	"taxdesk.org/internal/httpapi"
	"taxdesk.org/internal/obs"
	"taxdesk.org/internal/readiness"
	"taxdesk.org/internal/sla"
	"taxdesk.org/internal/store/pg"
	"taxdesk.org/internal/workflow"
)

var version = "0.3.0"

type config struct {
	Addr            string        `env:"TAXDESK_ADDR" envDefault:":8080"`
	DSN             string        `env:"TAXDESK_PG_DSN"`
	ReadinessURL    string        `env:"TAXDESK_READINESS_URL"`
	SlaTick         time.Duration `env:"TAXDESK_SLA_TICK" envDefault:"5m"`
	ReminderTick    time.Duration `env:"TAXDESK_REMINDER_TICK" envDefault:"1m"`
	ShutdownTimeout time.Duration `env:"TAXDESK_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store      *pg.Store
		workflows  *workflow.Service
		ledger     audit.Ledger
		authority  *access.Authority
		identities *auth.Identities
		threads    sla.ThreadStore
		reminders  sla.ReminderStore
		engine     *sla.Engine
		scheduler  *sla.Scheduler
	)

	var provider readiness.Provider = readiness.NullProvider{}
	if cfg.ReadinessURL != "" {
		provider = readiness.NewHTTPProvider(cfg.ReadinessURL)
	}

	if cfg.DSN != "" {
		store, err = pg.Open(cfg.DSN)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		defer store.Close()

		ledger = store
		authority = access.NewAuthority(store.Grants(), store)
		workflows = workflow.NewService(store, authority, provider)
		identities = auth.NewIdentities(store.Identities())
		threads = store.Threads()
		reminders = store.Reminders()
		engine = sla.NewEngine(store.Threads(), store)
		scheduler = sla.NewScheduler(store.Reminders(), sla.LogMailer{}, store.Deliveries())
	} else {
		log.Printf("no TAXDESK_PG_DSN set, using in-memory stores")
		mem := audit.NewInMemory()
		ledger = mem
		authority = access.NewAuthority(access.NewInMemoryGrants(), mem)
		workflows = workflow.NewService(workflow.NewInMemory(mem), authority, provider)
		identities = auth.NewIdentities(auth.NewInMemoryIdentities())
		memThreads := sla.NewInMemoryThreads()
		memReminders := sla.NewInMemoryReminders()
		threads = memThreads
		reminders = memReminders
		engine = sla.NewEngine(memThreads, mem)
		scheduler = sla.NewScheduler(memReminders, sla.LogMailer{}, sla.NewInMemoryDeliveryLog())
	}

	probe := httpapi.ReadyProbe{}
	if store != nil {
		probe.DB = store.DB()
	}
	api := httpapi.New(probe, version, httpapi.Deps{
		Identities: identities,
		Authority:  authority,
		Workflows:  workflows,
		Ledger:     ledger,
		Engine:     engine,
		Scheduler:  scheduler,
		Threads:    threads,
		Reminders:  reminders,
	})

	go runEvery(ctx, cfg.SlaTick, "sla recompute", engine.RunAll)
	go runEvery(ctx, cfg.ReminderTick, "reminder dispatch", scheduler.Run)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("starting taxdesk-api %s on %s", version, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	obs.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Printf("stopped")
}

// runEvery invokes fn on a fixed interval until the context is cancelled.
func runEvery(ctx context.Context, every time.Duration, name string, fn func(context.Context) error) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				log.Printf("%s: %v", name, err)
			}
		}
	}
}
