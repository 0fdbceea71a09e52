package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"transit-tracker/internal/config"
	"transit-tracker/internal/db"
	"transit-tracker/internal/feed"
	"transit-tracker/internal/gtfs"
	"transit-tracker/internal/line"
	"transit-tracker/internal/metrics"
	"transit-tracker/internal/poller"
	"transit-tracker/internal/publisher"
	"transit-tracker/internal/server"
	"transit-tracker/internal/store"
	"transit-tracker/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bundle, err := loadBundle(ctx, cfg)
	if err != nil {
		log.Fatalf("load bundle: %v", err)
	}
	log.Printf("bundle loaded: %d routes, %d stops, %d shapes", len(bundle.Routes), len(bundle.Stops), len(bundle.Shapes))

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval)
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	var positionStore *store.Store
	if cfg.SQLitePath != "" {
		positionStore, err = store.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("open position store: %v", err)
		}
		defer positionStore.Close()
		log.Printf("recording positions to %s", cfg.SQLitePath)
	}

	source := newSource(cfg)

	var watcher *line.Watcher
	if cfg.LineConfigPath != "" {
		lineCfg, err := line.LoadConfig(cfg.LineConfigPath)
		if err != nil {
			log.Fatalf("load line config: %v", err)
		}
		watcher = line.NewWatcher(lineCfg, cfg.LineStopID)
		go watcher.Run(ctx)
		log.Printf("watching line %s from stop %s", lineCfg.Name, cfg.LineStopID)
	}

	network := tracker.NewNetwork(tracker.New(bundle), cfg.MonitoredLines)
	p := poller.New(poller.Config{
		Source:      source,
		Network:     network,
		Stations:    cfg.Stations,
		Interval:    cfg.PollInterval,
		Publisher:   pub,
		Store:       positionStore,
		Retention:   cfg.HistoryMaxAge,
		Metrics:     mcol,
		Sink:        departureSink(watcher),
		SinkStation: cfg.LineStopID,
	})
	go p.Run(ctx)

	// HTTP API
	api := server.New(p, lineSource(watcher), source, positionStore)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Router()}
	go func() {
		log.Printf("http listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Println("shutdown complete")
}

// loadBundle reads reference data either from a JSON bundle directory or
// from the newest GTFS import database of the configured city.
func loadBundle(ctx context.Context, cfg *config.Config) (*gtfs.Bundle, error) {
	if cfg.GTFSDataDir != "" {
		return gtfs.LoadBundle(cfg.GTFSDataDir)
	}

	baseDSN := cfg.DatabaseURL
	finalDSN := baseDSN
	if cfg.City != "" {
		// Connect to the cluster's meta DB to find the latest import
		rootDSN, err := db.WithDBName(baseDSN, "postgres")
		if err != nil {
			return nil, err
		}
		metaDB, err := db.Open(rootDSN)
		if err != nil {
			return nil, err
		}
		defer metaDB.Close()
		if err := db.Ping(ctx, metaDB); err != nil {
			return nil, err
		}
		name, err := db.ResolveLatestImportDBName(ctx, metaDB, cfg.City)
		if err != nil {
			return nil, err
		}
		log.Printf("using database %q for city %q", name, cfg.City)
		finalDSN, err = db.WithDBName(baseDSN, name)
		if err != nil {
			return nil, err
		}
	}

	sqlDB, err := db.Open(finalDSN)
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		return nil, err
	}
	return db.LoadBundle(ctx, sqlDB, cfg.MonitoredLines)
}

func newSource(cfg *config.Config) feed.Source {
	switch cfg.FeedSource {
	case "mvg":
		return feed.NewMVGClient("", cfg.Location)
	case "dbrest":
		return feed.NewDBRestClient("", cfg.Location)
	default:
		return feed.NewEFAClient("")
	}
}

// departureSink avoids handing the poller a non-nil interface holding a nil
// *line.Watcher.
func departureSink(w *line.Watcher) poller.DepartureSink {
	if w == nil {
		return nil
	}
	return w
}

func lineSource(w *line.Watcher) server.LineSource {
	if w == nil {
		return nil
	}
	return w
}

// wrapPublisherMetrics adapts the Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
