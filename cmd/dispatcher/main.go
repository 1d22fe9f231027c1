package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmcallister/wharfhook/internal/broadcast"
	"github.com/dmcallister/wharfhook/internal/config"
	"github.com/dmcallister/wharfhook/internal/db"
	"github.com/dmcallister/wharfhook/internal/dispatch"
	"github.com/dmcallister/wharfhook/internal/health"
	"github.com/dmcallister/wharfhook/internal/logging"
	"github.com/dmcallister/wharfhook/internal/metrics"
	"github.com/dmcallister/wharfhook/internal/registry"
	"github.com/dmcallister/wharfhook/internal/store"
	"github.com/dmcallister/wharfhook/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	logger := logging.New("wharfhook-dispatcher")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := tracing.InitTracing(ctx, "wharfhook-dispatcher")
	if err != nil {
		logger.Plain().WithError(err).Fatal("tracing init failed")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Plain().WithError(err).Fatal("db migrate failed")
	}

	promReg := prometheus.NewRegistry()
	metrics.MustRegister(promReg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Dispatcher.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("dispatcher HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("dispatcher HTTP server failed")
		}
	}()

	deliveries := store.NewPostgres(pool)
	endpoints := registry.New(registry.NewPostgresStore(pool), registry.Options{
		AllowPrivateHosts: cfg.Registry.AllowPrivateHosts,
		PrivateHostAllow:  cfg.Registry.PrivateHostAllow,
	})

	var dlqProducer *nsq.Producer
	if cfg.NSQ.Enabled && cfg.NSQ.PublishDLQ {
		dlqProducer, err = nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq dlq producer creation failed")
		}
		defer dlqProducer.Stop()
	}

	opts := dispatch.Options{
		Workers:      cfg.Dispatcher.Workers,
		PollInterval: cfg.Dispatcher.PollInterval,
		ClaimBatch:   cfg.Dispatcher.ClaimBatch,
		ClaimLease:   cfg.Dispatcher.ClaimLease,
		MaxAttempts:  cfg.Dispatcher.MaxAttempts,
		Backoff: dispatch.Backoff{
			Base:      cfg.Dispatcher.BackoffBase,
			Cap:       cfg.Dispatcher.BackoffCap,
			JitterPct: cfg.Dispatcher.JitterPercent,
		},
		PerEndpointInflight: cfg.Dispatcher.PerEndpointInflight,
		SignatureHeader:     cfg.Dispatcher.SignatureHeader,
		TimestampHeader:     cfg.Dispatcher.TimestampHeader,
		DeliveryHeader:      cfg.Dispatcher.DeliveryHeader,
	}
	if cfg.NSQ.PublishDLQ {
		opts.DLQTopic = cfg.NSQ.DLQTopic
	}

	var dlq dispatch.Publisher
	if dlqProducer != nil {
		dlq = dlqProducer
	}
	httpClient := &http.Client{
		Timeout: cfg.Dispatcher.HTTPTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	dispatcher := dispatch.New(deliveries, endpoints, httpClient, dlq, opts, logger)

	// Wake consumer: the broadcaster publishes a message per new delivery so
	// pickup doesn't wait for the next poll tick. Polling remains the
	// authority; a lost wake only costs latency.
	var consumer *nsq.Consumer
	if cfg.NSQ.Enabled {
		conf := nsq.NewConfig()
		conf.MaxInFlight = 1000
		consumer, err = nsq.NewConsumer(cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel, conf)
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
		}
		consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
			var w broadcast.Wake
			if err := json.Unmarshal(m.Body, &w); err != nil {
				logger.Plain().WithError(err).Warn("bad wake message")
				return nil
			}
			wctx := tracing.ExtractTraceFromWake(ctx, w.TraceHeaders)
			_, span := tracing.StartSpan(wctx, "dispatch.wake",
				attribute.String("delivery_id", w.DeliveryID))
			dispatcher.Wake()
			span.End()
			return nil
		}))
		if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
			logger.Plain().WithError(err).Fatal("connect to nsqd failed")
		}
		if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
			logger.Plain().WithError(err).Fatal("connect to lookupd failed")
		}
	}

	go monitorBacklog(ctx, deliveries, logger)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = dispatcher.Run(ctx)
	}()

	logger.Plain().Info("dispatcher service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down dispatcher service")
	if consumer != nil {
		consumer.Stop()
		<-consumer.StopChan
	}
	cancel()
	<-runDone
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("dispatcher service stopped")
}

// monitorBacklog keeps the pending-backlog gauge current.
func monitorBacklog(ctx context.Context, deliveries store.Store, logger *logging.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		counts, err := deliveries.CountByState(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Plain().WithError(err).Error("backlog count failed")
			}
			continue
		}
		metrics.UpdatePendingBacklog(float64(counts[store.StatePending]))
	}
}
