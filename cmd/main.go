package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"academic-records/internal/api"
	"academic-records/internal/bus"
	"academic-records/internal/config"
	"academic-records/internal/metrics"
	"academic-records/internal/outbox"
	"academic-records/internal/tenant"
	"academic-records/internal/views"
)

type registryHealth struct{ r *tenant.Registry }

func (h registryHealth) Healthy() error { return h.r.Bootstrap().Ping() }

type busHealth struct{ b *bus.Bus }

func (h busHealth) Healthy() error {
	if !h.b.Connected() {
		return errors.New("broker disconnected")
	}
	return nil
}

func main() {
	// Init Metrics
	metrics.Init()

	// Load Configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded")

	// Init Tenant Connection Registry (bootstrap pool failure is fatal)
	registry, err := tenant.NewRegistry(cfg)
	if err != nil {
		log.Fatalf("Failed to init tenant registry: %v", err)
	}
	defer registry.Close()
	log.Println("PostgreSQL connected")

	// Init Event Bus
	eventBus, err := bus.New(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer eventBus.Close()
	log.Println("RabbitMQ connected")

	// Core services
	viewMgr := views.NewManager(registry)
	projector := views.NewProjector(registry)
	relay := outbox.NewRelay(registry, eventBus, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Recover existing tenants: open pools and make sure views exist.
	tenants, err := registry.ListTenants(ctx)
	if err != nil {
		log.Fatalf("Failed to load tenants: %v", err)
	}
	for _, t := range tenants {
		if _, err := registry.Conn(ctx, t.ID); err != nil {
			log.Printf("Failed to recover tenant %s: %v", t.ID, err)
			continue
		}
		if err := viewMgr.CreateViewsForTenant(ctx, t.ID); err != nil {
			log.Printf("Failed to ensure views for tenant %s: %v", t.ID, err)
			continue
		}
		log.Printf("Recovered tenant %s", t.ID)
	}

	// Projection: explicit event-type -> handler map, one durable queue
	// shared by all projector workers.
	dispatcher := bus.NewDispatcher()
	for eventType, h := range projector.Handlers() {
		dispatcher.Register(eventType, h)
	}
	if err := eventBus.Subscribe("*.course.*", dispatcher.Dispatch, bus.SubscribeOpts{Queue: "academic_projection_courses"}); err != nil {
		log.Fatalf("Failed to subscribe projector: %v", err)
	}
	if err := eventBus.Subscribe("*.student.*", dispatcher.Dispatch, bus.SubscribeOpts{Queue: "academic_projection_students"}); err != nil {
		log.Fatalf("Failed to subscribe projector: %v", err)
	}
	if err := eventBus.Subscribe("*.grade.*", dispatcher.Dispatch, bus.SubscribeOpts{Queue: "academic_projection_grades"}); err != nil {
		log.Fatalf("Failed to subscribe projector: %v", err)
	}
	if err := eventBus.Subscribe("*.assignment.*", dispatcher.Dispatch, bus.SubscribeOpts{Queue: "academic_projection_assignments"}); err != nil {
		log.Fatalf("Failed to subscribe projector: %v", err)
	}

	// View refresh: worker pool fed by the scheduler and by the
	// trigger-notification consumer.
	refreshPool := views.NewWorkerPool(viewMgr, cfg.Views.RefreshWorkers)
	if err := eventBus.Subscribe("*.view.refresh_pending", refreshPool.HandleRefreshEvent,
		bus.SubscribeOpts{Queue: "academic_view_refresh"}); err != nil {
		log.Fatalf("Failed to subscribe refresh consumer: %v", err)
	}
	scheduler := views.NewScheduler(registry, refreshPool, cfg)
	go scheduler.Run(ctx)

	// Bridge database change triggers onto the bus.
	listener, err := views.NewListener(cfg, eventBus)
	if err != nil {
		log.Fatalf("Failed to start refresh listener: %v", err)
	}
	go listener.Run(ctx)

	// Dead letters: log and keep for inspection.
	if err := eventBus.SubscribeToDeadLetters(bus.LogDeadLetter); err != nil {
		log.Fatalf("Failed to subscribe dead-letter consumer: %v", err)
	}

	// Outbox relay closes the append-then-publish gap.
	go relay.Run(ctx)

	// Operational HTTP surface
	opsAPI := api.New(map[string]api.Health{
		"postgres": registryHealth{registry},
		"rabbitmq": busHealth{eventBus},
	})
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: opsAPI.Router(),
	}
	go func() {
		log.Printf("Serving operational endpoints on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown initiated...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	refreshPool.Stop()
	log.Println("Graceful shutdown complete")
}
