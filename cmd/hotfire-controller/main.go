// Command hotfire-controller runs one simulated test stand in real time.
// It takes commands from Redis and the HTTP API, publishes telemetry to
// Redis, WebSocket clients and Prometheus, records every run in SQLite,
// and reloads the stand file when it changes on disk.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/holla2040/hotfire/internal/api"
	"github.com/holla2040/hotfire/internal/estop"
	"github.com/holla2040/hotfire/internal/metrics"
	"github.com/holla2040/hotfire/internal/protocol"
	"github.com/holla2040/hotfire/internal/stand"
	"github.com/holla2040/hotfire/internal/store"
	"github.com/holla2040/hotfire/internal/transport"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "configs/igniter.yaml", "stand configuration file")
	redisAddr := flag.String("redis", "localhost:6379", "Redis address (empty disables Redis)")
	listenAddr := flag.String("listen", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "hotfire.db", "SQLite database path (empty disables the run log)")
	station := flag.String("station", "stand-01", "station ID")
	wsInterval := flag.Float64("ws-interval", 0.1, "simulated seconds between telemetry frames sent to each WebSocket client")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	wsHub := api.NewHub(api.WithTelemetryInterval(*wsInterval))

	// The stand is built after the coordinator; a trip that arrives before
	// then has nothing to safe.
	var current atomic.Pointer[stand.Service]
	estopCoord := estop.New(func(s estop.State) {
		if svc := current.Load(); svc != nil {
			svc.Safe(s.Reason)
		}
		wsHub.BroadcastEvent(api.EventEstop, s)
	})

	opts := []stand.Option{
		stand.WithStation(*station),
		stand.WithSink(wsHub),
		stand.WithSink(m),
		stand.WithInterlock(estopCoord.Active),
	}

	var db *store.Store
	if *dbPath != "" {
		var err error
		db, err = store.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open database at %s: %v", *dbPath, err)
		}
		defer db.Close()
		log.Printf("Opened database at %s", *dbPath)
		opts = append(opts, stand.WithStore(db))
	}

	var (
		rdb      *redis.Client
		bus      *transport.Redis
		redisMon *transport.Monitor
	)
	if *redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", *redisAddr, err)
		}
		log.Printf("Connected to Redis at %s", *redisAddr)

		bus = transport.New(rdb, *station,
			transport.WithSource(protocol.Source{
				Service:  "hotfire_controller",
				Instance: *station,
				Version:  version,
			}),
			transport.WithEstopHandler(estopCoord.HandleMessage),
		)
		if err := bus.Start(ctx); err != nil {
			log.Fatalf("Failed to subscribe to %s: %v", transport.CommandChannel(*station), err)
		}
		defer bus.Close()
		opts = append(opts, stand.WithCommandSource(bus), stand.WithSink(bus))

		redisMon = transport.NewMonitor(rdb, 5*time.Second, func(connected bool) {
			status := "disconnected"
			if connected {
				status = "connected"
			}
			wsHub.BroadcastEvent(api.EventRedisHealth, map[string]string{"status": status})
		})
	}

	svc, err := stand.New(*configPath, opts...)
	if err != nil {
		log.Fatalf("Failed to load stand %s: %v", *configPath, err)
	}
	current.Store(svc)
	log.Printf("Loaded stand %s as station %s", *configPath, *station)

	handler := &api.Handler{
		Station: svc,
		Store:   db,
		Hub:     wsHub,
		Estop:   estopCoord,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	if redisMon != nil {
		handler.Redis = redisMon
	}
	server := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		wsHub.Run(ctx)
	}()

	if redisMon != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			redisMon.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.Run(ctx); err != nil {
			log.Printf("stand: %v", err)
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("HTTP server listening on %s", *listenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	wg.Wait()
	if bus != nil {
		st := bus.Stats()
		log.Printf("redis: received %d, rejected %d, published %d, dropped %d", st.Received, st.Rejected, st.Published, st.Dropped)
	}
	log.Println("Shutdown complete")
}
