// README: Entry point; loads config, wires stores and the routing engine, starts HTTP server and the routing scheduler.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"multidrop/internal/ai"
	"multidrop/internal/config"
	httptransport "multidrop/internal/http"
	"multidrop/internal/infra"
	"multidrop/internal/maps"
	"multidrop/internal/modules/aiusage"
	"multidrop/internal/modules/broadcast"
	"multidrop/internal/modules/dispatch"
	"multidrop/internal/modules/driver"
	"multidrop/internal/modules/drop"
	"multidrop/internal/modules/orchestration"
	"multidrop/internal/modules/overflow"
	"multidrop/internal/modules/route"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		log.Fatal(err)
	}
	defer redisClient.Close()

	publishers := broadcast.Fanout{broadcast.NewRedisPublisher(redisClient)}
	var verifier infra.TokenVerifier
	if cfg.Firebase.AuthDisabled {
		log.Printf("[auth] firebase auth disabled, every bearer token is treated as a local admin")
		verifier = infra.StaticVerifier{UID: "local-admin", Role: "admin"}
	} else {
		if cfg.Firebase.ProjectID == "" {
			log.Fatal("FIREBASE_PROJECT_ID is required (or set MULTIDROP_AUTH_DISABLED=true)")
		}
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			log.Fatalf("firebase init: %v", err)
		}
		verifier, err = infra.NewFirebaseVerifier(ctx, app)
		if err != nil {
			log.Fatalf("firebase auth: %v", err)
		}
		msg, err := infra.NewMessaging(ctx, app)
		if err != nil {
			log.Fatalf("firebase messaging: %v", err)
		}
		publishers = append(publishers, broadcast.NewFCMPublisher(msg))
	}

	engineCfg, err := orchestration.ConfigFrom(cfg)
	if err != nil {
		log.Fatal(err)
	}

	dropStore := drop.NewStore(dbPool)
	routeStore := route.NewStore(dbPool)
	driverStore := driver.NewStore(dbPool, driver.NewPositionStore(redisClient))
	runStore := dispatch.NewRunStore(dbPool)
	tracker := overflow.NewTracker(redisClient, cfg.Routing.OverflowAlertThreshold, cfg.Routing.OverflowTTL())

	index := route.NewDropIndex()
	if err := index.Rebuild(ctx, routeStore); err != nil {
		log.Fatal(err)
	}

	engineOpts := []orchestration.Option{orchestration.WithOverflowTracker(tracker)}
	if cfg.Maps.APIKey != "" {
		geocoder, err := maps.NewGeocoder(cfg.Maps.APIKey, cfg.Maps.Region, redisClient)
		if err != nil {
			log.Fatalf("geocoder init: %v", err)
		}
		engineOpts = append(engineOpts, orchestration.WithGeocoder(geocoder, dropStore))
	} else {
		log.Printf("[routing] no maps key, drops without coordinates will be rejected")
	}

	engine := orchestration.NewEngine(engineCfg, dropStore, routeStore, index, engineOpts...)

	mode, err := dispatch.ParseMode(cfg.Routing.Mode)
	if err != nil {
		log.Fatal(err)
	}
	manager := dispatch.NewManager(dispatch.Config{
		Mode:              mode,
		ManualLockTimeout: cfg.Routing.ManualLockTimeout,
		AutoAssignDrivers: cfg.Routing.AutoAssignDrivers,
	}, engine, routeStore, driverStore, runStore, index,
		dispatch.WithLease(dispatch.NewLease(redisClient, dispatch.DefaultLeaseTTL)),
		dispatch.WithPublisher(publishers),
	)

	var narrator ai.Narrator
	if cfg.AI.GeminiKey != "" {
		gemini, err := ai.NewGeminiNarrator(ctx, cfg.AI.GeminiKey)
		if err != nil {
			log.Fatalf("gemini init: %v", err)
		}
		defer gemini.Close()
		narrator = gemini
	}

	gin.SetMode(gin.ReleaseMode)
	router := httptransport.NewRouter(httptransport.Deps{
		Routing:  manager,
		Routes:   manager,
		Reader:   routeStore,
		Alerts:   tracker,
		Narrator: narrator,
		Quota:    aiusage.NewService(aiusage.NewStore(dbPool)),
		Verifier: verifier,
		Travel:   engineCfg.Travel,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	scheduler := dispatch.NewScheduler(manager, cfg.Routing.Interval())
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal(err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := scheduler.Stop(shutdownCtx); err != nil {
			log.Printf("[routing] scheduler stop: %v", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[http] shutdown: %v", err)
		}
	}()

	log.Printf("[http] listening on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
