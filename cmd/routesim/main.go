// README: Offline route simulator; plans a CSV of drops with the production engine and prints each route's leg table.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"multidrop/internal/geo"
	"multidrop/internal/modules/capacity"
)

type Config struct {
	DropsPath     string
	OutPath       string
	MaxPerCluster int
	MinDrops      int
	MaxVolume     float64
	MaxWeight     float64
	MaxDrops      int
	Tier          string
	SpeedKmh      float64
	Service       time.Duration
	Timeout       time.Duration
}

func main() {
	cfg := loadConfig()
	if cfg.DropsPath == "" {
		log.Fatal("-drops is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	f, err := os.Open(cfg.DropsPath)
	if err != nil {
		log.Fatal(err)
	}
	drops, err := readDrops(f)
	f.Close()
	if err != nil {
		log.Fatal(err)
	}

	tier, err := parseTier(cfg.Tier)
	if err != nil {
		log.Fatal(err)
	}
	sim := simulation{
		capacity: capacity.Capacity{MaxVolume: cfg.MaxVolume, MaxWeight: cfg.MaxWeight, MaxDrops: cfg.MaxDrops, MultiDrop: true},
		tier:     tier,
		travel:   geo.TravelModel{SpeedKmh: cfg.SpeedKmh, ServiceTime: cfg.Service},
		maxPer:   cfg.MaxPerCluster,
		minDrops: cfg.MinDrops,
	}
	out, err := sim.run(ctx, drops)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(out.report())

	if cfg.OutPath != "" {
		w, err := os.Create(cfg.OutPath)
		if err != nil {
			log.Fatal(err)
		}
		if err := writeStops(w, out.routes); err != nil {
			w.Close()
			log.Fatal(err)
		}
		if err := w.Close(); err != nil {
			log.Fatal(err)
		}
		log.Printf("[routesim] wrote %d routes to %s", len(out.routes), cfg.OutPath)
	}
	if len(out.result.Errors) > 0 {
		os.Exit(1)
	}
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.DropsPath, "drops", envOrDefault("ROUTESIM_DROPS", ""), "Drops CSV path")
	flag.StringVar(&cfg.OutPath, "out", envOrDefault("ROUTESIM_OUT", ""), "Write planned stops as CSV")
	flag.IntVar(&cfg.MaxPerCluster, "max-per-cluster", envOrDefaultInt("MULTIDROP_MAX_PER_CLUSTER", 5), "Max drops per cluster")
	flag.IntVar(&cfg.MinDrops, "min-drops", envOrDefaultInt("MULTIDROP_MIN_DROPS_PER_ROUTE", 3), "Min drops per route")
	flag.Float64Var(&cfg.MaxVolume, "volume", envOrDefaultFloat("MULTIDROP_VEHICLE_MAX_VOLUME", 15), "Vehicle volume (m3)")
	flag.Float64Var(&cfg.MaxWeight, "weight", envOrDefaultFloat("MULTIDROP_VEHICLE_MAX_WEIGHT", 1000), "Vehicle payload (kg)")
	flag.IntVar(&cfg.MaxDrops, "max-drops", envOrDefaultInt("MULTIDROP_VEHICLE_MAX_DROPS", 5), "Vehicle drop limit")
	flag.StringVar(&cfg.Tier, "tier", envOrDefault("MULTIDROP_VEHICLE_TIER", "standard"), "Service tier (economy, standard, express, or empty)")
	flag.Float64Var(&cfg.SpeedKmh, "speed", envOrDefaultFloat("MULTIDROP_SPEED_KMH", 30), "Average speed (km/h)")
	flag.DurationVar(&cfg.Service, "service", envOrDefaultDuration("MULTIDROP_SERVICE_TIME", 15*time.Minute), "Dwell time per stop")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("ROUTESIM_TIMEOUT", time.Minute), "Total timeout")
	flag.Parse()
	cfg.Tier = strings.ToLower(strings.TrimSpace(cfg.Tier))
	return cfg
}

func parseTier(v string) (capacity.Tier, error) {
	if v == "" {
		return "", nil
	}
	return capacity.ParseTier(v)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
