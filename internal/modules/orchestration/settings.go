package orchestration

import (
	"multidrop/internal/config"
	"multidrop/internal/geo"
	"multidrop/internal/modules/capacity"
)

// ConfigFrom maps loaded routing and vehicle settings onto an engine Config.
func ConfigFrom(cfg config.Config) (Config, error) {
	var tier capacity.Tier
	if cfg.Vehicle.Tier != "" {
		t, err := capacity.ParseTier(cfg.Vehicle.Tier)
		if err != nil {
			return Config{}, err
		}
		tier = t
	}
	return Config{
		MaxPerCluster:       cfg.Routing.MaxPerCluster,
		MinDropsPerRoute:    cfg.Routing.MinDropsPerRoute,
		MaxIterations:       cfg.Routing.MaxClusterIterations,
		MaxImprovePasses:    cfg.Routing.MaxImprovePasses,
		ConsolidateRadiusKm: cfg.Routing.ConsolidateRadiusKm,
		Capacity: capacity.Capacity{
			MaxVolume: cfg.Vehicle.MaxVolume,
			MaxWeight: cfg.Vehicle.MaxWeight,
			MaxDrops:  cfg.Vehicle.MaxDrops,
			MultiDrop: true,
		},
		Tier:    tier,
		Travel:  geo.TravelModel{SpeedKmh: cfg.Routing.SpeedKmh, ServiceTime: cfg.Routing.ServiceTime()},
		Workers: cfg.Routing.Workers,
	}, nil
}
