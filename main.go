package main

import (
	"os"

	"github.com/joho/godotenv"

	loggly_client "gitlab.com/crypto_project/core/resourcepool_service/src/sources/loggly"

	"gitlab.com/crypto_project/core/resourcepool_service/src/api"
	"gitlab.com/crypto_project/core/resourcepool_service/src/events"
	"gitlab.com/crypto_project/core/resourcepool_service/src/healthcheck"
	"gitlab.com/crypto_project/core/resourcepool_service/src/helpers"
	"gitlab.com/crypto_project/core/resourcepool_service/src/pool"
	"gitlab.com/crypto_project/core/resourcepool_service/src/resource"
	"gitlab.com/crypto_project/core/resourcepool_service/src/sources"
	"gitlab.com/crypto_project/core/resourcepool_service/src/storage"
)

func main() {
	godotenv.Load()

	logger := loggly_client.GetInstance()

	eventLog := events.NewLog(0)

	var store pool.Store
	var mongoStore *storage.Mongo
	if mongoURL := os.Getenv("MONGODB_URL"); mongoURL != "" {
		database := os.Getenv("MONGODB_DB")
		if database == "" {
			database = "resourcepool"
		}
		m, err := storage.NewMongo(mongoURL, database)
		if err != nil {
			logger.Fatal("Mongo init failed: ", err.Error())
		}
		store = m
		mongoStore = m
		logger.Info("Mongo store connected")
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		sink, err := storage.NewRedisEventSink(redisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			logger.Fatal("Redis init failed: ", err.Error())
		}
		eventLog.SetSink(sink)
		logger.Info("Redis event sink connected")
	}

	mgr := pool.NewManager(pool.NewRegistry(), eventLog, store)

	restoreFromStore(mgr, mongoStore)
	seedFromEnv(mgr)
	seedPoolsFromFile(mgr)

	scheduler := healthcheck.NewScheduler(mgr, healthcheck.NewHTTPProber())
	if os.Getenv("ADAPTIVE_TUNING") == "true" {
		scheduler.SetTuner(events.NewTuner())
	}
	if os.Getenv("ALERT_MANAGER") != "" {
		scheduler.SetNotifier(sources.GetPrometheusNotifierInstance())
	}
	scheduler.Attach()

	port := os.Getenv("PORT")
	if port == "" {
		port = ":8080"
	}
	api.NewServer(mgr).RunServer(port)
}

// restoreFromStore rebuilds resources and pools persisted by a
// previous run. Concurrency counters start clean; health history and
// FAILED flags survive.
func restoreFromStore(mgr *pool.Manager, store *storage.Mongo) {
	if store == nil {
		return
	}
	logger := loggly_client.GetInstance()

	views, err := store.LoadResources()
	if err != nil {
		logger.Infof("Resource restore failed: %s", err.Error())
		return
	}
	for _, v := range views {
		r, err := mgr.AddResource(resource.SeedFromView(v))
		if err != nil {
			logger.Infof("Resource restore skipped %s: %s", v.ID, err.Error())
			continue
		}
		r.Restore(v)
	}

	poolViews, err := store.LoadPools()
	if err != nil {
		logger.Infof("Pool restore failed: %s", err.Error())
		return
	}
	for _, v := range poolViews {
		spec := pool.Spec{
			ID:                     v.ID,
			Strategy:               v.Strategy,
			Filters:                v.Filters,
			ResourceIDs:            v.ResourceIDs,
			HealthCheckIntervalSec: v.HealthCheckIntervalSec,
			IsActive:               v.IsActive,
		}
		if _, err := mgr.CreatePool(spec); err != nil {
			logger.Infof("Pool restore skipped %s: %s", v.ID, err.Error())
		}
	}
	logger.Infof("Restored %d resources and %d pools", len(views), len(poolViews))
}

// seedFromEnv loads the RESOURCELIST bootstrap, a base64 JSON array of
// resource seeds shipped through deployment env.
func seedFromEnv(mgr *pool.Manager) {
	logger := loggly_client.GetInstance()

	var seeds []resource.Seed
	if err := helpers.DecodeENV("RESOURCELIST", &seeds); err != nil {
		logger.Info("RESOURCELIST decode error: ", err.Error())
		return
	}
	added := 0
	for _, seed := range seeds {
		if _, err := mgr.AddResource(seed); err == nil {
			added++
		}
	}
	if len(seeds) > 0 {
		logger.Infof("Seeded %d/%d resources from RESOURCELIST", added, len(seeds))
	}
}

func seedPoolsFromFile(mgr *pool.Manager) {
	path := os.Getenv("POOLS_FILE")
	if path == "" {
		return
	}
	logger := loggly_client.GetInstance()

	var specs []pool.Spec
	if err := helpers.LoadYAMLFile(path, &specs); err != nil {
		logger.Info("POOLS_FILE load error: ", err.Error())
		return
	}
	for _, spec := range specs {
		if _, err := mgr.CreatePool(spec); err != nil {
			logger.Infof("Pool %s from POOLS_FILE skipped: %s", spec.ID, err.Error())
		}
	}
	logger.Infof("Loaded %d pools from %s", len(specs), path)
}
