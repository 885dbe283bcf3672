package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/LotLinkDrive/LotLinkDrive/internal/common/config"
	"github.com/LotLinkDrive/LotLinkDrive/internal/common/db"
	"github.com/LotLinkDrive/LotLinkDrive/internal/common/logger"
	"github.com/LotLinkDrive/LotLinkDrive/internal/common/middleware"
	"github.com/LotLinkDrive/LotLinkDrive/internal/common/server"
	"github.com/LotLinkDrive/LotLinkDrive/internal/common/tracing"
	"github.com/LotLinkDrive/LotLinkDrive/internal/gateway"
	"github.com/LotLinkDrive/LotLinkDrive/internal/mapping"
	"github.com/LotLinkDrive/LotLinkDrive/internal/pricehistory"
	"github.com/LotLinkDrive/LotLinkDrive/internal/syncer"
	"github.com/LotLinkDrive/LotLinkDrive/internal/vehicle"
	"github.com/joho/godotenv"
)

func main() {
	// .env 覆盖本地开发的环境变量（缺失不报错）
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/sync-service.json", "path to config file")
	consulKVKey := flag.String("consul-kv", "", "load config from this Consul KV key instead of a file")
	consulAddr := flag.String("consul-addr", "localhost", "consul host for -consul-kv")
	consulPort := flag.Int("consul-port", 8500, "consul port for -consul-kv")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *consulKVKey != "" {
		cfg, err = config.LoadConfigFromConsulKV(*consulAddr, *consulPort, *consulKVKey)
	} else {
		cfg, err = config.LoadConfig(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	_, closer, err := tracing.InitTracer(cfg.Server.Name, cfg.Jaeger.Endpoint, cfg.Jaeger.Sampler)
	if err != nil {
		log.Warnf("init tracer: %v", err)
	} else {
		defer closer.Close()
	}

	gormDB, err := db.NewMySQL(
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.User, cfg.Database.Password, cfg.Database.Database,
		cfg.Database.MaxIdle, cfg.Database.MaxOpen,
	)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	if err := gormDB.AutoMigrate(
		&vehicle.Vehicle{},
		&pricehistory.Entry{},
		&mapping.FieldMapping{},
		&syncer.IngestionRun{},
	); err != nil {
		log.Fatalf("migrate schema: %v", err)
	}

	vehicleRepo := vehicle.NewRepo(gormDB)
	priceRepo := pricehistory.NewRepo(gormDB)
	mappingRepo := mapping.NewRepo(gormDB)
	runRepo := syncer.NewRunRepo(gormDB)

	var notifier syncer.Notifier = syncer.NewLogNotifier(log)
	if cfg.Sync.NotifyWebhookURL != "" {
		notifier = syncer.Fanout{notifier, syncer.NewWebhookNotifier(cfg.Sync.NotifyWebhookURL, log)}
	}

	pipeline := syncer.NewPipeline(vehicleRepo, runRepo, mappingRepo, notifier, cfg.Sync, log)
	scheduler := syncer.NewScheduler(pipeline, log)
	scheduler.Start()
	defer scheduler.Stop()

	rollback := syncer.NewRollback(runRepo, vehicleRepo, cfg.Sync.RollbackWindowSeconds, log)

	handler := gateway.NewHandler(scheduler, rollback, runRepo, vehicleRepo, mappingRepo, priceRepo, log)

	limiter := middleware.NewTokenBucket(200, 100)
	if err := server.Run(cfg, log, handler.Routes(), server.WithMiddlewares(
		server.Recovery(log),
		server.Tracing(cfg.Server.Name),
		server.AccessLog(log),
		server.RateLimit(limiter.Allow),
		server.JWTAuth(cfg.Auth, log),
	)); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
