package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/LotLinkDrive/LotLinkDrive/internal/common/config"
	"github.com/LotLinkDrive/LotLinkDrive/internal/common/discovery"
	"github.com/LotLinkDrive/LotLinkDrive/internal/common/logger"
	"github.com/LotLinkDrive/LotLinkDrive/internal/common/middleware"
	"github.com/LotLinkDrive/LotLinkDrive/internal/common/server"
	"github.com/google/uuid"
	"github.com/hashicorp/consul/api"
	"github.com/joho/godotenv"
)

// upstreamService 被代理的引擎服务名（Consul 注册名）。
const upstreamService = "sync-service"

// upstreamResolver 带缓存的 Consul 上游解析。Consul 不可用时退回静态地址。
type upstreamResolver struct {
	client   *api.Client
	fallback string
	log      logger.Logger

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
}

func (r *upstreamResolver) resolve() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != "" && time.Since(r.cachedAt) < 15*time.Second {
		return r.cached
	}
	if r.client != nil {
		if addr, err := discovery.ResolveService(r.client, upstreamService); err == nil {
			r.cached = addr
			r.cachedAt = time.Now()
			return addr
		} else {
			r.log.Warnf("resolve upstream via consul: %v", err)
		}
	}
	return r.fallback
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/api-gateway.json", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	consulClient, err := discovery.NewConsulClient(cfg.Consul.Host, cfg.Consul.Port)
	if err != nil {
		log.Warnf("failed to connect to Consul: %v", err)
		consulClient = nil
	}

	fallback := os.Getenv("SYNC_SERVICE_ADDR")
	if fallback == "" {
		fallback = "localhost:8080"
	}
	resolver := &upstreamResolver{client: consulClient, fallback: fallback, log: log}

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = "http"
			req.URL.Host = resolver.resolve()
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			log.Errorf("upstream proxy error: %v", err)
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.Handle("/api/", proxy)

	// 边缘限流 + 鉴权在 gateway 做，引擎侧可关闭重复鉴权
	limiter := middleware.NewSlidingWindow(time.Second, 300)
	handler := server.Chain(
		server.Recovery(log),
		server.AccessLog(log),
		server.RateLimit(limiter.Allow),
		server.JWTAuth(cfg.Auth, log),
	)(mux)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if consulClient != nil {
		serviceID := fmt.Sprintf("%s-%s", cfg.Server.Name, uuid.New().String())
		registry := discovery.NewServiceRegistry(
			consulClient,
			serviceID,
			cfg.Server.Name,
			cfg.Server.Host,
			cfg.Server.HTTPPort,
			cfg.Server.HTTPPort,
			discovery.CheckHTTP,
			[]string{"http", "gateway"},
		)
		if err := registry.Register(); err != nil {
			log.Warnf("failed to register service to Consul: %v", err)
		} else {
			log.Infof("Service registered to Consul: %s", serviceID)
			defer func() {
				if err := registry.Deregister(); err != nil {
					log.Warnf("failed to deregister service from Consul: %v", err)
				}
			}()
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("%s listening on %s", cfg.Server.Name, httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infof("received signal %v, shutting down...", sig)
	case err := <-serveErr:
		if err != nil {
			log.Fatalf("http serve failed: %v", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}
}
