// Command moq-relay runs a standalone MoQ relay process: it accepts
// WebTransport sessions, optionally mirrors one upstream relay, optionally
// bridges to peer relays in a cluster, and exposes health and metrics
// endpoints.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okdaichi/moqlite/internal/version"
	"github.com/okdaichi/moqlite/observability"
	"github.com/okdaichi/moqlite/relay"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
)

type config struct {
	Address     string
	CertFile    string
	KeyFile     string
	Peers       []string
	RelayConfig relay.Config
	Obs         observability.Config
}

func main() {
	var configFile = flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	tlsConfig, err := setupTLS(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		log.Fatalf("Failed to setup TLS: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := observability.Setup(ctx, cfg.Obs); err != nil {
		log.Fatalf("Failed to setup observability: %v", err)
	}
	defer observability.Shutdown(context.Background())

	slog.Info("starting moq-relay", "version", version.Short(), "address", cfg.Address, "upstream", cfg.RelayConfig.Upstream)

	server := &relay.Server{
		Addr:      cfg.Address,
		TLSConfig: tlsConfig,
		Config:    &cfg.RelayConfig,
		CheckHTTPOrigin: func(r *http.Request) bool {
			return true
		},
	}

	for _, peer := range cfg.Peers {
		server.ConnectPeer(ctx, peer)
	}

	var metricsServer *http.Server
	if observability.MetricsEnabled() {
		if handler := observability.Handler(); handler != nil {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(handler, promhttp.HandlerOpts{}))
			metricsAddr := cfg.RelayConfig.HealthCheckAddr
			if metricsAddr == "" {
				metricsAddr = ":9090"
			}
			metricsServer = &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				slog.Info("metrics listener starting", "addr", metricsAddr)
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("metrics listener failed", "err", err)
				}
			}()
		}
	}

	go func() {
		slog.Info("relay listener starting", "addr", cfg.Address)
		if err := server.ListenAndServe(); err != nil {
			slog.Error("relay server error", "err", err)
		}
	}()

	<-ctx.Done()
	cancel()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics shutdown error", "err", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("relay shutdown error", "err", err)
	}

	slog.Info("stopped")
}

func loadConfig(filename string) (*config, error) {
	type yamlConfig struct {
		Server struct {
			Address         string `yaml:"address"`
			CertFile        string `yaml:"cert_file"`
			KeyFile         string `yaml:"key_file"`
			HealthCheckAddr string `yaml:"health_check_addr"`
		} `yaml:"server"`
		Relay struct {
			UpstreamURL    string   `yaml:"upstream_url"`
			GroupCacheSize int      `yaml:"group_cache_size"`
			FrameCapacity  int      `yaml:"frame_capacity"`
			Peers          []string `yaml:"peers"`
		} `yaml:"relay"`
		Observability struct {
			Service   string `yaml:"service"`
			TraceAddr string `yaml:"trace_addr"`
			LogAddr   string `yaml:"log_addr"`
			Metrics   bool   `yaml:"metrics"`
		} `yaml:"observability"`
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var ymlConfig yamlConfig
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&ymlConfig); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if ymlConfig.Relay.FrameCapacity == 0 {
		ymlConfig.Relay.FrameCapacity = 1500
	}
	if ymlConfig.Relay.GroupCacheSize == 0 {
		ymlConfig.Relay.GroupCacheSize = 100
	}
	if ymlConfig.Observability.Service == "" {
		ymlConfig.Observability.Service = "moq-relay"
	}

	cfg := &config{
		Address:  ymlConfig.Server.Address,
		CertFile: ymlConfig.Server.CertFile,
		KeyFile:  ymlConfig.Server.KeyFile,
		Peers:    ymlConfig.Relay.Peers,
		RelayConfig: relay.Config{
			Upstream:        ymlConfig.Relay.UpstreamURL,
			FrameCapacity:   ymlConfig.Relay.FrameCapacity,
			GroupCacheSize:  ymlConfig.Relay.GroupCacheSize,
			HealthCheckAddr: ymlConfig.Server.HealthCheckAddr,
		},
		Obs: observability.Config{
			Service:   ymlConfig.Observability.Service,
			TraceAddr: ymlConfig.Observability.TraceAddr,
			LogAddr:   ymlConfig.Observability.LogAddr,
			Metrics:   ymlConfig.Observability.Metrics,
		},
	}

	return cfg, nil
}

func setupTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3", "moq-00"},
	}, nil
}
