// Command imapd serves IMAP4rev1 (spec.md §4) on a plaintext port and an
// implicit-TLS port, against the shared SQLite database internal/db
// owns. Wiring grounded on the teacher's cmd/server/main.go: flag-parsed
// config path, a dual plaintext/SSL listener pair each running its own
// accept loop in a goroutine, and per-connection handling dispatched to
// its own goroutine.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corvid-mail/corvid/internal/blobstore"
	"github.com/corvid-mail/corvid/internal/cluster"
	"github.com/corvid-mail/corvid/internal/conf"
	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/imapcmd"
	"github.com/corvid-mail/corvid/internal/inject"
	"github.com/corvid-mail/corvid/internal/netio"
	"github.com/corvid-mail/corvid/internal/protocol"
	"github.com/corvid-mail/corvid/internal/sasl"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (searches default locations if unset)")
	metricsAddr := flag.String("metrics", ":9153", "Address to serve Prometheus metrics on")
	flag.Parse()

	log.Println("Starting corvid IMAP server...")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	conn, err := db.Open(cfg.DataDir + "/corvid.db")
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer conn.Close()

	blobs := openBlobStore(cfg)

	var announcer inject.Announcer
	if len(cfg.Cluster.Peers) > 0 {
		client, err := cluster.Dial(cfg.Cluster.Peers)
		if err != nil {
			log.Printf("cluster: dial failed, announcements disabled: %v", err)
		} else {
			announcer = client
			defer client.Close()
		}
	}

	injector := inject.New(conn, blobs, announcer)

	env := &imapcmd.Env{
		DB:               conn,
		Injector:         injector,
		Hostname:         cfg.Hostname,
		AllowCreateUsers: cfg.AnonymousAuth,
		AllowAnonymous:   cfg.AllowAnonymous,
	}
	env.Verifier = imapcmd.NewCramVerifier(env)
	if cfg.AuthServerURL != "" {
		env.PlainAuth = sasl.NewHTTPAuthenticator(cfg.AuthServerURL, cfg.Domain).Verify
	}

	tlsConfig, err := loadTLSConfig(cfg.IMAP.CertPath, cfg.IMAP.KeyPath)
	if err != nil {
		log.Printf("Warning: TLS not available: %v", err)
	} else {
		env.TLSConfig = tlsConfig
	}

	registry := imapcmd.NewRegistry(env)

	go serveMetrics(*metricsAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if cfg.IMAP.Address != "" {
		go runPlainListener(cfg.IMAP.Address, registry)
	}
	if cfg.IMAP.TLSAddress != "" && env.TLSConfig != nil {
		go runTLSListener(cfg.IMAP.TLSAddress, env.TLSConfig, registry)
	}

	sig := <-sigChan
	log.Printf("Received signal %v, shutting down", sig)
}

func loadConfig(path string) (*conf.Config, error) {
	if path != "" {
		return conf.LoadFile(path)
	}
	cfg, err := conf.Load()
	if err != nil {
		log.Printf("Warning: no configuration file found (%v), using defaults", err)
		return conf.Default(), nil
	}
	return cfg, nil
}

func openBlobStore(cfg *conf.Config) blobstore.Store {
	if !cfg.BlobStorage.Enabled {
		return blobstore.Inline{}
	}
	store, err := blobstore.NewS3Store(context.Background(), cfg.BlobStorage)
	if err != nil {
		log.Printf("Warning: S3 blob storage unavailable, falling back to inline: %v", err)
		return blobstore.Inline{}
	}
	log.Printf("S3 blob storage initialized: %s (bucket %s)", cfg.BlobStorage.Endpoint, cfg.BlobStorage.Bucket)
	return store
}

func loadTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("Serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil { // #nosec G114 -- internal metrics endpoint, no client-facing timeouts needed
		log.Printf("metrics server stopped: %v", err)
	}
}

func runPlainListener(addr string, registry protocol.Registry) {
	ln, err := net.Listen("tcp", addr) // #nosec G102 -- intentionally binding to all interfaces for the IMAP service
	if err != nil {
		log.Fatalf("listen %s: %v", addr, err)
	}
	defer ln.Close()
	log.Printf("IMAP listening on %s", addr)
	acceptLoop(ln, registry)
}

func runTLSListener(addr string, tlsConfig *tls.Config, registry protocol.Registry) {
	ln, err := netio.ListenImplicitTLS("tcp", addr, tlsConfig) // #nosec G102 -- intentionally binding to all interfaces for IMAPS
	if err != nil {
		log.Fatalf("listen %s: %v", addr, err)
	}
	defer ln.Close()
	log.Printf("IMAPS listening on %s", addr)
	acceptLoop(ln, registry)
}

func acceptLoop(ln net.Listener, registry protocol.Registry) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			log.Printf("accept: %v", err)
			continue
		}
		go handleConn(nc, registry)
	}
}

func handleConn(nc net.Conn, registry protocol.Registry) {
	conn := protocol.NewConn(nc, registry, 30*time.Minute)
	if err := conn.WriteLine("* OK IMAP4rev1 Service Ready"); err != nil {
		conn.Close()
		return
	}
	conn.Serve()
}
