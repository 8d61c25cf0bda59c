// Command smtpd serves SMTP or LMTP (spec.md §4.5, selected by the
// smtp.lmtp config flag) against the shared SQLite database. Wiring
// grounded on the teacher's cmd/delivery/main.go: config load with
// command-line overrides, one accept loop, graceful shutdown on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/corvid-mail/corvid/internal/blobstore"
	"github.com/corvid-mail/corvid/internal/cluster"
	"github.com/corvid-mail/corvid/internal/conf"
	"github.com/corvid-mail/corvid/internal/db"
	"github.com/corvid-mail/corvid/internal/inject"
	"github.com/corvid-mail/corvid/internal/netio"
	"github.com/corvid-mail/corvid/internal/smtp"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (searches default locations if unset)")
	addrFlag := flag.String("addr", "", "Override the listen address from config (e.g. :25 or :24)")
	flag.Parse()

	log.Println("Starting corvid SMTP/LMTP server...")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addrFlag != "" {
		cfg.SMTP.Address = *addrFlag
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
	deliverer := inject.NewLocalDeliverer(injector)

	tlsConfig, tlsErr := loadTLSConfig(cfg.IMAP.CertPath, cfg.IMAP.KeyPath)
	if tlsErr != nil {
		log.Printf("Warning: TLS not available for STARTTLS: %v", tlsErr)
	}

	sessionCfg := smtp.Config{
		Hostname:          cfg.Hostname,
		LMTP:              cfg.SMTP.LMTP,
		MaxLineLength:     cfg.SMTP.MaxLineLength,
		MaxRecipients:     cfg.SMTP.MaxRecipients,
		AllowedDomains:    cfg.SMTP.AllowedDomains,
		RejectUnknownUser: cfg.SMTP.RejectUnknownUser,
		CopyMode:          smtp.CopyMode(cfg.SMTP.CopyMode),
		SpoolDir:          cfg.SMTP.SpoolDir,
		TLSConfigured:     tlsConfig != nil,
		KnownUser: func(addr smtp.Address) bool {
			_, err := db.UserByAddress(conn, addr.String(), false)
			return err == nil
		},
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go runListener(cfg.SMTP.Address, sessionCfg, deliverer, tlsConfig)

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
	return store
}

func loadTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func runListener(addr string, cfg smtp.Config, deliverer *inject.LocalDeliverer, tlsConfig *tls.Config) {
	ln, err := net.Listen("tcp", addr) // #nosec G102 -- intentionally binding to all interfaces for the SMTP/LMTP service
	if err != nil {
		log.Fatalf("listen %s: %v", addr, err)
	}
	defer ln.Close()

	proto := "SMTP"
	if cfg.LMTP {
		proto = "LMTP"
	}
	log.Printf("%s listening on %s", proto, addr)

	for {
		nc, err := ln.Accept()
		if err != nil {
			log.Printf("accept: %v", err)
			continue
		}
		go handleConn(nc, cfg, deliverer, tlsConfig)
	}
}

func handleConn(nc net.Conn, cfg smtp.Config, deliverer *inject.LocalDeliverer, tlsConfig *tls.Config) {
	session := smtp.NewSession(nc, cfg, deliverer)
	if tlsConfig != nil {
		session.UpgradeTLS = func(c net.Conn) (net.Conn, error) {
			return netio.UpgradeSTARTTLS(c, tlsConfig)
		}
	}
	if err := session.Handle(); err != nil {
		log.Printf("session error from %s: %v", nc.RemoteAddr(), err)
	}
}
