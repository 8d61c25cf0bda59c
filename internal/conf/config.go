// Package conf loads the process configuration, following the teacher's
// own multi-path YAML search (internal/conf/config.go) generalized to the
// full set of components this core wires.
package conf

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/corvid-mail/corvid/internal/blobstore"
)

// Config is the top-level configuration for both the IMAP and SMTP/LMTP
// daemons; each binary reads only the sections it needs.
type Config struct {
	Domain        string           `yaml:"domain"`
	Hostname      string           `yaml:"hostname"`
	DataDir       string           `yaml:"data_dir"`
	IMAP          IMAPConfig       `yaml:"imap"`
	SMTP          SMTPConfig       `yaml:"smtp"`
	BlobStorage   blobstore.Config `yaml:"blob_storage"`
	Cluster       ClusterConfig    `yaml:"cluster"`
	AuthServerURL string           `yaml:"auth_server_url"`
	AnonymousAuth bool             `yaml:"anonymous_auth"`

	// AllowAnonymous enables CRAM-MD5's anonymous pseudo-user bypass
	// (spec.md §4.6), distinct from AnonymousAuth's user auto-provisioning.
	AllowAnonymous bool `yaml:"allow_anonymous"`
}

type IMAPConfig struct {
	Address    string `yaml:"address"`
	TLSAddress string `yaml:"tls_address"` // implicit TLS / IMAPS, port 993
	CertPath   string `yaml:"cert_path"`
	KeyPath    string `yaml:"key_path"`
}

type SMTPConfig struct {
	Address           string   `yaml:"address"`
	LMTP              bool     `yaml:"lmtp"`
	MaxLineLength     int      `yaml:"max_line_length"`
	MaxRecipients     int      `yaml:"max_recipients"`
	CopyMode          string   `yaml:"copy_mode"` // none|all|delivered|errors
	SpoolDir          string   `yaml:"spool_dir"`
	AllowedDomains    []string `yaml:"allowed_domains"`
	RejectUnknownUser bool     `yaml:"reject_unknown_user"`
}

type ClusterConfig struct {
	Peers []string `yaml:"peers"`
}

var searchPaths = []string{
	"/etc/corvid/corvid.yaml",
	"./config/corvid.yaml",
	"./corvid.yaml",
	"config/corvid.yaml",
}

// Load reads the first configuration file found on searchPaths.
func Load() (*Config, error) {
	var data []byte
	var err error
	for _, path := range searchPaths {
		data, err = os.ReadFile(filepath.Clean(path))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return parse(data)
}

// LoadFile reads configuration from an explicit path (used by tests and
// the cmd/ binaries' -config flag).
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration usable for local development and tests.
func Default() *Config {
	return &Config{
		Domain:   "localhost",
		Hostname: "localhost",
		DataDir:  "data",
		IMAP: IMAPConfig{
			Address:  ":143",
			CertPath: "/certs/fullchain.pem",
			KeyPath:  "/certs/privkey.pem",
		},
		SMTP: SMTPConfig{
			Address:       ":24",
			LMTP:          true,
			MaxLineLength: 32768,
			MaxRecipients: 100,
			CopyMode:      "none",
		},
	}
}
