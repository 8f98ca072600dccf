// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package config loads SMC and cloud provider settings.
//
// Values are merged from three sources, lowest precedence first: an smcrc
// ini file, a dotenv file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/hashicorp/smc-tag-sync/smc"
	"github.com/spf13/viper"
)

const (
	// DefaultEnvFile is read from the working directory when present.
	DefaultEnvFile = ".env"
	// DefaultRCFile is read from the home directory when present.
	DefaultRCFile = ".smcrc"

	defaultSMCPort = "8082"
)

// Config holds all configuration for a sync run.
type Config struct {
	SMC   SMCConfig
	AWS   AWSConfig
	Azure AzureConfig
	GCP   GCPConfig

	// fromFiles holds the variables read from the dotenv and smcrc files.
	fromFiles map[string]string
}

// SMCConfig holds the SMC connection settings.
type SMCConfig struct {
	Address    string `env:"SMC_ADDRESS"`
	APIKey     string `env:"SMC_API_KEY"`
	APIVersion string `env:"SMC_API_VERSION"`
	Domain     string `env:"SMC_DOMAIN"`
	// Timeout is in seconds.
	Timeout int `env:"SMC_TIMEOUT" envDefault:"30"`
	// ClientCert is a PEM CA bundle used to verify the SMC certificate.
	ClientCert string `env:"SMC_CLIENT_CERT"`
	SSLVerify  bool   `env:"SMC_SSL_VERIFY" envDefault:"true"`
}

// AWSConfig holds AWS settings that may come from a dotenv file.
type AWSConfig struct {
	Region          string `env:"AWS_REGION"`
	Profile         string `env:"AWS_PROFILE"`
	CredentialsFile string `env:"AWS_SHARED_CREDENTIALS_FILE"`
}

// AzureConfig holds the Azure identity settings.
type AzureConfig struct {
	TenantID       string `env:"AZURE_TENANT_ID"`
	ClientID       string `env:"AZURE_CLIENT_ID"`
	SubscriptionID string `env:"AZURE_SUBSCRIPTION_ID"`
}

// GCPConfig holds the GCP settings.
type GCPConfig struct {
	CredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	ProjectID       string `env:"GCP_PROJECT_ID"`
}

// Load merges the configuration sources and parses them.
func Load(opt ...Option) (*Config, error) {
	opts, err := getOpts(opt...)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]string)
	fromFiles := make(map[string]string)

	rcFile, required := opts.WithRCFile, opts.WithRCFile != ""
	if !required {
		if home, err := os.UserHomeDir(); err == nil {
			rcFile = filepath.Join(home, DefaultRCFile)
		}
	}
	if rcFile != "" {
		vars, err := readRCFile(rcFile, required)
		if err != nil {
			return nil, err
		}
		for k, v := range vars {
			merged[k], fromFiles[k] = v, v
		}
	}

	envFile, required := opts.WithEnvFile, opts.WithEnvFile != ""
	if !required {
		envFile = DefaultEnvFile
	}
	vars, err := readEnvFile(envFile, required)
	if err != nil {
		return nil, err
	}
	for k, v := range vars {
		merged[k], fromFiles[k] = v, v
	}

	environ := opts.WithEnviron
	if !opts.withEnvironSet {
		environ = os.Environ()
	}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
			delete(fromFiles, k)
		}
	}

	cfg := &Config{fromFiles: fromFiles}
	parseOpts := env.Options{Environment: merged}
	if err := env.ParseWithOptions(&cfg.SMC, parseOpts); err != nil {
		return nil, fmt.Errorf("parsing smc config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg.AWS, parseOpts); err != nil {
		return nil, fmt.Errorf("parsing aws config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg.Azure, parseOpts); err != nil {
		return nil, fmt.Errorf("parsing azure config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg.GCP, parseOpts); err != nil {
		return nil, fmt.Errorf("parsing gcp config: %w", err)
	}
	return cfg, nil
}

// Export sets the variables read from files in the process environment,
// so that cloud SDK credential chains see them. Variables already present
// in the environment are left alone.
func (c *Config) Export() error {
	for k, v := range c.fromFiles {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("exporting %s: %w", k, err)
		}
	}
	return nil
}

// Validate checks the settings needed to contact the SMC.
func (c *SMCConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Address) == "" {
		errs = append(errs, errors.New("SMC_ADDRESS is required"))
	}
	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, errors.New("SMC_API_KEY is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("SMC_TIMEOUT must be positive, got %d", c.Timeout))
	}
	return errors.Join(errs...)
}

// ClientConfig converts the settings for smc.NewClient.
func (c *SMCConfig) ClientConfig() smc.Config {
	return smc.Config{
		Address:            c.Address,
		APIKey:             c.APIKey,
		APIVersion:         c.APIVersion,
		Domain:             c.Domain,
		CACertFile:         c.ClientCert,
		Timeout:            time.Duration(c.Timeout) * time.Second,
		InsecureSkipVerify: !c.SSLVerify,
	}
}

func readEnvFile(path string, required bool) (map[string]string, error) {
	if !required && !fileExists(path) {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	vars := make(map[string]string)
	for _, k := range v.AllKeys() {
		vars[strings.ToUpper(k)] = v.GetString(k)
	}
	return vars, nil
}

// readRCFile reads the [smc] section of an smcrc file and returns it as
// SMC_* variables.
func readRCFile(path string, required bool) (map[string]string, error) {
	if !required && !fileExists(path) {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading smcrc file %s: %w", path, err)
	}
	section := v.Sub("smc")
	if section == nil {
		return nil, fmt.Errorf("smcrc file %s has no [smc] section", path)
	}

	vars := make(map[string]string)
	set := func(name, key string) {
		if section.IsSet(key) {
			vars[name] = section.GetString(key)
		}
	}
	set("SMC_API_KEY", "smc_apikey")
	set("SMC_API_VERSION", "api_version")
	set("SMC_TIMEOUT", "timeout")
	set("SMC_DOMAIN", "domain")
	set("SMC_CLIENT_CERT", "ssl_cert_file")
	set("SMC_SSL_VERIFY", "verify_ssl")

	if addr := strings.TrimSpace(section.GetString("smc_address")); addr != "" {
		if !strings.Contains(addr, "://") {
			scheme := "http"
			if ssl, err := strconv.ParseBool(section.GetString("smc_ssl")); err == nil && ssl {
				scheme = "https"
			}
			port := section.GetString("smc_port")
			if port == "" {
				port = defaultSMCPort
			}
			addr = scheme + "://" + addr + ":" + port
		}
		vars["SMC_ADDRESS"] = addr
	}
	return vars, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
