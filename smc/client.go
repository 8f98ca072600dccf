// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package smc is a small client for the Forcepoint Security Management
// Center REST API covering session handling and IP list elements.
package smc

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout is used when Config.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	entryLogin  = "login"
	entryLogout = "logout"
	entryIPList = "ip_list"
)

// Config is the connection configuration for an SMC.
type Config struct {
	// Address is the SMC base URL, e.g. https://smc.example.com:8082.
	// The scheme defaults to https.
	Address string
	APIKey  string
	// APIVersion pins the API version. Empty selects the newest version
	// advertised by the SMC.
	APIVersion string
	// Domain is the administrative domain to log in to.
	Domain string
	// CACertFile is a PEM bundle trusted in addition to the system roots.
	CACertFile         string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Client talks to one SMC. It is not safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	version string
	domain  string
	comment string
	http    *http.Client
	logger  *slog.Logger

	entryPoints map[string]string
}

type link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// NewClient validates cfg and returns a Client. No request is made until
// Login is called.
func NewClient(cfg Config, opt ...Option) (*Client, error) {
	opts, err := getOpts(opt...)
	if err != nil {
		return nil, fmt.Errorf("smc: %w", err)
	}

	baseURL, err := normalizeBaseURL(cfg.Address)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("smc: api key is required")
	}

	httpClient := opts.WithHTTPClient
	if httpClient == nil {
		httpClient, err = newHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		version: strings.TrimSpace(cfg.APIVersion),
		domain:  strings.TrimSpace(cfg.Domain),
		comment: opts.WithComment,
		http:    httpClient,
		logger:  opts.WithLogger,
	}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", errors.New("smc: address is required")
	}
	if !strings.Contains(value, "://") {
		value = "https://" + value
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("smc: invalid address %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("smc: unsupported scheme %q", u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func newHTTPClient(cfg Config) (*http.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec
	}
	if cfg.CACertFile != "" {
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("smc: reading ca certificate: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("smc: no certificates found in %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("smc: creating cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	return &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   timeout,
	}, nil
}

// Version returns the API version in use. It is empty before Login.
func (c *Client) Version() string {
	return c.version
}

// Login discovers the API version and entry points, then opens a session
// with the API key.
func (c *Client) Login(ctx context.Context) error {
	if err := c.discover(ctx); err != nil {
		return err
	}

	payload := map[string]string{"authenticationkey": c.apiKey}
	if c.domain != "" {
		payload["domain"] = c.domain
	}
	if _, _, err := c.doJSON(ctx, http.MethodPost, c.entryPoints[entryLogin], payload, nil); err != nil {
		c.entryPoints = nil
		return fmt.Errorf("smc login: %w", err)
	}

	c.logger.Debug("logged in to smc", "address", c.baseURL, "api_version", c.version)
	return nil
}

// Logout closes the session. It is a no-op when not logged in.
func (c *Client) Logout(ctx context.Context) error {
	if c.entryPoints == nil {
		return nil
	}
	href := c.entryPoints[entryLogout]
	c.entryPoints = nil
	if href == "" {
		return nil
	}
	if _, _, err := c.doJSON(ctx, http.MethodPut, href, nil, nil); err != nil {
		return fmt.Errorf("smc logout: %w", err)
	}
	c.logger.Debug("logged out of smc", "address", c.baseURL)
	return nil
}

func (c *Client) discover(ctx context.Context) error {
	var versions struct {
		Version []link `json:"version"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api", &versions); err != nil {
		return fmt.Errorf("smc api discovery: %w", err)
	}

	var apiHref string
	if c.version != "" {
		for _, v := range versions.Version {
			if v.Rel == c.version {
				apiHref = v.Href
			}
		}
		if apiHref == "" {
			return fmt.Errorf("smc: api version %s is not supported by %s", c.version, c.baseURL)
		}
	} else {
		var best link
		for _, v := range versions.Version {
			if best.Rel == "" || compareVersions(v.Rel, best.Rel) > 0 {
				best = v
			}
		}
		if best.Rel == "" {
			return fmt.Errorf("smc: %s advertised no api versions", c.baseURL)
		}
		c.version, apiHref = best.Rel, best.Href
	}
	if apiHref == "" {
		apiHref = c.baseURL + "/" + c.version + "/api"
	}

	var entries struct {
		EntryPoint []link `json:"entry_point"`
	}
	if err := c.getJSON(ctx, apiHref, &entries); err != nil {
		return fmt.Errorf("smc entry points: %w", err)
	}
	eps := make(map[string]string, len(entries.EntryPoint))
	for _, e := range entries.EntryPoint {
		eps[e.Rel] = e.Href
	}
	for _, rel := range []string{entryLogin, entryIPList} {
		if eps[rel] == "" {
			return fmt.Errorf("smc: entry point %q not found", rel)
		}
	}
	c.entryPoints = eps
	return nil
}

// compareVersions orders dotted numeric versions such as 6.10 and 7.0.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (c *Client) entryPoint(rel string) (string, error) {
	if c.entryPoints == nil {
		return "", ErrNotLoggedIn
	}
	href, ok := c.entryPoints[rel]
	if !ok {
		return "", fmt.Errorf("smc: entry point %q not found", rel)
	}
	return href, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	_, body, err := c.doJSON(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", endpoint, err)
	}
	return nil
}

// doJSON sends payload as JSON and returns the response with its body.
// Responses outside the 2xx range are returned as *Error.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload any, header http.Header) (*http.Response, []byte, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("smc request", "method", method, "url", endpoint)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, data, newError(resp, data)
	}
	return resp, data, nil
}
