// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package smc

import (
	"errors"
	"log/slog"
	"net/http"
)

// Options holds the optional settings of a Client.
type Options struct {
	WithHTTPClient *http.Client
	WithLogger     *slog.Logger
	WithComment    string
}

// Option - how Options are passed as arguments
type Option func(*Options) error

func getOpts(opts ...Option) (*Options, error) {
	defaultOptions := getDefaultOptions()
	for _, opt := range opts {
		if err := opt(defaultOptions); err != nil {
			return nil, err
		}
	}
	return defaultOptions, nil
}

func getDefaultOptions() *Options {
	return &Options{
		WithLogger:  slog.New(slog.DiscardHandler),
		WithComment: "Managed by smc-tag-sync",
	}
}

// WithHTTPClient replaces the HTTP client built from the Config. The client
// must carry a cookie jar for the SMC session to survive across requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) error {
		if c == nil {
			return errors.New("http client is nil")
		}
		if c.Jar == nil {
			return errors.New("http client has no cookie jar")
		}
		o.WithHTTPClient = c
		return nil
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) error {
		if l != nil {
			o.WithLogger = l
		}
		return nil
	}
}

// WithComment sets the comment stored on IP lists created by the client.
func WithComment(comment string) Option {
	return func(o *Options) error {
		o.WithComment = comment
		return nil
	}
}
