// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

// options = how options are represented
type Options struct {
	WithEnvFile string
	WithRCFile  string
	WithEnviron []string
	// withEnvironSet distinguishes an empty environment from the default.
	withEnvironSet bool
}

// getOpts - iterate the inbound Options and return a struct
func getOpts(opts ...Option) (*Options, error) {
	defaultOptions := getDefaultOptions()
	for _, opt := range opts {
		if err := opt(defaultOptions); err != nil {
			return nil, err
		}
	}
	return defaultOptions, nil
}

// Option - how Options are passed as arguments
type Option func(*Options) error

func getDefaultOptions() *Options {
	return &Options{}
}

// WithEnvFile reads dotenv variables from path. The file must exist. Without
// this option a .env file in the working directory is read when present.
func WithEnvFile(path string) Option {
	return func(o *Options) error {
		o.WithEnvFile = path
		return nil
	}
}

// WithRCFile reads SMC settings from an smcrc file at path. The file must
// exist. Without this option ~/.smcrc is read when present.
func WithRCFile(path string) Option {
	return func(o *Options) error {
		o.WithRCFile = path
		return nil
	}
}

// WithEnviron replaces the process environment, in os.Environ form.
func WithEnviron(environ []string) Option {
	return func(o *Options) error {
		o.WithEnviron = environ
		o.withEnvironSet = true
		return nil
	}
}
