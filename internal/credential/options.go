// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package credential

// options = how options are represented
type Options struct {
	WithProjectId              string
	WithCredentialsFile        string
	WithTargetServiceAccountId string
	WithScopes                 []string
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
	return &Options{
		WithScopes: DefaultScopes,
	}
}

func WithProjectId(id string) Option {
	return func(o *Options) error {
		o.WithProjectId = id
		return nil
	}
}

// WithCredentialsFile loads a service account key file.
func WithCredentialsFile(path string) Option {
	return func(o *Options) error {
		o.WithCredentialsFile = path
		return nil
	}
}

// WithTargetServiceAccountId impersonates the given service account.
func WithTargetServiceAccountId(id string) Option {
	return func(o *Options) error {
		o.WithTargetServiceAccountId = id
		return nil
	}
}

func WithScopes(scopes ...string) Option {
	return func(o *Options) error {
		if len(scopes) > 0 {
			o.WithScopes = scopes
		}
		return nil
	}
}
