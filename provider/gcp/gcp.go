// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package gcp collects Compute Engine instances and their labels.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	compute "cloud.google.com/go/compute/apiv1"
	computepb "cloud.google.com/go/compute/apiv1/computepb"
	"github.com/googleapis/gax-go/v2"
	"github.com/hashicorp/smc-tag-sync/internal/credential"
	"github.com/hashicorp/smc-tag-sync/iplist"
	"github.com/hashicorp/smc-tag-sync/tagsync"
	"google.golang.org/api/option"
)

// ProviderName identifies GCP inventories.
const ProviderName = "gcp"

// DefaultPageSize is the default page size of instance list calls.
const DefaultPageSize = 100

// InstancesAPI is the part of the Compute Engine instances client used to
// list instances, per zone or across every zone of a project.
type InstancesAPI interface {
	List(ctx context.Context, req *computepb.ListInstancesRequest, opts ...gax.CallOption) *compute.InstanceIterator
	AggregatedList(ctx context.Context, req *computepb.AggregatedListInstancesRequest, opts ...gax.CallOption) *compute.InstancesScopedListPairIterator
}

var _ InstancesAPI = (*compute.InstancesClient)(nil)

// Options select which instances are collected.
type Options struct {
	Project string
	// Zone restricts the listing to one zone. Empty lists every zone.
	Zone     string
	PageSize uint32
	// Filters are Compute Engine list filters of the form "key op value".
	Filters []string
	// Status adds a "status = <Status>" filter unless Filters already
	// holds a status filter.
	Status string
	// IncludeExternal adds NAT and external IPv6 addresses.
	IncludeExternal bool
}

// Collector lists the instances of one project.
type Collector struct {
	client  InstancesAPI
	opts    Options
	filters []string
}

var _ tagsync.Collector = (*Collector)(nil)

// NewCollector validates opts and returns a Collector using client.
func NewCollector(client InstancesAPI, opts Options) (*Collector, error) {
	if client == nil {
		return nil, errors.New("instances client is required")
	}
	if strings.TrimSpace(opts.Project) == "" {
		return nil, errors.New("project id is required")
	}
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	filters, err := buildFilters(opts.Filters, opts.Status)
	if err != nil {
		return nil, err
	}
	return &Collector{client: client, opts: opts, filters: filters}, nil
}

// Collect lists the instances and converts them to resources.
func (c *Collector) Collect(ctx context.Context) (*tagsync.Inventory, error) {
	var filter *string
	if len(c.filters) > 0 {
		f := strings.Join(c.filters, " AND ")
		filter = &f
	}
	pageSize := c.opts.PageSize

	var instances []*computepb.Instance
	var err error
	if c.opts.Zone != "" {
		instances, err = getInstances(ctx, c.client, &computepb.ListInstancesRequest{
			Project:    c.opts.Project,
			Zone:       c.opts.Zone,
			Filter:     filter,
			MaxResults: &pageSize,
		})
	} else {
		instances, err = getAggregatedInstances(ctx, c.client, &computepb.AggregatedListInstancesRequest{
			Project:    c.opts.Project,
			Filter:     filter,
			MaxResults: &pageSize,
		})
	}
	if err != nil {
		return nil, err
	}

	inv := &tagsync.Inventory{Provider: ProviderName}
	networks := make(map[string]struct{})
	for _, instance := range instances {
		r, err := instanceToResource(instance, c.opts.IncludeExternal)
		if err != nil {
			return nil, err
		}
		inv.Resources = append(inv.Resources, r)
		if r.Network != "" {
			if _, ok := networks[r.Network]; !ok {
				networks[r.Network] = struct{}{}
				inv.Networks = append(inv.Networks, iplist.Network{ID: r.Network, Name: r.Network})
			}
		}
	}
	return inv, nil
}

// Grouper names lists after labels; unlabelled instances are skipped.
func Grouper() iplist.Grouper {
	return iplist.Grouper{Name: iplist.ListName}
}

// NewInstancesClient returns an Instances REST client authenticated with
// the credential configuration.
func NewInstancesClient(ctx context.Context, cfg *credential.Config, opts ...option.ClientOption) (*compute.InstancesClient, error) {
	if cfg == nil {
		return nil, errors.New("nil gcp credentials")
	}
	clientOptions, err := cfg.ClientOptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("error generating GCP credentials: %w", err)
	}
	clientOptions = append(clientOptions, opts...)

	client, err := compute.NewInstancesRESTClient(ctx, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("error creating instances client: %w", err)
	}
	return client, nil
}
