// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package aws collects EC2 instances and VPCs.
package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/hashicorp/smc-tag-sync/iplist"
	"github.com/hashicorp/smc-tag-sync/tagsync"
)

const (
	// ProviderName identifies AWS inventories.
	ProviderName = "aws"

	// DefaultPageSize is the default MaxResults of describe calls.
	DefaultPageSize = 100

	// nameTag holds the instance and VPC display name. It never forms a
	// list of its own.
	nameTag = "Name"

	unknownVPCName = "Unknown"
)

// EC2API is the subset of the EC2 client used by the collector.
type EC2API interface {
	ec2.DescribeInstancesAPIClient
	ec2.DescribeVpcsAPIClient
}

var _ EC2API = (*ec2.Client)(nil)

// Options select which instances are collected.
type Options struct {
	// States are instance-state-name values, e.g. running.
	States []string
	// TagFilters restrict instances to those carrying one of the values
	// for every key.
	TagFilters map[string][]string
	// Name restricts instances to those whose Name tag matches.
	Name             string
	PageSize         int32
	SkipVPCDiscovery bool
}

// Collector lists the instances of one region.
type Collector struct {
	client EC2API
	opts   Options
}

var _ tagsync.Collector = (*Collector)(nil)

// NewCollector validates opts and returns a Collector using client.
func NewCollector(client EC2API, opts Options) (*Collector, error) {
	if client == nil {
		return nil, errors.New("ec2 client is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Collector{client: client, opts: opts}, nil
}

// Validate applies the default page size and checks it is within the
// range accepted by the describe calls.
func (o *Options) Validate() error {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize < 5 || o.PageSize > 1000 {
		return fmt.Errorf("page size must be between 5 and 1000, got %d", o.PageSize)
	}
	return nil
}

// Collect describes the VPCs and instances of the region.
func (c *Collector) Collect(ctx context.Context) (*tagsync.Inventory, error) {
	inv := &tagsync.Inventory{Provider: ProviderName}

	if !c.opts.SkipVPCDiscovery {
		networks, err := c.describeVpcs(ctx)
		if err != nil {
			return nil, err
		}
		inv.Networks = networks
	}

	p := ec2.NewDescribeInstancesPaginator(c.client, &ec2.DescribeInstancesInput{
		Filters:    c.filters(),
		MaxResults: aws.Int32(c.opts.PageSize),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				inv.Resources = append(inv.Resources, instanceToResource(instance))
			}
		}
	}
	return inv, nil
}

func (c *Collector) describeVpcs(ctx context.Context) ([]iplist.Network, error) {
	var networks []iplist.Network
	p := ec2.NewDescribeVpcsPaginator(c.client, &ec2.DescribeVpcsInput{
		MaxResults: aws.Int32(c.opts.PageSize),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing vpcs: %w", err)
		}
		for _, vpc := range page.Vpcs {
			name := unknownVPCName
			if v, ok := tagValue(vpc.Tags, nameTag); ok {
				name = v
			}
			networks = append(networks, iplist.Network{
				ID:   aws.ToString(vpc.VpcId),
				Name: name,
				CIDR: aws.ToString(vpc.CidrBlock),
			})
		}
	}
	return networks, nil
}

// filters builds the DescribeInstances filters in a stable order.
func (c *Collector) filters() []types.Filter {
	var filters []types.Filter
	if len(c.opts.States) > 0 {
		filters = append(filters, types.Filter{
			Name:   aws.String("instance-state-name"),
			Values: c.opts.States,
		})
	}
	if c.opts.Name != "" {
		filters = append(filters, types.Filter{
			Name:   aws.String("tag:" + nameTag),
			Values: []string{c.opts.Name},
		})
	}
	keys := make([]string, 0, len(c.opts.TagFilters))
	for k := range c.opts.TagFilters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		filters = append(filters, types.Filter{
			Name:   aws.String("tag:" + k),
			Values: c.opts.TagFilters[k],
		})
	}
	return filters
}

func instanceToResource(instance types.Instance) iplist.Resource {
	r := iplist.Resource{
		ID:      aws.ToString(instance.InstanceId),
		Network: aws.ToString(instance.VpcId),
	}
	if instance.Placement != nil {
		r.Location = aws.ToString(instance.Placement.AvailabilityZone)
	}
	for _, tag := range instance.Tags {
		key := aws.ToString(tag.Key)
		if key == nameTag {
			r.Name = aws.ToString(tag.Value)
			continue
		}
		if r.Tags == nil {
			r.Tags = make(map[string]string)
		}
		r.Tags[key] = aws.ToString(tag.Value)
	}

	r.Addresses = iplist.AppendDistinct(r.Addresses, instance.PrivateIpAddress)
	for _, ni := range instance.NetworkInterfaces {
		for _, pip := range ni.PrivateIpAddresses {
			r.Addresses = iplist.AppendDistinct(r.Addresses, pip.PrivateIpAddress)
		}
	}
	return r
}

func tagValue(tags []types.Tag, key string) (string, bool) {
	for _, t := range tags {
		if aws.ToString(t.Key) == key {
			return aws.ToString(t.Value), true
		}
	}
	return "", false
}

// Grouper names lists key_value with spaces replaced. Untagged instances go
// to untaggedGroup, or to untagged-aws-<availability zone> when it is empty.
func Grouper(untaggedGroup string) iplist.Grouper {
	return iplist.Grouper{
		Name: iplist.AWSListName,
		Untagged: func(r iplist.Resource) string {
			if untaggedGroup != "" {
				return untaggedGroup
			}
			location := r.Location
			if location == "" {
				location = "unknown"
			}
			return "untagged-aws-" + location
		},
	}
}

// ParseTagFilters parses key=value[|value],... into tag filters.
func ParseTagFilters(s string) (map[string][]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	filters := make(map[string][]string)
	for _, part := range strings.Split(s, ",") {
		key, values, ok := strings.Cut(strings.TrimSpace(part), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid tag filter %q, expected key=value[|value]", part)
		}
		for _, v := range strings.Split(values, "|") {
			if v = strings.TrimSpace(v); v != "" {
				filters[key] = append(filters[key], v)
			}
		}
		if len(filters[key]) == 0 {
			return nil, fmt.Errorf("tag filter %q has no values", part)
		}
	}
	return filters, nil
}
