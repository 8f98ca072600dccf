// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package gcp

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	computepb "cloud.google.com/go/compute/apiv1/computepb"
	"github.com/hashicorp/smc-tag-sync/iplist"
	"google.golang.org/api/iterator"
)

func getInstances(ctx context.Context, instancesClient InstancesAPI, request *computepb.ListInstancesRequest) ([]*computepb.Instance, error) {
	instances := []*computepb.Instance{}
	it := instancesClient.List(ctx, request)
	for {
		resp, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error listing instances in zone %s: %w", request.GetZone(), err)
		}
		instances = append(instances, resp)
	}
	return instances, nil
}

// getAggregatedInstances lists instances across every zone of the project.
func getAggregatedInstances(ctx context.Context, instancesClient InstancesAPI, request *computepb.AggregatedListInstancesRequest) ([]*computepb.Instance, error) {
	instances := []*computepb.Instance{}
	it := instancesClient.AggregatedList(ctx, request)
	for {
		pair, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error listing instances: %w", err)
		}
		instances = append(instances, pair.Value.GetInstances()...)
	}
	return instances, nil
}

func instanceToResource(instance *computepb.Instance, includeExternal bool) (iplist.Resource, error) {
	if instance.GetId() == 0 {
		return iplist.Resource{}, errors.New("response integrity error: missing instance id")
	}
	if instance.GetName() == "" {
		return iplist.Resource{}, errors.New("response integrity error: missing instance name")
	}

	result := iplist.Resource{
		ID:       strconv.FormatUint(instance.GetId(), 10),
		Name:     instance.GetName(),
		Location: lastSegment(instance.GetZone()),
	}

	if labels := instance.GetLabels(); len(labels) > 0 {
		result.Tags = make(map[string]string, len(labels))
		for k, v := range labels {
			result.Tags[k] = v
		}
	}

	for _, iface := range instance.GetNetworkInterfaces() {
		if result.Network == "" {
			result.Network = lastSegment(iface.GetNetwork())
		}
		result.Addresses = iplist.AppendDistinct(result.Addresses, iface.NetworkIP, iface.Ipv6Address)

		if !includeExternal {
			continue
		}
		for _, external := range iface.GetAccessConfigs() {
			result.Addresses = iplist.AppendDistinct(result.Addresses, external.NatIP, external.ExternalIpv6)
		}
		for _, external := range iface.GetIpv6AccessConfigs() {
			result.Addresses = iplist.AppendDistinct(result.Addresses, external.ExternalIpv6)
		}
	}

	return result, nil
}

// lastSegment returns the resource name of a Compute Engine URL such as
// https://www.googleapis.com/compute/v1/projects/p/zones/us-central1-a.
func lastSegment(url string) string {
	if url == "" {
		return ""
	}
	return path.Base(url)
}
