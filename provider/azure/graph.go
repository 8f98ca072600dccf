// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resourcegraph/armresourcegraph"
	"github.com/mitchellh/mapstructure"
)

// interfaceAddressQuery yields one row per IP configuration of every network
// interface, keyed by the lower-cased interface id.
const interfaceAddressQuery = `Resources
| where type =~ 'microsoft.network/networkinterfaces'
| mv-expand ipconfig = properties.ipConfigurations
| project id = tolower(id), privateIPAddress = tostring(ipconfig.properties.privateIPAddress)`

type interfaceAddressRow struct {
	ID               string `mapstructure:"id"`
	PrivateIPAddress string `mapstructure:"privateIPAddress"`
}

// interfaceAddresses maps network interface ids to their private addresses.
func (c *Collector) interfaceAddresses(ctx context.Context, subscription string) (map[string][]string, error) {
	addrs := make(map[string][]string)
	req := armresourcegraph.QueryRequest{
		Query:         to.Ptr(interfaceAddressQuery),
		Subscriptions: []*string{to.Ptr(subscription)},
		Options: &armresourcegraph.QueryRequestOptions{
			ResultFormat: to.Ptr(armresourcegraph.ResultFormatObjectArray),
		},
	}
	for {
		resp, err := c.clients.ResourceGraph.Resources(ctx, req, nil)
		if err != nil {
			return nil, fmt.Errorf("querying network interfaces in subscription %s: %w", subscription, err)
		}

		var rows []interfaceAddressRow
		if err := mapstructure.Decode(resp.Data, &rows); err != nil {
			return nil, fmt.Errorf("decoding network interfaces in subscription %s: %w", subscription, err)
		}
		for _, row := range rows {
			if row.ID == "" || row.PrivateIPAddress == "" {
				continue
			}
			addrs[row.ID] = append(addrs[row.ID], row.PrivateIPAddress)
		}

		if resp.SkipToken == nil || *resp.SkipToken == "" {
			break
		}
		req.Options.SkipToken = resp.SkipToken
	}
	c.logger.Debug("resolved network interfaces", "subscription", subscription, "interfaces", len(addrs))
	return addrs, nil
}
