// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package azure collects virtual machines and their network interface
// addresses across Azure subscriptions.
package azure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resourcegraph/armresourcegraph"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/hashicorp/smc-tag-sync/iplist"
	"github.com/hashicorp/smc-tag-sync/tagsync"
)

// ProviderName identifies Azure inventories.
const ProviderName = "azure"

// SubscriptionsAPI lists the subscriptions visible to the credential.
type SubscriptionsAPI interface {
	NewListPager(options *armsubscriptions.ClientListOptions) *runtime.Pager[armsubscriptions.ClientListResponse]
}

// VirtualMachinesAPI lists the virtual machines of one subscription.
type VirtualMachinesAPI interface {
	NewListAllPager(options *armcompute.VirtualMachinesClientListAllOptions) *runtime.Pager[armcompute.VirtualMachinesClientListAllResponse]
	NewListPager(resourceGroupName string, options *armcompute.VirtualMachinesClientListOptions) *runtime.Pager[armcompute.VirtualMachinesClientListResponse]
}

// ResourceGraphAPI runs Azure Resource Graph queries.
type ResourceGraphAPI interface {
	Resources(ctx context.Context, query armresourcegraph.QueryRequest, options *armresourcegraph.ClientResourcesOptions) (armresourcegraph.ClientResourcesResponse, error)
}

// VirtualMachinesFactory returns the virtual machines client of a
// subscription.
type VirtualMachinesFactory func(subscriptionID string) (VirtualMachinesAPI, error)

var (
	_ SubscriptionsAPI   = (*armsubscriptions.Client)(nil)
	_ VirtualMachinesAPI = (*armcompute.VirtualMachinesClient)(nil)
	_ ResourceGraphAPI   = (*armresourcegraph.Client)(nil)
)

// Clients groups the Azure clients a Collector needs.
type Clients struct {
	Subscriptions   SubscriptionsAPI
	VirtualMachines VirtualMachinesFactory
	ResourceGraph   ResourceGraphAPI
}

// NewCredential reads a service principal from AZURE_TENANT_ID,
// AZURE_CLIENT_ID and one of AZURE_CLIENT_SECRET,
// AZURE_CLIENT_CERTIFICATE_PATH or AZURE_USERNAME/AZURE_PASSWORD.
func NewCredential() (*azidentity.EnvironmentCredential, error) {
	cred, err := azidentity.NewEnvironmentCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure credential: %w", err)
	}
	return cred, nil
}

// NewClients builds the ARM clients for cred.
func NewClients(cred azcore.TokenCredential, opts *arm.ClientOptions) (*Clients, error) {
	subs, err := armsubscriptions.NewClient(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("creating subscriptions client: %w", err)
	}
	graph, err := armresourcegraph.NewClient(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("creating resource graph client: %w", err)
	}
	return &Clients{
		Subscriptions: subs,
		VirtualMachines: func(subscriptionID string) (VirtualMachinesAPI, error) {
			return armcompute.NewVirtualMachinesClient(subscriptionID, cred, opts)
		},
		ResourceGraph: graph,
	}, nil
}

// Options select which virtual machines are collected.
type Options struct {
	// Subscriptions to scan. Every subscription visible to the credential
	// is scanned when empty.
	Subscriptions []string
	// ResourceGroups restricts listing to these groups.
	ResourceGroups []string
	// TenantID and ClientID only appear in error messages.
	TenantID string
	ClientID string
	Logger   *slog.Logger
}

// Collector lists virtual machines across subscriptions.
type Collector struct {
	clients Clients
	opts    Options
	logger  *slog.Logger
}

var _ tagsync.Collector = (*Collector)(nil)

// NewCollector returns a Collector using clients.
func NewCollector(clients Clients, opts Options) (*Collector, error) {
	switch {
	case clients.VirtualMachines == nil:
		return nil, errors.New("virtual machines client factory is required")
	case clients.ResourceGraph == nil:
		return nil, errors.New("resource graph client is required")
	case clients.Subscriptions == nil && len(opts.Subscriptions) == 0:
		return nil, errors.New("subscriptions client is required when no subscription is given")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Collector{clients: clients, opts: opts, logger: logger}, nil
}

// Collect lists the virtual machines of every subscription and resolves
// their private addresses.
func (c *Collector) Collect(ctx context.Context) (*tagsync.Inventory, error) {
	subscriptions, err := c.subscriptions(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Info("scanning subscriptions", "subscriptions", subscriptions)

	inv := &tagsync.Inventory{Provider: ProviderName}
	for _, sub := range subscriptions {
		vms, err := c.virtualMachines(ctx, sub)
		if err != nil {
			return nil, err
		}
		if len(vms) == 0 {
			c.logger.Info("no virtual machines found", "subscription", sub)
			continue
		}
		addrs, err := c.interfaceAddresses(ctx, sub)
		if err != nil {
			return nil, err
		}
		for _, vm := range vms {
			inv.Resources = append(inv.Resources, vmToResource(sub, vm, addrs))
		}
	}
	return inv, nil
}

func (c *Collector) subscriptions(ctx context.Context) ([]string, error) {
	if len(c.opts.Subscriptions) > 0 {
		return c.opts.Subscriptions, nil
	}
	var subscriptions []string
	pager := c.clients.Subscriptions.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing subscriptions: %w", err)
		}
		for _, s := range page.Value {
			if s == nil || s.SubscriptionID == nil {
				continue
			}
			c.logger.Debug("found subscription", "id", *s.SubscriptionID, "name", deref(s.DisplayName), "tenant", deref(s.TenantID))
			subscriptions = append(subscriptions, *s.SubscriptionID)
		}
	}
	if len(subscriptions) == 0 {
		return nil, fmt.Errorf("no subscriptions were found for client id %q and tenant id %q", c.opts.ClientID, c.opts.TenantID)
	}
	return subscriptions, nil
}

func (c *Collector) virtualMachines(ctx context.Context, subscription string) ([]*armcompute.VirtualMachine, error) {
	client, err := c.clients.VirtualMachines(subscription)
	if err != nil {
		return nil, fmt.Errorf("creating virtual machines client for subscription %s: %w", subscription, err)
	}

	var vms []*armcompute.VirtualMachine
	if len(c.opts.ResourceGroups) == 0 {
		pager := client.NewListAllPager(nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("listing virtual machines in subscription %s: %w", subscription, err)
			}
			vms = appendVMs(vms, page.Value)
		}
		return vms, nil
	}

	for _, rg := range c.opts.ResourceGroups {
		pager := client.NewListPager(rg, nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("listing virtual machines in resource group %s: %w", rg, err)
			}
			vms = appendVMs(vms, page.Value)
		}
	}
	return vms, nil
}

func appendVMs(vms, page []*armcompute.VirtualMachine) []*armcompute.VirtualMachine {
	for _, vm := range page {
		if vm != nil && vm.ID != nil {
			vms = append(vms, vm)
		}
	}
	return vms
}

func vmToResource(subscription string, vm *armcompute.VirtualMachine, addrs map[string][]string) iplist.Resource {
	r := iplist.Resource{
		ID:       deref(vm.ID),
		Name:     deref(vm.Name),
		Location: subscription,
		Network:  ResourceGroupFromID(deref(vm.ID)),
	}
	if len(vm.Tags) > 0 {
		r.Tags = make(map[string]string, len(vm.Tags))
		for k, v := range vm.Tags {
			r.Tags[k] = deref(v)
		}
	}
	if vm.Properties == nil {
		return r
	}
	if vm.Properties.VMID != nil {
		r.ID = *vm.Properties.VMID
	}
	if vm.Properties.NetworkProfile == nil {
		return r
	}
	for _, nic := range vm.Properties.NetworkProfile.NetworkInterfaces {
		if nic == nil || nic.ID == nil {
			continue
		}
		for _, addr := range addrs[strings.ToLower(*nic.ID)] {
			r.Addresses = iplist.AppendDistinct(r.Addresses, &addr)
		}
	}
	return r
}

// ResourceGroupFromID returns the resource group segment of an ARM id, or
// an empty string when id has none.
func ResourceGroupFromID(id string) string {
	parts := strings.Split(strings.Trim(id, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if strings.EqualFold(parts[i], "resourceGroups") {
			return parts[i+1]
		}
	}
	return ""
}

// Grouper names lists key_value, or key for empty values. Untagged virtual
// machines are not grouped.
func Grouper() iplist.Grouper {
	return iplist.Grouper{Name: iplist.ListName}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
