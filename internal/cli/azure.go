// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"github.com/hashicorp/smc-tag-sync/provider/azure"
	"github.com/spf13/cobra"
)

// newAzureClients builds the ARM clients from the environment credential.
var newAzureClients = func() (*azure.Clients, error) {
	cred, err := azure.NewCredential()
	if err != nil {
		return nil, err
	}
	return azure.NewClients(cred, nil)
}

// NewAzureCommand returns the smc-azure-sync command.
func NewAzureCommand() *cobra.Command {
	a := &app{}
	var (
		subscription   string
		resourceGroups []string
	)
	cmd := newCommand("smc-azure-sync", "Sync Azure virtual machine tags to SMC ip lists", a)
	cmd.Long = `Lists the virtual machines of one or every subscription visible to the
service principal in AZURE_TENANT_ID/AZURE_CLIENT_ID, groups their private
addresses by tag and creates or updates one SMC ip list per tag/value pair.`

	cmd.Flags().StringVar(&subscription, "subscription", "", "subscription id to scan (default AZURE_SUBSCRIPTION_ID, else every visible subscription)")
	cmd.Flags().StringSliceVar(&resourceGroups, "resource-group", nil, "only list virtual machines in these resource groups")

	cmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		clients, err := newAzureClients()
		if err != nil {
			return err
		}
		opts := azure.Options{
			ResourceGroups: resourceGroups,
			TenantID:       a.cfg.Azure.TenantID,
			ClientID:       a.cfg.Azure.ClientID,
			Logger:         a.logger,
		}
		if sub := firstNonEmpty(subscription, a.cfg.Azure.SubscriptionID); sub != "" {
			opts.Subscriptions = []string{sub}
		}
		collector, err := azure.NewCollector(*clients, opts)
		if err != nil {
			return err
		}
		return a.sync(cmd.Context(), collector, azure.Grouper())
	})
	return cmd
}
