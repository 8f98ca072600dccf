// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"os"

	"github.com/hashicorp/smc-tag-sync/internal/credential"
	"github.com/hashicorp/smc-tag-sync/provider/gcp"
	"github.com/spf13/cobra"
)

type gcpFlags struct {
	projectID        string
	zone             string
	pageSize         uint32
	filters          []string
	status           string
	includeExternal  bool
	credentialsFile  string
	impersonate      string
	checkPermissions bool
}

var (
	newInstancesClient = func(ctx context.Context, cfg *credential.Config) (gcp.InstancesAPI, func() error, error) {
		client, err := gcp.NewInstancesClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}

	checkPermissions = func(ctx context.Context, cfg *credential.Config) ([]string, error) {
		opts, err := cfg.ClientOptions(ctx)
		if err != nil {
			return nil, err
		}
		return cfg.CheckPermissions(ctx, credential.ListingPermissions, opts...)
	}
)

// NewGCPCommand returns the smc-gcp-sync command.
func NewGCPCommand() *cobra.Command {
	a := &app{}
	f := &gcpFlags{}
	cmd := newCommand("smc-gcp-sync", "Sync Compute Engine instance labels to SMC ip lists", a)
	cmd.Long = `Lists the Compute Engine instances of a project, groups their addresses by
label and creates or updates one SMC ip list per label/value pair.`

	flags := cmd.Flags()
	flags.StringVar(&f.projectID, "project_id", "", "project to scan (default GCP_PROJECT_ID or the project of the credentials)")
	flags.StringVar(&f.zone, "zone", "", "only list instances in this zone (default every zone)")
	flags.Uint32Var(&f.pageSize, "page_size", gcp.DefaultPageSize, "instances per list call")
	flags.StringArrayVar(&f.filters, "filter", nil, `list filter as "key op value", repeatable`)
	flags.StringVar(&f.status, "status", "", "only list instances in this status, e.g. RUNNING")
	flags.BoolVar(&f.includeExternal, "include_external", false, "include external NAT and IPv6 addresses")
	flags.StringVar(&f.credentialsFile, "credentials_file", "", "service account key file (default GOOGLE_APPLICATION_CREDENTIALS, then ./"+credential.DefaultCredentialsFile+" when present, else application default credentials)")
	flags.StringVar(&f.impersonate, "impersonate", "", "service account to impersonate")
	flags.BoolVar(&f.checkPermissions, "check_permissions", false, "verify the credentials may list instances before collecting")

	cmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		credOpts := []credential.Option{
			credential.WithProjectId(firstNonEmpty(f.projectID, a.cfg.GCP.ProjectID)),
			credential.WithTargetServiceAccountId(f.impersonate),
		}
		if file := gcpCredentialsFile(f.credentialsFile, a.cfg.GCP.CredentialsFile); file != "" {
			a.logger.Debug("using service account key file", "path", file)
			credOpts = append(credOpts, credential.WithCredentialsFile(file))
		}
		credCfg, err := credential.NewConfig(credOpts...)
		if err != nil {
			return err
		}

		client, closeFn, err := newInstancesClient(ctx, credCfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeFn(); err != nil {
				a.logger.Debug("closing instances client", "error", err)
			}
		}()

		if f.checkPermissions {
			granted, err := checkPermissions(ctx, credCfg)
			if err != nil {
				return err
			}
			a.logger.Info("permissions verified", "project", credCfg.ProjectId, "permissions", granted)
		}

		collector, err := gcp.NewCollector(client, gcp.Options{
			Project:         credCfg.ProjectId,
			Zone:            f.zone,
			PageSize:        f.pageSize,
			Filters:         f.filters,
			Status:          f.status,
			IncludeExternal: f.includeExternal,
		})
		if err != nil {
			return err
		}
		return a.sync(ctx, collector, gcp.Grouper())
	})
	return cmd
}

func gcpCredentialsFile(flag, env string) string {
	if file := firstNonEmpty(flag, env); file != "" {
		return file
	}
	if info, err := os.Stat(credential.DefaultCredentialsFile); err == nil && !info.IsDir() {
		return credential.DefaultCredentialsFile
	}
	return ""
}
