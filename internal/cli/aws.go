// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	awsprovider "github.com/hashicorp/smc-tag-sync/provider/aws"
	"github.com/spf13/cobra"
)

type awsFlags struct {
	region          string
	profile         string
	credentialsFile string
	pageSize        int32
	states          string
	tagFilters      string
	name            string
	skipVPCs        bool
	untaggedGroup   string
}

// newEC2Client loads the AWS configuration, checks the caller identity and
// returns an EC2 client.
var newEC2Client = func(ctx context.Context, region, profile, credentialsFile string, logger *slog.Logger) (awsprovider.EC2API, error) {
	cfg, err := awsprovider.LoadConfig(ctx, region, profile, credentialsFile, logger)
	if err != nil {
		return nil, err
	}
	if _, err := awsprovider.CallerIdentity(ctx, sts.NewFromConfig(cfg), logger); err != nil {
		return nil, err
	}
	return ec2.NewFromConfig(cfg), nil
}

// NewAWSCommand returns the smc-aws-sync command.
func NewAWSCommand() *cobra.Command {
	a := &app{}
	f := &awsFlags{}
	cmd := newCommand("smc-aws-sync", "Sync EC2 instance tags to SMC ip lists", a)
	cmd.Long = `Lists the EC2 instances of a region, groups their private addresses by
tag and creates or updates one SMC ip list per tag/value pair.`

	flags := cmd.Flags()
	flags.StringVar(&f.region, "region", "", "AWS region (default AWS_REGION)")
	flags.StringVar(&f.profile, "profile", "", "shared config profile (default AWS_PROFILE)")
	flags.StringVar(&f.credentialsFile, "credentials_file", "", "shared credentials file (default ./"+awsprovider.DefaultCredentialsFile+" when present)")
	flags.Int32Var(&f.pageSize, "page_size", awsprovider.DefaultPageSize, "results per describe call, 5 to 1000")
	flags.StringVar(&f.states, "ec2_states", "", "comma separated instance states to include, e.g. running,stopped")
	flags.StringVar(&f.tagFilters, "tag_filters", "", "tag filters as key=value[|value],...")
	flags.StringVar(&f.name, "name", "", "only include instances whose Name tag matches, wildcards allowed")
	flags.BoolVar(&f.skipVPCs, "skip_vpc_discovery", false, "do not describe VPCs")
	flags.StringVar(&f.untaggedGroup, "untagged_group", "", "ip list for untagged instances (default untagged-aws-<availability zone>)")

	cmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		tagFilters, err := awsprovider.ParseTagFilters(f.tagFilters)
		if err != nil {
			return err
		}
		opts := awsprovider.Options{
			States:           splitList(f.states),
			TagFilters:       tagFilters,
			Name:             f.name,
			PageSize:         f.pageSize,
			SkipVPCDiscovery: f.skipVPCs,
		}
		if err := opts.Validate(); err != nil {
			return err
		}

		ctx := cmd.Context()
		client, err := newEC2Client(ctx,
			firstNonEmpty(f.region, a.cfg.AWS.Region),
			firstNonEmpty(f.profile, a.cfg.AWS.Profile),
			firstNonEmpty(f.credentialsFile, a.cfg.AWS.CredentialsFile),
			a.logger)
		if err != nil {
			return err
		}
		collector, err := awsprovider.NewCollector(client, opts)
		if err != nil {
			return err
		}
		return a.sync(ctx, collector, awsprovider.Grouper(f.untaggedGroup))
	})
	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
