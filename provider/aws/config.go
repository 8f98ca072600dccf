// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/hashicorp/smc-tag-sync/internal/logging"
)

// DefaultCredentialsFile is used as the shared credentials file when it
// exists in the working directory.
const DefaultCredentialsFile = "config"

// STSAPI is the subset of the STS client used to check credentials.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

var _ STSAPI = (*sts.Client)(nil)

// LoadConfig loads the SDK configuration with adaptive retries and SDK
// logging routed to logger.
func LoadConfig(ctx context.Context, region, profile, credentialsFile string, logger *slog.Logger) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithLogger(logging.SmithyLogger(logger)),
		config.WithClientLogMode(aws.LogRetries),
		config.WithRetryMode(aws.RetryModeAdaptive),
	}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if credentialsFile == "" {
		if info, err := os.Stat(DefaultCredentialsFile); err == nil && !info.IsDir() {
			credentialsFile = DefaultCredentialsFile
		}
	}
	if credentialsFile != "" {
		logger.Debug("using shared credentials file", "path", credentialsFile)
		opts = append(opts, config.WithSharedCredentialsFiles([]string{credentialsFile}))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.Region == "" {
		return aws.Config{}, errors.New("aws region is required, set --region or AWS_REGION")
	}
	return cfg, nil
}

// CallerIdentity verifies the credentials and logs who they belong to.
func CallerIdentity(ctx context.Context, client STSAPI, logger *slog.Logger) (*sts.GetCallerIdentityOutput, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("checking aws credentials: %w", err)
	}
	logger.Info("aws identity", "account", aws.ToString(out.Account), "arn", aws.ToString(out.Arn))
	return out, nil
}
