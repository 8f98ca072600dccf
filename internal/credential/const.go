// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package credential

const (
	// DefaultCredentialsFile is the service account key file picked up from
	// the working directory when no other credentials are configured.
	DefaultCredentialsFile = "gcp.json"

	// ComputeReadOnlyScope allows listing Compute Engine resources.
	ComputeReadOnlyScope = "https://www.googleapis.com/auth/compute.readonly"

	// CloudPlatformReadOnlyScope allows reading project IAM permissions.
	CloudPlatformReadOnlyScope = "https://www.googleapis.com/auth/cloud-platform.read-only"

	// ComputeInstancesListPermission is the IAM permission required
	// to list compute instances.
	ComputeInstancesListPermission = "compute.instances.list"

	serviceAccountType = "service_account"
)

// DefaultScopes are requested when no scopes are configured.
var DefaultScopes = []string{ComputeReadOnlyScope, CloudPlatformReadOnlyScope}
