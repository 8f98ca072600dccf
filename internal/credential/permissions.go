// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package credential

import (
	"context"
	"slices"
	"strings"

	"cloud.google.com/go/iam/apiv1/iampb"
	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ListingPermissions are the IAM permissions needed to collect the
// instances of a project.
var ListingPermissions = []string{ComputeInstancesListPermission}

// CheckPermissions asks Resource Manager which of permissions the
// credentials hold on the configured project. Every permission must be
// granted; the granted ones are returned.
func (c *Config) CheckPermissions(ctx context.Context, permissions []string, opts ...option.ClientOption) ([]string, error) {
	if len(permissions) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no permissions to check")
	}
	if c.ProjectId == "" {
		return nil, status.Error(codes.InvalidArgument, "project id is required")
	}
	resource := "projects/" + c.ProjectId

	projects, err := resourcemanager.NewProjectsClient(ctx, opts...)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "connecting to resource manager: %v", err)
	}
	defer projects.Close()

	resp, err := projects.TestIamPermissions(ctx, &iampb.TestIamPermissionsRequest{
		Resource:    resource,
		Permissions: permissions,
	})
	if err != nil {
		return nil, status.Errorf(status.Code(err), "testing permissions on %s: %v", resource, err)
	}

	granted := resp.GetPermissions()
	missing := slices.DeleteFunc(slices.Clone(permissions), func(p string) bool {
		return slices.Contains(granted, p)
	})
	if len(missing) > 0 {
		return nil, status.Errorf(codes.PermissionDenied, "%s lacks %s", resource, strings.Join(missing, ", "))
	}
	return granted, nil
}
