// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package credential

import (
	"context"
	"fmt"
	"net"

	"cloud.google.com/go/iam/apiv1/iampb"
	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	"google.golang.org/grpc"
)

// TestResourceServer is a fake Resource Manager projects service answering
// TestIamPermissions with a canned response.
type TestResourceServer struct {
	resourcemanagerpb.UnimplementedProjectsServer
	TestIamPermissionsResponse *iampb.TestIamPermissionsResponse
	TestIamPermissionsError    error
	// LastRequest is the most recent TestIamPermissions request.
	LastRequest *iampb.TestIamPermissionsRequest
}

func (f *TestResourceServer) TestIamPermissions(_ context.Context, req *iampb.TestIamPermissionsRequest) (*iampb.TestIamPermissionsResponse, error) {
	f.LastRequest = req
	return f.TestIamPermissionsResponse, f.TestIamPermissionsError
}

// GRPCServer serves fake Google APIs on a local port.
type GRPCServer struct {
	*grpc.Server
}

func NewGRPCServer() *GRPCServer {
	return &GRPCServer{Server: grpc.NewServer()}
}

// Start serves on a random localhost port and returns its address.
func (s *GRPCServer) Start() (string, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return "", fmt.Errorf("failed to listen: %v", err)
	}
	go func() {
		_ = s.Serve(l)
	}()
	return l.Addr().String(), nil
}
