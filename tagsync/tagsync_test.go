// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package tagsync

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/smc-tag-sync/internal/report"
	"github.com/hashicorp/smc-tag-sync/iplist"
	"github.com/hashicorp/smc-tag-sync/smc"
	smctesting "github.com/hashicorp/smc-tag-sync/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCollector struct {
	inv *Inventory
	err error
}

func (c *testCollector) Collect(context.Context) (*Inventory, error) {
	return c.inv, c.err
}

type testIPListAPI struct {
	calls  []string
	failOn string
}

func (f *testIPListAPI) UpdateOrCreateIPList(_ context.Context, name string, addrs []string) (*smc.Result, error) {
	f.calls = append(f.calls, name)
	if name == f.failOn {
		return nil, errors.New("boom")
	}
	return &smc.Result{Name: name, Action: smc.ActionCreated, Added: addrs}, nil
}

func testInventory() *Inventory {
	return &Inventory{
		Provider: "gcp",
		Resources: []iplist.Resource{
			{ID: "1", Tags: map[string]string{"env": "prod", "web": ""}, Addresses: []string{"10.0.0.2", "10.0.0.1"}},
			{ID: "2", Tags: map[string]string{"env": "prod"}, Addresses: []string{"10.0.0.3"}},
			{ID: "3", Addresses: []string{"10.0.0.4"}},
		},
	}
}

func smcSession(t *testing.T, srv *smctesting.SMCServer) SessionFunc {
	return func(ctx context.Context) (smc.IPListAPI, func(context.Context) error, error) {
		c, err := smc.NewClient(smc.Config{Address: srv.URL(), APIKey: "key"})
		require.NoError(t, err)
		if err := c.Login(ctx); err != nil {
			return nil, nil, err
		}
		return c, c.Logout, nil
	}
}

func TestRunPushesGroups(t *testing.T) {
	ctx := context.Background()
	srv := smctesting.NewSMCServer(t, "key")
	srv.AddIPList("env_prod", "10.0.0.9")

	var out bytes.Buffer
	s := &Syncer{
		Collector: &testCollector{inv: testInventory()},
		Session:   smcSession(t, srv),
		Report:    report.NewPrinter(&out, report.FormatText, true),
	}

	summary, err := s.Run(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, smc.ActionUpdated, summary.Results[0].Action)
	assert.Equal(t, smc.ActionCreated, summary.Results[1].Action)
	assert.Equal(t, 1, summary.Count(smc.ActionCreated))
	assert.False(t, srv.LoggedIn())

	ips, _ := srv.IPList("env_prod")
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, ips)
	ips, _ = srv.IPList("web")
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, ips)
	assert.Contains(t, out.String(), "smc results (2)")
}

func TestRunEmptiesListOfTagWithoutAddresses(t *testing.T) {
	ctx := context.Background()
	srv := smctesting.NewSMCServer(t, "key")
	srv.AddIPList("env_prod", "10.0.0.1")

	s := &Syncer{
		Collector: &testCollector{inv: &Inventory{
			Provider:  "gcp",
			Resources: []iplist.Resource{{ID: "1", Tags: map[string]string{"env": "prod"}}},
		}},
		Session: smcSession(t, srv),
	}

	summary, err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []iplist.Group{{Name: "env_prod", Addresses: []string{}}}, summary.Groups)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, smc.ActionUpdated, summary.Results[0].Action)
	assert.Equal(t, []string{"10.0.0.1"}, summary.Results[0].Removed)

	ips, ok := srv.IPList("env_prod")
	require.True(t, ok)
	assert.Empty(t, ips)
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	srv := smctesting.NewSMCServer(t, "key")
	s := &Syncer{
		Collector: &testCollector{inv: testInventory()},
		Session:   smcSession(t, srv),
	}

	_, err := s.Run(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, srv.MutatingRequests())

	srv.ResetRequests()
	summary, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count(smc.ActionUnchanged))
	assert.Empty(t, srv.MutatingRequests())
}

func TestRunReportOnly(t *testing.T) {
	ctx := context.Background()
	srv := smctesting.NewSMCServer(t, "key")
	called := false

	var out bytes.Buffer
	s := &Syncer{
		Collector:  &testCollector{inv: testInventory()},
		ReportOnly: true,
		Report:     report.NewPrinter(&out, report.FormatText, true),
		Session: func(ctx context.Context) (smc.IPListAPI, func(context.Context) error, error) {
			called = true
			return smcSession(t, srv)(ctx)
		},
	}

	summary, err := s.Run(ctx)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Empty(t, srv.Requests())
	assert.Len(t, summary.Groups, 2)
	assert.Empty(t, summary.Results)
	assert.Contains(t, out.String(), "report only")
}

func TestRunStopsAtFirstError(t *testing.T) {
	ctx := context.Background()
	api := &testIPListAPI{failOn: "env_prod"}
	closed := false

	s := &Syncer{
		Collector: &testCollector{inv: testInventory()},
		Session: func(context.Context) (smc.IPListAPI, func(context.Context) error, error) {
			return api, func(context.Context) error { closed = true; return nil }, nil
		},
	}

	_, err := s.Run(ctx)
	require.EqualError(t, err, `updating ip list "env_prod": boom`)
	assert.Equal(t, []string{"env_prod"}, api.calls)
	assert.True(t, closed)
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name        string
		syncer      *Syncer
		expectedErr string
	}{
		{
			name:        "no collector",
			syncer:      &Syncer{},
			expectedErr: "collector is required",
		},
		{
			name:        "collector error",
			syncer:      &Syncer{Collector: &testCollector{err: errors.New("access denied")}},
			expectedErr: "collecting inventory: access denied",
		},
		{
			name:        "no session",
			syncer:      &Syncer{Collector: &testCollector{inv: testInventory()}},
			expectedErr: "smc session is required unless running report only",
		},
		{
			name: "session error",
			syncer: &Syncer{
				Collector: &testCollector{inv: testInventory()},
				Session: func(context.Context) (smc.IPListAPI, func(context.Context) error, error) {
					return nil, nil, errors.New("login failed")
				},
			},
			expectedErr: "opening smc session: login failed",
		},
		{
			name: "close error",
			syncer: &Syncer{
				Collector: &testCollector{inv: testInventory()},
				Session: func(context.Context) (smc.IPListAPI, func(context.Context) error, error) {
					return &testIPListAPI{}, func(context.Context) error { return errors.New("logout failed") }, nil
				},
			},
			expectedErr: "closing smc session: logout failed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.syncer.Run(ctx)
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}

func TestRunNothingToPush(t *testing.T) {
	called := false
	s := &Syncer{
		Collector: &testCollector{inv: &Inventory{Provider: "azure"}},
		Session: func(context.Context) (smc.IPListAPI, func(context.Context) error, error) {
			called = true
			return nil, nil, nil
		},
	}
	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Groups)
	assert.False(t, called)
}
