// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	compute "cloud.google.com/go/compute/apiv1"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resourcegraph/armresourcegraph"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/hashicorp/smc-tag-sync/internal/credential"
	"github.com/hashicorp/smc-tag-sync/internal/report"
	awsprovider "github.com/hashicorp/smc-tag-sync/provider/aws"
	"github.com/hashicorp/smc-tag-sync/provider/azure"
	"github.com/hashicorp/smc-tag-sync/provider/gcp"
	smctest "github.com/hashicorp/smc-tag-sync/testing"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const testAPIKey = "test-api-key"

// isolate keeps the developer's ~/.smcrc, .env and SMC variables out of the
// test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	for k, v := range map[string]string{
		"SMC_ADDRESS":                    "",
		"SMC_API_KEY":                    "",
		"SMC_API_VERSION":                "",
		"SMC_DOMAIN":                     "",
		"SMC_CLIENT_CERT":                "",
		"SMC_TIMEOUT":                    "30",
		"SMC_SSL_VERIFY":                 "true",
		"AWS_REGION":                     "",
		"AWS_PROFILE":                    "",
		"AWS_SHARED_CREDENTIALS_FILE":    "",
		"AZURE_SUBSCRIPTION_ID":          "",
		"GCP_PROJECT_ID":                 "",
		"GOOGLE_APPLICATION_CREDENTIALS": "",
	} {
		t.Setenv(k, v)
	}
}

func useSMC(t *testing.T) *smctest.SMCServer {
	t.Helper()
	s := smctest.NewSMCServer(t, testAPIKey)
	t.Setenv("SMC_ADDRESS", s.URL())
	t.Setenv("SMC_API_KEY", testAPIKey)
	return s
}

type result struct {
	code   int
	stdout string
	stderr string
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	code := run(context.Background(), cmd, append([]string{"--no_color"}, args...))
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func decodeReport(t *testing.T, out string) report.Document {
	t.Helper()
	var doc report.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	return doc
}

type testEC2 struct {
	instances []types.Instance
	inputs    []*ec2.DescribeInstancesInput
}

func (f *testEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.inputs = append(f.inputs, in)
	return &ec2.DescribeInstancesOutput{Reservations: []types.Reservation{{Instances: f.instances}}}, nil
}

func (f *testEC2) DescribeVpcs(context.Context, *ec2.DescribeVpcsInput, ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	return &ec2.DescribeVpcsOutput{Vpcs: []types.Vpc{{VpcId: aws.String("vpc-1"), CidrBlock: aws.String("10.0.0.0/16")}}}, nil
}

func useEC2(t *testing.T, client *testEC2) *[]string {
	t.Helper()
	var calls []string
	old := newEC2Client
	newEC2Client = func(_ context.Context, region, profile, credentialsFile string, _ *slog.Logger) (awsprovider.EC2API, error) {
		calls = append(calls, fmt.Sprintf("%s|%s|%s", region, profile, credentialsFile))
		return client, nil
	}
	t.Cleanup(func() { newEC2Client = old })
	return &calls
}

func testEC2Instances() *testEC2 {
	return &testEC2{instances: []types.Instance{
		{
			InstanceId:       aws.String("i-1"),
			PrivateIpAddress: aws.String("10.0.0.1"),
			Placement:        &types.Placement{AvailabilityZone: aws.String("us-east-1a")},
			Tags: []types.Tag{
				{Key: aws.String("Name"), Value: aws.String("web-1")},
				{Key: aws.String("role"), Value: aws.String("web")},
			},
		},
		{
			InstanceId:       aws.String("i-2"),
			PrivateIpAddress: aws.String("10.0.0.2"),
			Placement:        &types.Placement{AvailabilityZone: aws.String("us-east-1b")},
		},
	}}
}

func TestAWSReportOnly(t *testing.T) {
	isolate(t)
	t.Setenv("AWS_REGION", "us-east-1")
	client := testEC2Instances()
	calls := useEC2(t, client)

	res := execute(t, NewAWSCommand(), "--report_only", "--output", "json", "--ec2_states", "running, stopped", "--prefix", "aws-")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, []string{"us-east-1||"}, *calls)

	doc := decodeReport(t, res.stdout)
	assert.True(t, doc.ReportOnly)
	assert.Equal(t, "aws", doc.Provider)
	require.Len(t, doc.Groups, 2)
	assert.Equal(t, "aws-role_web", doc.Groups[0].Name)
	assert.Equal(t, "aws-untagged-aws-us-east-1b", doc.Groups[1].Name)
	assert.Empty(t, doc.Results)

	require.Len(t, client.inputs, 1)
	assert.Equal(t, []string{"running", "stopped"}, client.inputs[0].Filters[0].Values)
}

func TestAWSPush(t *testing.T) {
	isolate(t)
	s := useSMC(t)
	useEC2(t, testEC2Instances())

	res := execute(t, NewAWSCommand(), "--region", "eu-west-1", "--comment", "synced from aws")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "smc results (2)")

	ips, ok := s.IPList("role_web")
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.1"}, ips)
	assert.Equal(t, "synced from aws", s.IPListComment("role_web"))
	assert.False(t, s.LoggedIn())

	// A second run against the same inventory changes nothing.
	s.ResetRequests()
	res = execute(t, NewAWSCommand(), "--region", "eu-west-1")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Empty(t, s.MutatingRequests())
}

func TestAWSInvalidFlags(t *testing.T) {
	cases := []struct {
		name     string
		args     []string
		expected string
	}{
		{name: "tag filters", args: []string{"--tag_filters", "env"}, expected: "invalid tag filter"},
		{name: "page size", args: []string{"--page_size", "2"}, expected: "page size must be between 5 and 1000, got 2"},
		{name: "output", args: []string{"--output", "yaml"}, expected: "unknown output format"},
		{name: "env file", args: []string{"--env_file", "missing.env"}, expected: "loading configuration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			calls := useEC2(t, testEC2Instances())

			res := execute(t, NewAWSCommand(), tc.args...)
			assert.Equal(t, 1, res.code)
			assert.Contains(t, res.stderr, tc.expected)
			assert.Contains(t, res.stderr, "sync failed")
			assert.Empty(t, *calls)
		})
	}
}

func TestUnknownFlag(t *testing.T) {
	res := execute(t, NewAWSCommand(), "--bogus")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "Error: unknown flag: --bogus")
}

func TestMissingSMCConfig(t *testing.T) {
	isolate(t)
	useEC2(t, testEC2Instances())

	res := execute(t, NewAWSCommand())
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "SMC_ADDRESS is required")
	assert.Contains(t, res.stderr, "SMC_API_KEY is required")
}

func TestEnvFile(t *testing.T) {
	isolate(t)
	s := smctest.NewSMCServer(t, testAPIKey)
	useEC2(t, testEC2Instances())

	envFile := filepath.Join(t.TempDir(), "sync.env")
	content := fmt.Sprintf("SMC_ADDRESS=%s\nSMC_API_KEY=%s\n", s.URL(), testAPIKey)
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("SMC_ADDRESS")
		os.Unsetenv("SMC_API_KEY")
	})
	// Exported values must not shadow the empty test environment.
	os.Unsetenv("SMC_ADDRESS")
	os.Unsetenv("SMC_API_KEY")

	res := execute(t, NewAWSCommand(), "--env_file", envFile)
	require.Equal(t, 0, res.code, res.stderr)
	_, ok := s.IPList("role_web")
	assert.True(t, ok)
}

func TestSMCLoginFailure(t *testing.T) {
	isolate(t)
	s := useSMC(t)
	t.Setenv("SMC_API_KEY", "wrong")
	useEC2(t, testEC2Instances())

	res := execute(t, NewAWSCommand())
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "opening smc session")
	assert.Empty(t, s.MutatingRequests())
}

type testVMs struct {
	vms []*armcompute.VirtualMachine
}

func (f *testVMs) NewListAllPager(*armcompute.VirtualMachinesClientListAllOptions) *runtime.Pager[armcompute.VirtualMachinesClientListAllResponse] {
	var done bool
	return runtime.NewPager(runtime.PagingHandler[armcompute.VirtualMachinesClientListAllResponse]{
		More: func(armcompute.VirtualMachinesClientListAllResponse) bool { return !done },
		Fetcher: func(context.Context, *armcompute.VirtualMachinesClientListAllResponse) (armcompute.VirtualMachinesClientListAllResponse, error) {
			done = true
			return armcompute.VirtualMachinesClientListAllResponse{
				VirtualMachineListResult: armcompute.VirtualMachineListResult{Value: f.vms},
			}, nil
		},
	})
}

func (f *testVMs) NewListPager(string, *armcompute.VirtualMachinesClientListOptions) *runtime.Pager[armcompute.VirtualMachinesClientListResponse] {
	return runtime.NewPager(runtime.PagingHandler[armcompute.VirtualMachinesClientListResponse]{
		More: func(armcompute.VirtualMachinesClientListResponse) bool { return false },
		Fetcher: func(context.Context, *armcompute.VirtualMachinesClientListResponse) (armcompute.VirtualMachinesClientListResponse, error) {
			return armcompute.VirtualMachinesClientListResponse{}, nil
		},
	})
}

type testGraph struct{}

func (testGraph) Resources(context.Context, armresourcegraph.QueryRequest, *armresourcegraph.ClientResourcesOptions) (armresourcegraph.ClientResourcesResponse, error) {
	var resp armresourcegraph.ClientResourcesResponse
	resp.Data = []any{map[string]any{"id": "/subscriptions/sub-1/resourcegroups/rg/providers/microsoft.network/networkinterfaces/web", "privateIPAddress": "10.2.0.4"}}
	return resp, nil
}

func TestAzureReportOnly(t *testing.T) {
	isolate(t)
	t.Setenv("AZURE_SUBSCRIPTION_ID", "sub-1")

	vm := &armcompute.VirtualMachine{
		ID:   to.Ptr("/subscriptions/sub-1/resourceGroups/rg/providers/Microsoft.Compute/virtualMachines/web"),
		Name: to.Ptr("web"),
		Tags: map[string]*string{"tier": to.Ptr("frontend")},
		Properties: &armcompute.VirtualMachineProperties{
			NetworkProfile: &armcompute.NetworkProfile{NetworkInterfaces: []*armcompute.NetworkInterfaceReference{
				{ID: to.Ptr("/subscriptions/sub-1/resourceGroups/rg/providers/Microsoft.Network/networkInterfaces/web")},
			}},
		},
	}
	var subscriptions []string
	old := newAzureClients
	newAzureClients = func() (*azure.Clients, error) {
		return &azure.Clients{
			VirtualMachines: func(sub string) (azure.VirtualMachinesAPI, error) {
				subscriptions = append(subscriptions, sub)
				return &testVMs{vms: []*armcompute.VirtualMachine{vm}}, nil
			},
			ResourceGraph: testGraph{},
		}, nil
	}
	t.Cleanup(func() { newAzureClients = old })

	res := execute(t, NewAzureCommand(), "--report_only", "--output", "json")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, []string{"sub-1"}, subscriptions)

	doc := decodeReport(t, res.stdout)
	assert.Equal(t, "azure", doc.Provider)
	require.Len(t, doc.Groups, 1)
	assert.Equal(t, "tier_frontend", doc.Groups[0].Name)
	assert.Equal(t, []string{"10.2.0.4"}, doc.Groups[0].Addresses)
}

func TestAzureCredentialError(t *testing.T) {
	isolate(t)
	old := newAzureClients
	newAzureClients = func() (*azure.Clients, error) {
		return nil, errors.New("creating azure credential: missing environment variable AZURE_TENANT_ID")
	}
	t.Cleanup(func() { newAzureClients = old })

	res := execute(t, NewAzureCommand(), "--report_only")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "missing environment variable AZURE_TENANT_ID")
}

func useGCP(t *testing.T, body string) (*[]*credential.Config, *int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	var configs []*credential.Config
	oldClient := newInstancesClient
	newInstancesClient = func(ctx context.Context, cfg *credential.Config) (gcp.InstancesAPI, func() error, error) {
		configs = append(configs, cfg)
		client, err := compute.NewInstancesRESTClient(ctx, option.WithEndpoint(srv.URL), option.WithoutAuthentication())
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}

	var checks int
	oldCheck := checkPermissions
	checkPermissions = func(context.Context, *credential.Config) ([]string, error) {
		checks++
		return []string{credential.ComputeInstancesListPermission}, nil
	}
	t.Cleanup(func() {
		newInstancesClient = oldClient
		checkPermissions = oldCheck
	})
	return &configs, &checks
}

const testAggregatedInstances = `{
  "items": {
    "zones/us-central1-a": {
      "instances": [
        {
          "id": "1001",
          "name": "web-1",
          "zone": "https://www.googleapis.com/compute/v1/projects/test-project/zones/us-central1-a",
          "labels": {"env": "prod", "pci": ""},
          "networkInterfaces": [
            {
              "network": "https://www.googleapis.com/compute/v1/projects/test-project/global/networks/default",
              "networkIP": "10.128.0.2",
              "accessConfigs": [{"natIP": "34.1.2.3"}]
            }
          ]
        }
      ]
    }
  }
}`

func TestGCPReportOnly(t *testing.T) {
	isolate(t)
	configs, checks := useGCP(t, testAggregatedInstances)

	res := execute(t, NewGCPCommand(), "--report_only", "--output", "json", "--project_id", "test-project", "--impersonate", "sync@test-project.iam.gserviceaccount.com", "--check_permissions")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, 1, *checks)
	assert.Contains(t, res.stderr, "permissions verified")
	assert.Contains(t, res.stderr, credential.ComputeInstancesListPermission)

	require.Len(t, *configs, 1)
	cfg := (*configs)[0]
	assert.Equal(t, "test-project", cfg.ProjectId)
	assert.Equal(t, "sync@test-project.iam.gserviceaccount.com", cfg.TargetServiceAccountId)

	doc := decodeReport(t, res.stdout)
	require.Len(t, doc.Groups, 2)
	assert.Equal(t, "env_prod", doc.Groups[0].Name)
	assert.Equal(t, []string{"10.128.0.2"}, doc.Groups[0].Addresses)
	assert.Equal(t, "pci", doc.Groups[1].Name)
}

func TestGCPIncludeExternal(t *testing.T) {
	isolate(t)
	t.Setenv("GCP_PROJECT_ID", "test-project")
	configs, checks := useGCP(t, testAggregatedInstances)

	res := execute(t, NewGCPCommand(), "--report_only", "--output", "json", "--include_external")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Zero(t, *checks)
	assert.Equal(t, "test-project", (*configs)[0].ProjectId)

	doc := decodeReport(t, res.stdout)
	assert.Equal(t, []string{"10.128.0.2", "34.1.2.3"}, doc.Groups[0].Addresses)
}

func TestGCPCredentialsFromEnvironment(t *testing.T) {
	isolate(t)
	key := filepath.Join(t.TempDir(), "sync-key.json")
	require.NoError(t, os.WriteFile(key, []byte(`{
  "type": "service_account",
  "project_id": "key-project",
  "private_key_id": "key-id",
  "private_key": "key",
  "client_email": "sync@key-project.iam.gserviceaccount.com"
}`), 0o600))
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", key)
	configs, _ := useGCP(t, testAggregatedInstances)

	res := execute(t, NewGCPCommand(), "--report_only", "--output", "json")
	require.Equal(t, 0, res.code, res.stderr)
	require.Len(t, *configs, 1)
	assert.Equal(t, "key-project", (*configs)[0].ProjectId)
	assert.Equal(t, "sync@key-project.iam.gserviceaccount.com", (*configs)[0].ClientEmail)

	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", filepath.Join(t.TempDir(), "gone.json"))
	res = execute(t, NewGCPCommand(), "--report_only")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "gone.json")
}

func TestGCPCredentialsFile(t *testing.T) {
	isolate(t)
	assert.Empty(t, gcpCredentialsFile("", ""))
	assert.Equal(t, "env.json", gcpCredentialsFile("", "env.json"))
	assert.Equal(t, "flag.json", gcpCredentialsFile("flag.json", "env.json"))

	require.NoError(t, os.WriteFile(credential.DefaultCredentialsFile, []byte(`{}`), 0o600))
	assert.Equal(t, credential.DefaultCredentialsFile, gcpCredentialsFile("", ""))
	assert.Equal(t, "env.json", gcpCredentialsFile("", "env.json"))
}

func TestGCPCloseErrorLogged(t *testing.T) {
	isolate(t)
	useGCP(t, testAggregatedInstances)
	base := newInstancesClient
	newInstancesClient = func(ctx context.Context, cfg *credential.Config) (gcp.InstancesAPI, func() error, error) {
		client, closeFn, err := base(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, func() error {
			_ = closeFn()
			return errors.New("connection reset")
		}, nil
	}

	res := execute(t, NewGCPCommand(), "--report_only", "--debug", "--project_id", "test-project")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stderr, "closing instances client")
	assert.Contains(t, res.stderr, "connection reset")
}

func TestGCPErrors(t *testing.T) {
	cases := []struct {
		name     string
		args     []string
		expected string
	}{
		{name: "missing project", args: nil, expected: "project id is required"},
		{name: "bad filter", args: []string{"--project_id", "p", "--filter", "status"}, expected: "invalid filter"},
		{name: "missing credentials file", args: []string{"--project_id", "p", "--credentials_file", "missing.json"}, expected: "missing.json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			useGCP(t, testAggregatedInstances)

			res := execute(t, NewGCPCommand(), append([]string{"--report_only"}, tc.args...)...)
			assert.Equal(t, 1, res.code)
			assert.Contains(t, res.stderr, tc.expected)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a,,b ,"))
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Empty(t, firstNonEmpty())
}
