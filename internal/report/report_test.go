// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hashicorp/smc-tag-sync/iplist"
	"github.com/hashicorp/smc-tag-sync/smc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDocument() *Document {
	return &Document{
		Provider: "aws",
		Networks: []iplist.Network{{ID: "vpc-1", Name: "prod"}},
		Resources: []iplist.Resource{
			{ID: "i-1", Name: "web-1", Location: "us-east-1a", Tags: map[string]string{"role": "web", "env": "prod"}, Addresses: []string{"10.0.0.1"}},
		},
		Groups: []iplist.Group{
			{Name: "env_prod", Addresses: []string{"10.0.0.1"}},
			{Name: "role_web", Addresses: []string{"10.0.0.1"}},
		},
		Results: []smc.Result{
			{Name: "env_prod", Action: smc.ActionCreated, Added: []string{"10.0.0.1"}},
			{Name: "role_web", Action: smc.ActionUpdated, Added: []string{"10.0.0.1"}, Removed: []string{"10.0.0.2"}},
			{Name: "db", Action: smc.ActionUnchanged},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("yaml")
	require.EqualError(t, err, `unknown output format "yaml", expected text or json`)
}

func TestPrintText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatText, true).Print(testDocument()))

	out := buf.String()
	assert.Contains(t, out, "aws networks (1)")
	assert.Contains(t, out, "aws resources (1)")
	assert.Contains(t, out, "env=prod role=web")
	assert.Contains(t, out, "ip lists (2)")
	assert.Contains(t, out, "env_prod (1): 10.0.0.1")
	assert.Contains(t, out, "[+] created    env_prod (+1)")
	assert.Contains(t, out, "[~] updated    role_web (+1 -1)")
	assert.Contains(t, out, "[=] unchanged  db")
	assert.NotContains(t, out, "\x1b[")
}

func TestPrintTextReportOnly(t *testing.T) {
	doc := testDocument()
	doc.ReportOnly = true
	doc.Results = nil

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatText, true).Print(doc))
	assert.Contains(t, buf.String(), "report only, no changes were made to the SMC")
	assert.NotContains(t, buf.String(), "smc results")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON, false).Print(testDocument()))

	var got Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, testDocument(), &got)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestPrintWriteError(t *testing.T) {
	err := NewPrinter(failingWriter{}, FormatText, true).Print(testDocument())
	require.EqualError(t, err, "closed pipe")
}
