// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import "github.com/hashicorp/smc-tag-sync/internal/cli"

func main() {
	cli.Execute(cli.NewGCPCommand())
}
