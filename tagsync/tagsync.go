// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package tagsync runs one synchronization pass: collect the inventory of a
// cloud provider, group it into IP lists and push them to the SMC.
package tagsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/smc-tag-sync/internal/report"
	"github.com/hashicorp/smc-tag-sync/iplist"
	"github.com/hashicorp/smc-tag-sync/smc"
)

// Inventory is what a Collector found in the cloud.
type Inventory struct {
	Provider  string
	Networks  []iplist.Network
	Resources []iplist.Resource
}

// Collector enumerates the resources of one cloud provider.
type Collector interface {
	Collect(ctx context.Context) (*Inventory, error)
}

// SessionFunc opens an SMC session. The returned func closes it.
type SessionFunc func(ctx context.Context) (smc.IPListAPI, func(context.Context) error, error)

// Summary is the outcome of Run.
type Summary struct {
	Groups  []iplist.Group
	Results []smc.Result
}

// Count returns how many results ended with action.
func (s *Summary) Count(action smc.Action) int {
	var n int
	for _, r := range s.Results {
		if r.Action == action {
			n++
		}
	}
	return n
}

// Syncer wires a Collector to the SMC.
type Syncer struct {
	Collector Collector
	Grouper   iplist.Grouper
	Session   SessionFunc
	// ReportOnly prints the groups without opening an SMC session.
	ReportOnly bool
	// Report receives the final document. Nothing is printed when nil.
	Report *report.Printer
	Logger *slog.Logger
}

// Run performs a single pass. Lists are pushed in name order and the run
// stops at the first SMC error; the session is closed in every case.
func (s *Syncer) Run(ctx context.Context) (summary *Summary, retErr error) {
	if s.Collector == nil {
		return nil, errors.New("collector is required")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	inv, err := s.Collector.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting inventory: %w", err)
	}
	logger.Info("collected inventory", "provider", inv.Provider, "resources", len(inv.Resources), "networks", len(inv.Networks))

	summary = &Summary{Groups: s.Grouper.Build(inv.Resources)}
	logger.Info("built ip lists", "lists", len(summary.Groups))

	doc := &report.Document{
		Provider:   inv.Provider,
		ReportOnly: s.ReportOnly,
		Networks:   inv.Networks,
		Resources:  inv.Resources,
		Groups:     summary.Groups,
	}

	if s.ReportOnly {
		return summary, s.print(doc)
	}
	if s.Session == nil {
		return nil, errors.New("smc session is required unless running report only")
	}
	if len(summary.Groups) == 0 {
		logger.Warn("no ip lists to push")
		return summary, s.print(doc)
	}

	api, closeFn, err := s.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening smc session: %w", err)
	}
	defer func() {
		if closeFn == nil {
			return
		}
		if err := closeFn(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("closing smc session", "error", err)
			if retErr == nil {
				retErr = fmt.Errorf("closing smc session: %w", err)
			}
		}
	}()

	for _, g := range summary.Groups {
		res, err := api.UpdateOrCreateIPList(ctx, g.Name, g.Addresses)
		if err != nil {
			return summary, fmt.Errorf("updating ip list %q: %w", g.Name, err)
		}
		summary.Results = append(summary.Results, *res)
		logger.Info("ip list synced", "name", res.Name, "action", res.Action, "added", len(res.Added), "removed", len(res.Removed))
	}

	logger.Info("sync complete",
		"created", summary.Count(smc.ActionCreated),
		"updated", summary.Count(smc.ActionUpdated),
		"unchanged", summary.Count(smc.ActionUnchanged))

	doc.Results = summary.Results
	return summary, s.print(doc)
}

func (s *Syncer) print(doc *report.Document) error {
	if s.Report == nil {
		return nil
	}
	if err := s.Report.Print(doc); err != nil {
		return fmt.Errorf("printing report: %w", err)
	}
	return nil
}
