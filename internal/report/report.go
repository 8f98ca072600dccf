// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package report renders the outcome of a sync run for humans or machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/hashicorp/smc-tag-sync/iplist"
	"github.com/hashicorp/smc-tag-sync/smc"
)

// Format selects how a Document is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q, expected text or json", s)
	}
}

// Document is everything a run knows at the end.
type Document struct {
	Provider   string            `json:"provider"`
	ReportOnly bool              `json:"report_only"`
	Networks   []iplist.Network  `json:"networks,omitempty"`
	Resources  []iplist.Resource `json:"resources"`
	Groups     []iplist.Group    `json:"groups"`
	Results    []smc.Result      `json:"results,omitempty"`
}

// Printer writes Documents to an output stream.
type Printer struct {
	out    io.Writer
	format Format

	section   *color.Color
	info      *color.Color
	created   *color.Color
	updated   *color.Color
	unchanged *color.Color
}

// NewPrinter returns a Printer. With noColor the text output carries no
// escape sequences.
func NewPrinter(out io.Writer, format Format, noColor bool) *Printer {
	p := &Printer{
		out:       out,
		format:    format,
		section:   color.New(color.FgHiMagenta, color.Bold),
		info:      color.New(color.FgCyan),
		created:   color.New(color.FgGreen),
		updated:   color.New(color.FgYellow),
		unchanged: color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{p.section, p.info, p.created, p.updated, p.unchanged} {
			c.DisableColor()
		}
	}
	return p
}

// Print renders doc in the configured format.
func (p *Printer) Print(doc *Document) error {
	if p.format == FormatJSON {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	return p.printText(doc)
}

func (p *Printer) printText(doc *Document) error {
	w := &errWriter{w: p.out}

	if len(doc.Networks) > 0 {
		p.section.Fprintf(w, "%s networks (%d)\n", doc.Provider, len(doc.Networks))
		for _, n := range doc.Networks {
			fmt.Fprintf(w, "  %-24s %s\n", n.ID, n.Name)
		}
	}

	p.section.Fprintf(w, "%s resources (%d)\n", doc.Provider, len(doc.Resources))
	for _, r := range doc.Resources {
		fmt.Fprintf(w, "  %-24s %-24s %-16s %s\n", r.ID, r.Name, r.Location, strings.Join(r.Addresses, ","))
		if len(r.Tags) > 0 {
			p.info.Fprintf(w, "    %s\n", formatTags(r.Tags))
		}
	}

	p.section.Fprintf(w, "ip lists (%d)\n", len(doc.Groups))
	for _, g := range doc.Groups {
		fmt.Fprintf(w, "  %s (%d): %s\n", g.Name, len(g.Addresses), strings.Join(g.Addresses, ", "))
	}

	if doc.ReportOnly {
		p.info.Fprintf(w, "[*] report only, no changes were made to the SMC\n")
		return w.err
	}

	p.section.Fprintf(w, "smc results (%d)\n", len(doc.Results))
	for _, r := range doc.Results {
		switch r.Action {
		case smc.ActionCreated:
			p.created.Fprintf(w, "  [+] %-10s %s (+%d)\n", r.Action, r.Name, len(r.Added))
		case smc.ActionUpdated:
			p.updated.Fprintf(w, "  [~] %-10s %s (+%d -%d)\n", r.Action, r.Name, len(r.Added), len(r.Removed))
		default:
			p.unchanged.Fprintf(w, "  [=] %-10s %s\n", r.Action, r.Name)
		}
	}
	return w.err
}

func formatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+tags[k])
	}
	return strings.Join(pairs, " ")
}

// errWriter keeps the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(b []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(b)
	e.err = err
	return n, err
}
