// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package iplist turns tagged cloud resources into named IP lists.
//
// Every provider reduces its inventory to a slice of Resource values. A
// Grouper then maps each tag key/value pair to a list name and collects the
// addresses of every resource carrying that pair. The output is fully
// deterministic: the same resources always produce the same groups, in the
// same order, with the same address ordering.
package iplist

import (
	"net/netip"
	"slices"
	"sort"
	"strings"
)

// Resource is a compute resource discovered in a cloud provider.
type Resource struct {
	// ID is the provider's unique identifier for the resource.
	ID string `json:"id"`
	// Name is the display name, for AWS the value of the Name tag.
	Name string `json:"name,omitempty"`
	// Location is the availability zone (AWS), subscription (Azure) or
	// zone (GCP) the resource lives in.
	Location string `json:"location,omitempty"`
	// Network is the VPC (AWS) or network (GCP) the resource is attached
	// to. Azure reports the resource group of the virtual machine instead.
	Network   string            `json:"network,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Addresses []string          `json:"addresses"`
}

// Network is a VPC or virtual network seen while collecting resources.
type Network struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	CIDR string `json:"cidr,omitempty"`
}

// Group is one IP list to be pushed to the SMC.
type Group struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses"`
}

// Namer derives a list name from a tag key and value.
type Namer func(key, value string) string

// ListName joins key and value with an underscore. An empty value yields
// just the key.
func ListName(key, value string) string {
	if value == "" {
		return key
	}
	return key + "_" + value
}

// AWSListName always joins key and value with an underscore and replaces
// spaces in both with underscores.
func AWSListName(key, value string) string {
	return strings.ReplaceAll(key, " ", "_") + "_" + strings.ReplaceAll(value, " ", "_")
}

// Grouper builds IP list groups from resources.
type Grouper struct {
	// Name derives the list name for a tag. Defaults to ListName.
	Name Namer
	// Untagged returns the list name for a resource without tags. A nil
	// func or an empty name leaves the resource out of every group.
	Untagged func(Resource) string
	// Prefix is prepended to every list name.
	Prefix string
}

// Build groups the addresses of resources by tag. Groups are sorted by name
// and their addresses are de-duplicated and sorted. A group whose members
// hold no address is kept with an empty address list so that the SMC list
// is emptied too.
func (g Grouper) Build(resources []Resource) []Group {
	name := g.Name
	if name == nil {
		name = ListName
	}

	members := make(map[string][]string)
	for _, r := range resources {
		if len(r.Tags) == 0 {
			if g.Untagged == nil {
				continue
			}
			if n := g.Untagged(r); n != "" {
				members[g.Prefix+n] = append(members[g.Prefix+n], r.Addresses...)
			}
			continue
		}
		for k, v := range r.Tags {
			n := g.Prefix + name(k, v)
			members[n] = append(members[n], r.Addresses...)
		}
	}

	names := make([]string, 0, len(members))
	for n := range members {
		names = append(names, n)
	}
	sort.Strings(names)

	groups := make([]Group, 0, len(names))
	for _, n := range names {
		groups = append(groups, Group{Name: n, Addresses: Normalize(members[n])})
	}
	return groups
}

// Normalize returns a sorted copy of addrs without duplicates or blanks.
// Parseable addresses are written in canonical form and ordered numerically,
// IPv4 before IPv6. Anything else sorts lexically after them.
func Normalize(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	var ips []netip.Addr
	var other []string
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if ip, err := netip.ParseAddr(a); err == nil {
			a = ip.Unmap().String()
			if _, ok := seen[a]; !ok {
				ips = append(ips, ip.Unmap())
			}
		} else if _, ok := seen[a]; !ok {
			other = append(other, a)
		}
		seen[a] = struct{}{}
	}

	slices.SortFunc(ips, func(a, b netip.Addr) int { return a.Compare(b) })
	sort.Strings(other)

	out := make([]string, 0, len(ips)+len(other))
	for _, ip := range ips {
		out = append(out, ip.String())
	}
	return append(out, other...)
}

// SameAddresses reports whether a and b hold the same set of addresses,
// ignoring order and duplicates.
func SameAddresses(a, b []string) bool {
	return slices.Equal(Normalize(a), Normalize(b))
}

// Diff returns the addresses in want missing from have, and the addresses
// in have that are not in want.
func Diff(have, want []string) (added, removed []string) {
	h := Normalize(have)
	w := Normalize(want)
	for _, a := range w {
		if !slices.Contains(h, a) {
			added = append(added, a)
		}
	}
	for _, a := range h {
		if !slices.Contains(w, a) {
			removed = append(removed, a)
		}
	}
	return added, removed
}

// AppendDistinct appends the non-nil, non-empty elems that are not already
// in slice.
func AppendDistinct(slice []string, elems ...*string) []string {
	for _, e := range elems {
		if e == nil || *e == "" || slices.Contains(slice, *e) {
			continue
		}
		slice = append(slice, *e)
	}
	return slice
}
