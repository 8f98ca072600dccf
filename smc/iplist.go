// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package smc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/smc-tag-sync/iplist"
)

// Action is the outcome of UpdateOrCreateIPList.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Element is a reference to an SMC element.
type Element struct {
	Name string `json:"name"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// Result describes what UpdateOrCreateIPList did to one list.
type Result struct {
	Name    string   `json:"name"`
	Href    string   `json:"href"`
	Action  Action   `json:"action"`
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// IPListAPI is the subset of the client used to push IP lists.
type IPListAPI interface {
	UpdateOrCreateIPList(ctx context.Context, name string, addrs []string) (*Result, error)
}

var _ IPListAPI = (*Client)(nil)

type addressList struct {
	IP []string `json:"ip"`
}

// FindIPList returns the IP list with exactly the given name, or nil when
// there is none.
func (c *Client) FindIPList(ctx context.Context, name string) (*Element, error) {
	href, err := c.entryPoint(entryIPList)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("filter", name)
	query.Set("exact_match", "true")

	var resp struct {
		Result []Element `json:"result"`
	}
	if err := c.getJSON(ctx, href+"?"+query.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("searching ip list %q: %w", name, err)
	}
	for _, e := range resp.Result {
		if e.Name == name {
			if e.Type == "" {
				e.Type = entryIPList
			}
			return &e, nil
		}
	}
	return nil, nil
}

// CreateIPList creates an empty IP list and returns its reference.
func (c *Client) CreateIPList(ctx context.Context, name, comment string) (*Element, error) {
	href, err := c.entryPoint(entryIPList)
	if err != nil {
		return nil, err
	}
	payload := map[string]string{"name": name}
	if comment != "" {
		payload["comment"] = comment
	}
	resp, _, err := c.doJSON(ctx, http.MethodPost, href, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("creating ip list %q: %w", name, err)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("creating ip list %q: response has no location", name)
	}
	return &Element{Name: name, Href: location, Type: entryIPList}, nil
}

// IPListAddresses returns the members of the IP list at href together with
// the ETag of the member collection.
func (c *Client) IPListAddresses(ctx context.Context, href string) ([]string, string, error) {
	if c.entryPoints == nil {
		return nil, "", ErrNotLoggedIn
	}
	endpoint := strings.TrimRight(href, "/") + "/ip_address_list"
	resp, body, err := c.doJSON(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, "", fmt.Errorf("reading ip list %s: %w", href, err)
	}
	var list addressList
	if len(body) > 0 {
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, "", fmt.Errorf("decoding ip list %s: %w", href, err)
		}
	}
	return list.IP, resp.Header.Get("ETag"), nil
}

// ReplaceIPListAddresses overwrites the members of the IP list at href.
// When etag is not empty the update is conditional on it.
func (c *Client) ReplaceIPListAddresses(ctx context.Context, href string, addrs []string, etag string) error {
	if c.entryPoints == nil {
		return ErrNotLoggedIn
	}
	if addrs == nil {
		addrs = []string{}
	}
	var header http.Header
	if etag != "" {
		header = http.Header{"If-Match": []string{etag}}
	}
	endpoint := strings.TrimRight(href, "/") + "/ip_address_list"
	if _, _, err := c.doJSON(ctx, http.MethodPost, endpoint, addressList{IP: addrs}, header); err != nil {
		return fmt.Errorf("updating ip list %s: %w", href, err)
	}
	return nil
}

// UpdateOrCreateIPList makes the IP list called name hold exactly addrs.
// A missing list is created. An existing list holding the same set of
// addresses is left untouched.
func (c *Client) UpdateOrCreateIPList(ctx context.Context, name string, addrs []string) (*Result, error) {
	if name == "" {
		return nil, errors.New("ip list name is required")
	}
	want := iplist.Normalize(addrs)

	elem, err := c.FindIPList(ctx, name)
	if err != nil {
		return nil, err
	}

	if elem == nil {
		elem, err = c.CreateIPList(ctx, name, c.comment)
		if err != nil {
			return nil, err
		}
		if len(want) > 0 {
			if err := c.ReplaceIPListAddresses(ctx, elem.Href, want, ""); err != nil {
				return nil, err
			}
		}
		c.logger.Info("created ip list", "name", name, "addresses", len(want))
		return &Result{Name: name, Href: elem.Href, Action: ActionCreated, Added: want}, nil
	}

	current, etag, err := c.IPListAddresses(ctx, elem.Href)
	if err != nil {
		return nil, err
	}
	if iplist.SameAddresses(current, want) {
		c.logger.Debug("ip list unchanged", "name", name, "addresses", len(want))
		return &Result{Name: name, Href: elem.Href, Action: ActionUnchanged}, nil
	}

	added, removed := iplist.Diff(current, want)
	if err := c.ReplaceIPListAddresses(ctx, elem.Href, want, etag); err != nil {
		return nil, err
	}
	c.logger.Info("updated ip list", "name", name, "added", len(added), "removed", len(removed))
	return &Result{Name: name, Href: elem.Href, Action: ActionUpdated, Added: added, Removed: removed}, nil
}
