// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package gcp

import (
	"fmt"
	"regexp"
	"strings"
)

var filterRe = regexp.MustCompile(`(?i)([^=><!:\s]+)\s*(=|!=|>|<|<=|>=|:|eq|ne)\s*([^,]+)`)

// buildFilters validates the list filters and appends a status filter when
// status is set and no filter already targets the status field.
func buildFilters(in []string, status string) ([]string, error) {
	var filters []string
	var foundStateFilter bool
	for _, filterAttr := range in {
		key, _, value, valid := extractFilterValue(filterAttr)
		switch {
		case !valid:
			return nil, fmt.Errorf("invalid filter %q. Ensure the operator is one of =, !=, >, <, <=, >=, :, eq, ne", filterAttr)
		case len(strings.TrimSpace(key)) == 0:
			return nil, fmt.Errorf("filter %q contains an empty filter key", filterAttr)
		case len(strings.TrimSpace(value)) == 0:
			return nil, fmt.Errorf("filter %q contains an empty value", filterAttr)
		}

		if strings.EqualFold(key, "status") {
			foundStateFilter = true
		}
		filters = append(filters, filterAttr)
	}

	if status = strings.TrimSpace(status); status != "" && !foundStateFilter {
		filters = append(filters, "status = "+strings.ToUpper(status))
	}

	return filters, nil
}

// extractFilterValue splits a "key operator value" filter. The operator is
// one of =, !=, >, <, <=, >=, :, eq, ne as per GCP API documentation:
// https://cloud.google.com/compute/docs/reference/rest/v1/instances/list#filter
func extractFilterValue(s string) (string, string, string, bool) {
	matches := filterRe.FindStringSubmatch(s)
	if len(matches) == 4 {
		return matches[1], matches[2], matches[3], true
	}
	return "", "", "", false
}
