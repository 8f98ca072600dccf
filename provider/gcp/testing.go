// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package gcp

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"cloud.google.com/go/compute/apiv1/computepb"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// testServer is a fake Compute Engine REST endpoint. List responses are
// served one page per request, chained with page tokens.
type testServer struct {
	server                  *httptest.Server
	listInstancesResponses  []*computepb.InstanceList
	aggregatedListResponses []*computepb.InstanceAggregatedList
	listInstancesError      error

	mu      sync.Mutex
	queries []url.Values
	paths   []string
}

func (s *testServer) start() *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.queries = append(s.queries, r.URL.Query())
		s.paths = append(s.paths, r.URL.Path)
		s.mu.Unlock()

		if !strings.Contains(r.URL.Path, "/compute/v1/projects") {
			http.Error(w, "unknown path: "+r.URL.Path, http.StatusNotFound)
			return
		}
		if s.listInstancesError != nil {
			http.Error(w, "error listing instances: "+s.listInstancesError.Error(), http.StatusBadRequest)
			return
		}

		page := 0
		if token := r.URL.Query().Get("pageToken"); token != "" {
			var err error
			if page, err = strconv.Atoi(token); err != nil {
				http.Error(w, "bad page token", http.StatusBadRequest)
				return
			}
		}
		next := ""

		var resp proto.Message
		if strings.Contains(r.URL.Path, "/aggregated/instances") {
			if page >= len(s.aggregatedListResponses) {
				resp = &computepb.InstanceAggregatedList{}
			} else {
				if page+1 < len(s.aggregatedListResponses) {
					next = strconv.Itoa(page + 1)
				}
				out := proto.Clone(s.aggregatedListResponses[page]).(*computepb.InstanceAggregatedList)
				out.NextPageToken = &next
				resp = out
			}
		} else {
			if page >= len(s.listInstancesResponses) {
				resp = &computepb.InstanceList{}
			} else {
				if page+1 < len(s.listInstancesResponses) {
					next = strconv.Itoa(page + 1)
				}
				out := proto.Clone(s.listInstancesResponses[page]).(*computepb.InstanceList)
				out.NextPageToken = &next
				resp = out
			}
		}

		b, err := protojson.Marshal(resp)
		if err != nil {
			http.Error(w, "unable to marshal request: "+err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(b); err != nil {
			http.Error(w, "unable to write response: "+err.Error(), http.StatusBadRequest)
			return
		}
	}))
	s.server = ts
	return ts
}

func (s *testServer) stop() {
	s.server.Close()
}

func pointer[T any](input T) *T {
	ret := input
	return &ret
}
