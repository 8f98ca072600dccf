// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
)

const (
	testSessionCookie = "JSESSIONID"
	testSessionValue  = "fake-smc-session"
)

// SMCRequest is a request recorded by SMCServer.
type SMCRequest struct {
	Method string
	Path   string
	Query  string
}

// SMCServer is an in-memory SMC REST API serving version discovery,
// login/logout and ip_list elements.
type SMCServer struct {
	// APIKey is the only authentication key accepted at login.
	APIKey string
	// Versions are the advertised API versions.
	Versions []string

	server *httptest.Server

	mu       sync.Mutex
	lists    map[string]*testIPList
	nextID   int
	requests []SMCRequest
	failures map[string]testFailure
	loggedIn bool
}

type testIPList struct {
	id      string
	name    string
	comment string
	ips     []string
	etag    int
}

type testFailure struct {
	status  int
	message string
}

// NewSMCServer starts a fake SMC that is closed when the test ends.
func NewSMCServer(t testing.TB, apiKey string) *SMCServer {
	t.Helper()
	s := &SMCServer{
		APIKey:   apiKey,
		Versions: []string{"6.8", "6.10", "7.0"},
		lists:    make(map[string]*testIPList),
		failures: make(map[string]testFailure),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

// URL is the base address of the server.
func (s *SMCServer) URL() string {
	return s.server.URL
}

// AddIPList seeds an existing list.
func (s *SMCServer) AddIPList(name string, ips ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addList(name, "", ips)
}

// IPList returns the members of the named list.
func (s *SMCServer) IPList(name string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lists {
		if l.name == name {
			return slices.Clone(l.ips), true
		}
	}
	return nil, false
}

// IPListComment returns the comment stored on the named list.
func (s *SMCServer) IPListComment(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lists {
		if l.name == name {
			return l.comment
		}
	}
	return ""
}

// Fail makes every request with method to a path ending in suffix answer
// with status and an SMC error message.
func (s *SMCServer) Fail(method, suffix string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+suffix] = testFailure{status: status, message: message}
}

// Requests returns every request received so far.
func (s *SMCServer) Requests() []SMCRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// MutatingRequests returns the POST, PUT and DELETE requests that change
// elements, leaving out login and logout.
func (s *SMCServer) MutatingRequests() []SMCRequest {
	var out []SMCRequest
	for _, r := range s.Requests() {
		if r.Method == http.MethodGet || strings.HasSuffix(r.Path, "/login") || strings.HasSuffix(r.Path, "/logout") {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ResetRequests forgets the recorded requests.
func (s *SMCServer) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// LoggedIn reports whether a session is open.
func (s *SMCServer) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *SMCServer) addList(name, comment string, ips []string) *testIPList {
	s.nextID++
	l := &testIPList{
		id:      fmt.Sprintf("%d", s.nextID),
		name:    name,
		comment: comment,
		ips:     slices.Clone(ips),
		etag:    1,
	}
	s.lists[l.id] = l
	return l
}

func (s *SMCServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, SMCRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})

	for key, f := range s.failures {
		method, suffix, _ := strings.Cut(key, " ")
		if r.Method == method && strings.HasSuffix(r.URL.Path, suffix) {
			writeError(w, f.status, f.message)
			return
		}
	}

	if r.URL.Path == "/api" && r.Method == http.MethodGet {
		var versions []map[string]string
		for _, v := range s.Versions {
			versions = append(versions, map[string]string{"rel": v, "href": s.server.URL + "/" + v + "/api"})
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": versions})
		return
	}

	version, rest, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if !ok || !slices.Contains(s.Versions, version) {
		writeError(w, http.StatusNotFound, "unknown path "+r.URL.Path)
		return
	}
	base := s.server.URL + "/" + version

	switch {
	case rest == "api" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"entry_point": []map[string]string{
			{"rel": "login", "href": base + "/login"},
			{"rel": "logout", "href": base + "/logout"},
			{"rel": "elements", "href": base + "/elements"},
			{"rel": "ip_list", "href": base + "/elements/ip_list"},
		}})
		return
	case rest == "login" && r.Method == http.MethodPost:
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["authenticationkey"] != s.APIKey {
			writeError(w, http.StatusUnauthorized, "Login failed")
			return
		}
		s.loggedIn = true
		http.SetCookie(w, &http.Cookie{Name: testSessionCookie, Value: testSessionValue, Path: "/"})
		w.WriteHeader(http.StatusOK)
		return
	}

	if c, err := r.Cookie(testSessionCookie); err != nil || c.Value != testSessionValue || !s.loggedIn {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}

	switch {
	case rest == "logout" && r.Method == http.MethodPut:
		s.loggedIn = false
		w.WriteHeader(http.StatusNoContent)
	case rest == "elements/ip_list" && r.Method == http.MethodGet:
		filter := r.URL.Query().Get("filter")
		exact := r.URL.Query().Get("exact_match") == "true"
		result := []map[string]string{}
		for _, id := range sortedKeys(s.lists) {
			l := s.lists[id]
			if (exact && l.name != filter) || !strings.Contains(l.name, filter) {
				continue
			}
			result = append(result, map[string]string{"name": l.name, "href": base + "/elements/ip_list/" + l.id, "type": "ip_list"})
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": result})
	case rest == "elements/ip_list" && r.Method == http.MethodPost:
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["name"] == "" {
			writeError(w, http.StatusBadRequest, "Invalid element")
			return
		}
		for _, l := range s.lists {
			if l.name == body["name"] {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("Element name %s is already used", l.name))
				return
			}
		}
		l := s.addList(body["name"], body["comment"], nil)
		w.Header().Set("Location", base+"/elements/ip_list/"+l.id)
		w.WriteHeader(http.StatusCreated)
	case strings.HasPrefix(rest, "elements/ip_list/") && strings.HasSuffix(rest, "/ip_address_list"):
		id := strings.TrimSuffix(strings.TrimPrefix(rest, "elements/ip_list/"), "/ip_address_list")
		l, ok := s.lists[id]
		if !ok {
			writeError(w, http.StatusNotFound, "Element not found")
			return
		}
		etag := fmt.Sprintf("%q", fmt.Sprintf("%s-%d", l.id, l.etag))
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("ETag", etag)
			writeJSON(w, http.StatusOK, map[string]any{"ip": nonNil(l.ips)})
		case http.MethodPost:
			match := r.Header.Get("If-Match")
			if match != "" && match != etag {
				writeError(w, http.StatusPreconditionFailed, "Element has been modified")
				return
			}
			var body struct {
				IP []string `json:"ip"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid ip address list")
				return
			}
			l.ips = body.IP
			l.etag++
			writeJSON(w, http.StatusOK, map[string]any{"ip": nonNil(l.ips)})
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	default:
		writeError(w, http.StatusNotFound, "unknown path "+r.URL.Path)
	}
}

func sortedKeys(m map[string]*testIPList) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": message, "details": []string{}})
}
