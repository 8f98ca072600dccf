// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package smc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotLoggedIn is returned by element operations before Login succeeded.
var ErrNotLoggedIn = errors.New("smc: not logged in")

// Error is a non-2xx response from the SMC API.
type Error struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("smc: %s %s: %s", e.Method, e.URL, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("smc: %s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// IsStatus reports whether err is an *Error with the given status code.
func IsStatus(err error, code int) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == code
}

type errorResponse struct {
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func newError(resp *http.Response, body []byte) *Error {
	e := &Error{
		StatusCode: resp.StatusCode,
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.Redacted(),
	}
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		e.Message = payload.Message
		if len(payload.Details) > 0 {
			e.Message += ": " + strings.Join(payload.Details, "; ")
		}
		return e
	}
	e.Message = strings.TrimSpace(string(body))
	return e
}
