// Package coretest provides a recording core.Executor for planning tests.
package coretest

import (
	"context"
	"strings"
	"sync"

	"github.com/gigapi/gigapi-geoanalytics/core"
)

// Statement is one recorded call
type Statement struct {
	SQL  string
	Args []any
}

type response struct {
	match string
	rows  []map[string]interface{}
	err   error
}

// Recorder records statements and answers queries from scripted responses.
// The first response whose match string is contained in the statement wins;
// unmatched queries return no rows.
type Recorder struct {
	mu         sync.Mutex
	Statements []Statement
	responses  []response
}

var _ core.Executor = (*Recorder)(nil)

func New() *Recorder {
	return &Recorder{}
}

// On scripts rows for statements containing match
func (r *Recorder) On(match string, rows ...map[string]interface{}) *Recorder {
	r.responses = append(r.responses, response{match: match, rows: rows})
	return r
}

// Fail scripts an error for statements containing match
func (r *Recorder) Fail(match string, err error) *Recorder {
	r.responses = append(r.responses, response{match: match, err: err})
	return r
}

func (r *Recorder) lookup(query string) response {
	for _, resp := range r.responses {
		if strings.Contains(query, resp.match) {
			return resp
		}
	}
	return response{}
}

func (r *Recorder) record(query string, args []any) response {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Statements = append(r.Statements, Statement{SQL: query, Args: args})
	return r.lookup(query)
}

func (r *Recorder) Exec(_ context.Context, query string, args ...any) error {
	resp := r.record(query, args)
	if resp.err != nil {
		return &core.ExecutionError{Statement: query, Err: resp.err}
	}
	return nil
}

func (r *Recorder) Query(_ context.Context, query string, args ...any) ([]map[string]interface{}, error) {
	resp := r.record(query, args)
	if resp.err != nil {
		return nil, &core.ExecutionError{Statement: query, Err: resp.err}
	}
	return resp.rows, nil
}

// Find returns the first recorded statement containing substr
func (r *Recorder) Find(substr string) (Statement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.Statements {
		if strings.Contains(s.SQL, substr) {
			return s, true
		}
	}
	return Statement{}, false
}

// SQL returns every recorded statement text
func (r *Recorder) SQL() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Statements))
	for i, s := range r.Statements {
		out[i] = s.SQL
	}
	return out
}
