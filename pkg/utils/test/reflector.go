package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/reverie/pkg/reflector"
)

// ErrMockReflection is returned by MockReflector for scripted failures.
var ErrMockReflection = errors.New("mock reflection failure")

// MockReflector records calls and returns scripted responses.
type MockReflector struct {
	mu sync.Mutex

	// Requests accumulates every call.
	Requests []reflector.Request

	// Response is returned for every successful call unless Respond is set.
	Response string

	// Respond, when set, computes the response from the request.
	Respond func(req reflector.Request) (string, error)

	// FailTimes makes the first FailTimes calls fail.
	FailTimes int

	// AlwaysFail makes every call fail.
	AlwaysFail bool
}

// NewMockReflector returns a reflector answering with response.
func NewMockReflector(response string) *MockReflector {
	return &MockReflector{Response: response}
}

func (m *MockReflector) Reflect(_ context.Context, req reflector.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if m.AlwaysFail || len(m.Requests) <= m.FailTimes {
		return "", ErrMockReflection
	}
	if m.Respond != nil {
		return m.Respond(req)
	}
	return m.Response, nil
}

// Calls returns the number of calls so far.
func (m *MockReflector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request.
func (m *MockReflector) LastRequest() reflector.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return reflector.Request{}
	}
	return m.Requests[len(m.Requests)-1]
}

var _ reflector.Reflector = (*MockReflector)(nil)
