// Package reflector provides the external reflection capability: given a
// prompt built from a transcript or from a set of summaries, it returns a
// free-text reflection produced by a language model.
package reflector

import (
	"context"
	"errors"
)

// ErrEmptyReflection is returned when a provider answers with no text.
var ErrEmptyReflection = errors.New("empty reflection")

// Request is one reflection call. ReflectorAgentID names the agent whose
// voice the reflection is written in; providers use it for attribution only.
type Request struct {
	ReflectorAgentID string
	Prompt           string
}

// Reflector produces reflections.
type Reflector interface {
	Reflect(ctx context.Context, req Request) (string, error)
}

// CallFunc sends a prompt to a model and returns its text response.
type CallFunc func(ctx context.Context, prompt string) (string, error)

// Func adapts a CallFunc to a Reflector.
type Func CallFunc

// Reflect calls f with the request prompt.
func (f Func) Reflect(ctx context.Context, req Request) (string, error) {
	out, err := f(ctx, req.Prompt)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", ErrEmptyReflection
	}
	return out, nil
}
