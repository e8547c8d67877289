package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/reverie/pkg/jobqueue"
)

// ErrMockPublish is returned by FlakyPublisher for scripted failures.
var ErrMockPublish = errors.New("mock publish failure")

// FlakyPublisher records published jobs and can fail on demand.
type FlakyPublisher struct {
	mu   sync.Mutex
	jobs []*jobqueue.ReflectionJob

	// FailTimes makes the next FailTimes publishes fail.
	FailTimes int

	// AlwaysFail makes every publish fail.
	AlwaysFail bool

	attempts int
}

func NewFlakyPublisher() *FlakyPublisher {
	return &FlakyPublisher{}
}

func (p *FlakyPublisher) Publish(_ context.Context, job *jobqueue.ReflectionJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	if p.AlwaysFail {
		return ErrMockPublish
	}
	if p.FailTimes > 0 {
		p.FailTimes--
		return ErrMockPublish
	}
	p.jobs = append(p.jobs, job)
	return nil
}

// SetAlwaysFail toggles permanent failure.
func (p *FlakyPublisher) SetAlwaysFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AlwaysFail = fail
}

// Jobs returns the successfully published jobs.
func (p *FlakyPublisher) Jobs() []*jobqueue.ReflectionJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*jobqueue.ReflectionJob(nil), p.jobs...)
}

// Attempts returns the number of Publish calls.
func (p *FlakyPublisher) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *FlakyPublisher) Close() error {
	return nil
}

var _ jobqueue.Publisher = (*FlakyPublisher)(nil)
