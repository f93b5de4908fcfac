package view

import (
	"context"
	"sync"
)

// RequestState carries interception results between the stages of one
// request. It replaces process-wide flags.
type RequestState struct {
	mu       sync.Mutex
	decision Decision
	decided  bool
}

type stateKey struct{}

// WithState attaches a fresh RequestState to ctx
func WithState(ctx context.Context) (context.Context, *RequestState) {
	st := &RequestState{}
	return context.WithValue(ctx, stateKey{}, st), st
}

// StateFrom returns the state attached by WithState, or nil
func StateFrom(ctx context.Context) *RequestState {
	st, _ := ctx.Value(stateKey{}).(*RequestState)
	return st
}

func (s *RequestState) record(d Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decision = d
	s.decided = true
}

// Decision returns the recorded decision
func (s *RequestState) Decision() (Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision, s.decided
}

// ServedByMove reports whether the page shown is another page that held
// the requested title at the target date
func (s *RequestState) ServedByMove() bool {
	d, _ := s.Decision()
	return d.ServedByMove
}
