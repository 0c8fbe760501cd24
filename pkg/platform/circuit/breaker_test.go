package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type BreakerSuite struct {
	suite.Suite
	now time.Time
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerSuite))
}

func (s *BreakerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *BreakerSuite) newBreaker(opts ...Option) *Breaker {
	opts = append([]Option{WithClock(func() time.Time { return s.now })}, opts...)
	return New("outbox-relay", opts...)
}

func (s *BreakerSuite) TestNewBreakerIsClosed() {
	b := s.newBreaker()
	s.Equal("outbox-relay", b.Name())
	s.Equal(StateClosed, b.State())
	s.True(b.Allow())
}

func (s *BreakerSuite) TestOutcomeSequences() {
	const (
		fail = false
		ok   = true
	)
	cases := []struct {
		name     string
		failures int
		recovery int
		outcomes []bool
		wantOpen bool
	}{
		{name: "below failure threshold", failures: 3, outcomes: []bool{fail, fail}, wantOpen: false},
		{name: "at failure threshold", failures: 3, outcomes: []bool{fail, fail, fail}, wantOpen: true},
		{name: "success clears failure streak", failures: 3, outcomes: []bool{fail, fail, ok, fail, fail}, wantOpen: false},
		{name: "one success is not enough to close", failures: 1, recovery: 2, outcomes: []bool{fail, ok}, wantOpen: true},
		{name: "closes after recovery streak", failures: 1, recovery: 2, outcomes: []bool{fail, ok, ok}, wantOpen: false},
		{name: "failure while open restarts recovery", failures: 1, recovery: 3, outcomes: []bool{fail, ok, ok, fail, ok, ok}, wantOpen: true},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			b := s.newBreaker(WithFailureThreshold(tc.failures), WithSuccessThreshold(tc.recovery))
			for _, outcome := range tc.outcomes {
				if outcome {
					b.RecordSuccess()
				} else {
					b.RecordFailure()
				}
			}
			s.Equal(tc.wantOpen, b.IsOpen())
		})
	}
}

func (s *BreakerSuite) TestTransitionsAreReportedOnce() {
	b := s.newBreaker(WithFailureThreshold(2), WithSuccessThreshold(1))

	useFallback, change := b.RecordFailure()
	s.False(useFallback)
	s.False(change.Opened)

	useFallback, change = b.RecordFailure()
	s.True(useFallback)
	s.True(change.Opened)

	useFallback, change = b.RecordFailure()
	s.True(useFallback)
	s.False(change.Opened, "already open")

	usePrimary, change := b.RecordSuccess()
	s.True(usePrimary)
	s.True(change.Closed)

	usePrimary, change = b.RecordSuccess()
	s.True(usePrimary)
	s.False(change.Closed, "already closed")
}

func (s *BreakerSuite) TestCooldownGatesProbes() {
	b := s.newBreaker(WithFailureThreshold(1), WithCooldown(time.Minute))

	b.RecordFailure()
	s.False(b.Allow())

	s.now = s.now.Add(59 * time.Second)
	s.False(b.Allow())

	s.now = s.now.Add(time.Second)
	s.True(b.Allow())

	// a failed trial call restarts the cooldown
	b.RecordFailure()
	s.False(b.Allow())
}

func (s *BreakerSuite) TestReset() {
	b := s.newBreaker(WithFailureThreshold(1))
	b.RecordFailure()
	s.Require().True(b.IsOpen())

	b.Reset()
	s.Equal(StateClosed, b.State())
	s.True(b.Allow())
}
