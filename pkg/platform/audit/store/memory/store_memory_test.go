package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "provenance/pkg/platform/audit"
)

func TestInMemoryStore_ListIsolatesCallers(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, audit.Event{Action: "a", SerialNumber: "SN1"}))

	events, err := s.ListBySerial(ctx, "SN1")
	require.NoError(t, err)
	events[0].Action = "mutated"

	again, err := s.ListBySerial(ctx, "SN1")
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Action)
	assert.Equal(t, 1, s.Len())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	events, err = s.ListBySerial(ctx, "SN1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestInMemoryStore_KeepsAppendOrderPerSerial(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for _, e := range []audit.Event{
		{Action: string(audit.EventProductRegistered), SerialNumber: "SN1"},
		{Action: string(audit.EventProductRegistered), SerialNumber: "SN2"},
		{Action: string(audit.EventCustodyTransferred), SerialNumber: "SN1"},
		{Action: string(audit.EventIdentifierVerified), SerialNumber: ""},
	} {
		require.NoError(t, s.Append(ctx, e))
	}

	events, err := s.ListBySerial(ctx, "SN1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, string(audit.EventProductRegistered), events[0].Action)
	assert.Equal(t, string(audit.EventCustodyTransferred), events[1].Action)

	unknown, err := s.ListBySerial(ctx, "")
	require.NoError(t, err)
	assert.Len(t, unknown, 1, "verifications of unknown identifiers are kept under the empty serial")
	assert.Equal(t, 4, s.Len())
}

func TestInMemoryStore_RejectsDuplicateIDs(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, s.Append(ctx, audit.Event{ID: id, Action: "a", SerialNumber: "SN1"}))
	err := s.Append(ctx, audit.Event{ID: id, Action: "a", SerialNumber: "SN1"})
	require.Error(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestInMemoryStore_ConcurrentAppends(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Append(ctx, audit.Event{ID: uuid.New(), Action: "a", SerialNumber: "SN1"})
		}()
	}
	wg.Wait()

	events, err := s.ListBySerial(ctx, "SN1")
	require.NoError(t, err)
	assert.Len(t, events, 50)
}
