package producer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestToRecord(t *testing.T) {
	rec := toRecord(Message{
		Topic:   "provenance.ledger.events",
		Key:     []byte("SN-1"),
		Value:   []byte(`{"action":"product_registered"}`),
		Headers: map[string]string{"event_type": "product_registered"},
	})

	assert.Equal(t, "provenance.ledger.events", rec.Topic)
	assert.Equal(t, []byte("SN-1"), rec.Key)
	require.Len(t, rec.Headers, 1)
	assert.Equal(t, "event_type", rec.Headers[0].Key)
	assert.Equal(t, []byte("product_registered"), rec.Headers[0].Value)
}
