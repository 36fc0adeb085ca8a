package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/escobar-tracker/internal/model"
)

func TestMessageKeyedByMember(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := model.LedgerEvent{
		Type:       model.EventRequestApproved,
		MemberID:   "m1",
		OfficerID:  "o1",
		RequestID:  "r1",
		Delta:      -30,
		Balance:    20,
		OccurredAt: at,
	}

	msg, err := message(e)
	require.NoError(t, err)

	assert.Equal(t, []byte("m1"), msg.Key)
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "request.approved", string(msg.Headers[0].Value))

	var decoded model.LedgerEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, e, decoded)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, splitBrokers(""))
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), model.LedgerEvent{}))
	assert.NoError(t, p.Close())
}

func TestKafkaPublisherIsAsync(t *testing.T) {
	p := NewKafkaPublisher("localhost:9092", "escobar.ledger", nil)
	t.Cleanup(func() { _ = p.Close() })
	assert.True(t, p.writer.Async)
	assert.NotNil(t, p.writer.Completion)
}

func TestDeliveryFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := NewKafkaPublisher("localhost:9092", "escobar.ledger", zap.New(core))
	t.Cleanup(func() { _ = p.Close() })

	msg, err := message(model.LedgerEvent{Type: model.EventBalanceAdjusted, MemberID: "m1"})
	require.NoError(t, err)

	p.complete([]kafka.Message{msg}, nil)
	assert.Zero(t, logs.Len())

	p.complete([]kafka.Message{msg}, errors.New("broker down"))
	entries := logs.FilterMessage("ledger event delivery failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "m1", fields["memberID"])
	assert.Equal(t, "balance.adjusted", fields["type"])
}
