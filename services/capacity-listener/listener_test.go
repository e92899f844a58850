package listener

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
	"github.com/ramiqadoumi/delegate-rebroadcast/internal/kafka"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type fakeRegistrar struct {
	got []domain.CapacityRegistration
	err error
}

func (r *fakeRegistrar) RegisterCapacity(_ context.Context, accountID, delegateID string, c domain.Capacity) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, domain.CapacityRegistration{AccountID: accountID, DelegateID: delegateID, Capacity: c})
	return nil
}

// fakeConsumer replays msgs through the handler and records the results.
type fakeConsumer struct {
	msgs    []kafka.Message
	results []error
}

func (c *fakeConsumer) Subscribe(ctx context.Context, h kafka.HandlerFunc) error {
	for _, m := range c.msgs {
		c.results = append(c.results, h(ctx, m))
	}
	return nil
}
func (c *fakeConsumer) Close() error { return nil }

func encode(t *testing.T, reg domain.CapacityRegistration) kafka.Message {
	t.Helper()
	b, err := json.Marshal(reg)
	require.NoError(t, err)
	return kafka.Message{Topic: kafka.TopicCapacity, Key: []byte(reg.DelegateID), Value: b}
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// ── tests ─────────────────────────────────────────────────────────────────────

func TestListener_AppliesRegistrations(t *testing.T) {
	reg := domain.CapacityRegistration{AccountID: "acct", DelegateID: "d1", Capacity: domain.Capacity{TaskLimit: 4, MaxBuildSlots: 2}}
	consumer := &fakeConsumer{msgs: []kafka.Message{encode(t, reg)}}
	registrar := &fakeRegistrar{}

	require.NoError(t, NewListener(consumer, registrar, discardLogger).Run(context.Background()))

	assert.Equal(t, []error{nil}, consumer.results)
	assert.Equal(t, []domain.CapacityRegistration{reg}, registrar.got)
}

func TestListener_MalformedMessagesAreCommitted(t *testing.T) {
	consumer := &fakeConsumer{msgs: []kafka.Message{
		{Value: []byte("{not json")},
		encode(t, domain.CapacityRegistration{AccountID: "acct"}),
		encode(t, domain.CapacityRegistration{AccountID: "acct", DelegateID: "d1", Capacity: domain.Capacity{TaskLimit: -1}}),
	}}
	registrar := &fakeRegistrar{}

	require.NoError(t, NewListener(consumer, registrar, discardLogger).Run(context.Background()))

	require.Len(t, consumer.results, 3)
	for _, err := range consumer.results {
		assert.ErrorIs(t, err, kafka.ErrMalformed)
	}
	assert.Empty(t, registrar.got)
}

func TestListener_StoreErrorIsRetryable(t *testing.T) {
	consumer := &fakeConsumer{msgs: []kafka.Message{
		encode(t, domain.CapacityRegistration{AccountID: "acct", DelegateID: "d1", Capacity: domain.Capacity{TaskLimit: 1}}),
	}}
	registrar := &fakeRegistrar{err: errors.New("db down")}

	require.NoError(t, NewListener(consumer, registrar, discardLogger).Run(context.Background()))

	require.Len(t, consumer.results, 1)
	require.Error(t, consumer.results[0])
	assert.NotErrorIs(t, consumer.results[0], kafka.ErrMalformed)
}
