package quality

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturingWriter records messages instead of talking to a broker.
type capturingWriter struct {
	messages []kafka.Message
	closed   bool
	err      error
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}

	w.messages = append(w.messages, msgs...)

	return nil
}

func (w *capturingWriter) Close() error {
	w.closed = true

	return nil
}

func TestKafkaPublisher(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	failure := Failure{
		RunDate:   "2024-06-15",
		CheckName: CheckOrdersVolume,
		Category:  CategoryVolume,
		Message:   "orders count 10 outside range [100, 500000]",
		Details:   map[string]any{"count": 10},
	}

	t.Run("requires at least one broker", func(t *testing.T) {
		_, err := NewKafkaPublisher(nil)
		require.ErrorIs(t, err, ErrNoBrokers)
	})

	t.Run("publishes keyed by run date with check headers", func(t *testing.T) {
		publisher, err := NewKafkaPublisher([]string{"localhost:9092"})
		require.NoError(t, err)

		writer := &capturingWriter{}
		publisher.writer = writer

		require.NoError(t, publisher.Publish(ctx, failure))
		require.Len(t, writer.messages, 1)

		msg := writer.messages[0]
		assert.Equal(t, []byte("2024-06-15"), msg.Key)

		var decoded Failure
		require.NoError(t, json.Unmarshal(msg.Value, &decoded))
		assert.Equal(t, failure.CheckName, decoded.CheckName)
		assert.Equal(t, failure.Message, decoded.Message)

		require.Len(t, msg.Headers, 2)
		assert.Equal(t, "check_name", msg.Headers[0].Key)
		assert.Equal(t, []byte(CheckOrdersVolume), msg.Headers[0].Value)
		assert.Equal(t, "category", msg.Headers[1].Key)
	})

	t.Run("write errors are wrapped", func(t *testing.T) {
		publisher, err := NewKafkaPublisher([]string{"localhost:9092"})
		require.NoError(t, err)

		publisher.writer = &capturingWriter{err: errors.New("broker unreachable")}

		err = publisher.Publish(ctx, failure)
		require.ErrorContains(t, err, "write quality failure to kafka")
	})

	t.Run("close reaches the writer", func(t *testing.T) {
		publisher, err := NewKafkaPublisher([]string{"localhost:9092"},
			WithFailureTopic("custom.topic"))
		require.NoError(t, err)

		writer := &capturingWriter{}
		publisher.writer = writer

		require.NoError(t, publisher.Close())
		assert.True(t, writer.closed)
	})
}
