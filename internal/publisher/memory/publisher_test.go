package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type taggedPayload struct {
	RunID string `json:"runId"`
}

func (p taggedPayload) Attributes() map[string]string {
	return map[string]string{"run": p.RunID}
}

func TestPublisherRecordsEncodedMessages(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	ctx := context.Background()

	id, err := pub.Publish(ctx, "audit-events", taggedPayload{RunID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, "audit-events-1", id)
	_, err = pub.Publish(ctx, "other", "plain")
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.JSONEq(t, `{"runId":"run-1"}`, string(msgs[0].Data))
	require.Equal(t, map[string]string{"run": "run-1"}, msgs[0].Attributes)
	require.Nil(t, msgs[1].Attributes)
	require.Equal(t, "other-2", msgs[1].ID)

	onTopic := pub.OnTopic("audit-events")
	require.Len(t, onTopic, 1)
	require.Equal(t, taggedPayload{RunID: "run-1"}, onTopic[0].Payload)
	require.Empty(t, pub.OnTopic("missing"))

	msgs[0].Topic = "modified"
	require.Equal(t, "audit-events", pub.Messages()[0].Topic)
}

func TestPublisherRejectsBadInput(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	_, err := pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "t", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
	require.Empty(t, pub.Messages())
}
