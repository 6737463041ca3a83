package eventbus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cifuzz/internal/eventstore"
)

type recordingPublisher struct {
	subjects []string
	messages [][]byte
	err      error
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	if r.err != nil {
		return r.err
	}
	r.subjects = append(r.subjects, subject)
	r.messages = append(r.messages, data)
	return nil
}

func TestPublish_SubjectAndEnvelope(t *testing.T) {
	rec := &recordingPublisher{}
	bus := &Bus{pub: rec, subject: "cifuzz.events"}

	ev, err := eventstore.NewSessionStarted("s-1", eventstore.SessionStarted{Backend: "AFL", Workers: 3})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(t.Context(), ev))

	require.Equal(t, []string{"cifuzz.events.session_started"}, rec.subjects)
	var msg Message
	require.NoError(t, json.Unmarshal(rec.messages[0], &msg))
	require.Equal(t, "s-1", msg.SessionID)
	require.Equal(t, eventstore.TypeSessionStarted, msg.Type)

	var payload eventstore.SessionStarted
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	require.Equal(t, 3, payload.Workers)
}

func TestPublish_PropagatesErrors(t *testing.T) {
	bus := &Bus{pub: &recordingPublisher{err: errors.New("connection closed")}, subject: "x"}
	ev, err := eventstore.NewDaemonStopped("signal", nil)
	require.NoError(t, err)
	require.Error(t, bus.Publish(t.Context(), ev))
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", "cifuzz.events")
	require.Error(t, err)
}

func TestClose_WithoutConnection(t *testing.T) {
	require.NoError(t, (&Bus{}).Close())
}
