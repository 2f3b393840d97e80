package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalPayload(t *testing.T) {
	body, err := marshalPayload(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(body))

	body, err = marshalPayload(map[string]any{"name": "acme", "port": 5432})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"acme","port":5432}`, string(body))

	_, err = marshalPayload(map[string]any{"bad": make(chan int)})
	require.Error(t, err)
}

func TestDiscard(t *testing.T) {
	var s Sink = Discard{}
	assert.NoError(t, s.Record(context.Background(), Event{Action: ActionLogin}))
}
