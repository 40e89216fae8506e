package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalleeReadyWireID(t *testing.T) {
	raw, err := json.Marshal(NewNotice(KindCalleeReady, ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"calCalleeReady"}`, string(raw))
}
