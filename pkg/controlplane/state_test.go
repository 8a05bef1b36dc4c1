package controlplane

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMarshalsOmittingEmptyLastError(t *testing.T) {
	s := Status{State: StateRunning, Counters: Snapshot{RequestsProxied: 4}}
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "lastError")
	assert.Contains(t, string(b), `"state":"Running"`)
}

func TestStatusMarshalsLastErrorWhenSet(t *testing.T) {
	s := Status{State: StateFailed, LastError: "bind address validation: not loopback"}
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), "lastError")
}
