package protofile

import (
	"testing"

	"github.com/cuemby/sandboxd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	spec := &types.Spec{
		Role:             "web",
		Owner:            "alice",
		Version:          "3",
		System:           "debian",
		SystemOptions:    "--release bookworm",
		ProvisioningTime: 1700000000,
		Requirements: types.Requirements{
			Disk:  "4G",
			Ports: []int{22, 8080},
		},
	}

	data := Marshal(spec)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, spec, got)
}

func TestUnmarshalEmptyRequirements(t *testing.T) {
	data := []byte(`role: "web"
owner: "alice"
version: ""
system: "debian"
system_options: ""
provisioning_time: 0
requirements {
  disk: ""
}
`)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "web", got.Role)
	assert.Equal(t, "alice", got.Owner)
	assert.Empty(t, got.Requirements.Ports)
	assert.Empty(t, got.Requirements.Disk)
}

func TestUnmarshalInvalidPort(t *testing.T) {
	data := []byte(`role: "web"
requirements {
  ports: notanumber
}
`)
	_, err := Unmarshal(data)
	assert.Error(t, err)
}

func TestUnmarshalOwnerWithDot(t *testing.T) {
	// Owners may legitimately contain dots; the text codec itself must not
	// lose this (the lossy split lives in pkg/alternatives's name decoding,
	// not here).
	spec := &types.Spec{Role: "web", Owner: "alice.smith", System: "debian"}
	got, err := Unmarshal(Marshal(spec))
	require.NoError(t, err)
	assert.Equal(t, "alice.smith", got.Owner)
}
