package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statelens/statelens/pkg/network"
)

// Well-known development key (Alice) encoded with the generic Substrate
// prefix (42) and the Polkadot prefix (0). Same public key, different SS58
// envelopes.
const (
	aliceGeneric  = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	alicePolkadot = "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"
)

func TestDecodeAddress(t *testing.T) {
	torus, err := network.ByName("torus")
	require.NoError(t, err)
	polkadot, err := network.ByName("polkadot")
	require.NoError(t, err)

	genericKey, err := decodeAddress(torus, aliceGeneric)
	require.NoError(t, err)
	assert.Len(t, genericKey, 32)

	polkadotKey, err := decodeAddress(polkadot, alicePolkadot)
	require.NoError(t, err)
	assert.Equal(t, genericKey, polkadotKey, "same key under both prefixes")
}

func TestDecodeAddressRejectsPrefixMismatch(t *testing.T) {
	torus, err := network.ByName("torus")
	require.NoError(t, err)
	polkadot, err := network.ByName("polkadot")
	require.NoError(t, err)

	_, err = decodeAddress(polkadot, aliceGeneric)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prefix")

	_, err = decodeAddress(torus, alicePolkadot)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prefix")
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	torus, err := network.ByName("torus")
	require.NoError(t, err)

	_, err = decodeAddress(torus, "not-an-address")
	require.Error(t, err)

	_, err = decodeAddress(torus, "")
	require.Error(t, err)
}
