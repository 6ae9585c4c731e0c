package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

func TestEstimateNAV_EmptyPool(t *testing.T) {
	e := newTestEnv(t)

	nav, err := e.nav.EstimateNAV(t.Context(), testPool)
	require.NoError(t, err)
	assert.Zero(t, nav.Total)
	assert.False(t, nav.Degraded)
	assert.Len(t, nav.Assets, 3, "SOLX, BONK and the reference asset")
}

func TestEstimateNAV_ValuesEveryAsset(t *testing.T) {
	e := newTestEnv(t)
	e.credit(t, vault, refMint, 50_000_000)
	e.credit(t, vault, solMint, 500_000_000)
	e.credit(t, vault, bonkMint, 1_000_000_000)
	e.credit(t, vault, shareMint, 999_999_999)

	nav, err := e.nav.EstimateNAV(t.Context(), testPool)
	require.NoError(t, err)
	// 50 REF + 0.5 SOLX at 120 + 10000 BONK at 0.00002.
	assert.Equal(t, uint64(50_000_000+60_000_000+200_000), nav.Total)
	assert.False(t, nav.Degraded)
	for _, a := range nav.Assets {
		assert.NotEqual(t, shareMint, a.Mint)
	}
}

func TestEstimateNAV_UnpricedAssetDegrades(t *testing.T) {
	e := newTestEnv(t)
	e.credit(t, vault, refMint, 50_000_000)
	e.credit(t, vault, solMint, 500_000_000)
	e.agg.setNoRoute(solMint, true)

	nav, err := e.nav.EstimateNAV(t.Context(), testPool)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000), nav.Total)
	assert.True(t, nav.Degraded)
}

func TestSnapshot_PersistsAndPublishes(t *testing.T) {
	e := newTestEnv(t)
	e.credit(t, vault, refMint, 7_000_000)

	sub, err := e.bus.Subscribe(t.Context(), domain.ChannelNAV)
	require.NoError(t, err)

	nav, err := e.nav.Snapshot(t.Context(), testPool)
	require.NoError(t, err)
	assert.Equal(t, uint64(7_000_000), nav.Total)
	assert.Equal(t, uint64(7_000_000), e.pool(t).TotalAssets)

	raw, err := e.docs.Get(t.Context(), navKey(testPool))
	require.NoError(t, err)
	var cached domain.NAV
	require.NoError(t, json.Unmarshal(raw, &cached))
	assert.Equal(t, nav.Total, cached.Total)

	latest, err := e.nav.Latest(t.Context(), testPool)
	require.NoError(t, err)
	assert.Equal(t, nav.Total, latest.Total)

	select {
	case msg := <-sub:
		assert.Contains(t, string(msg), EventNAVSnapshot)
	default:
		t.Fatal("expected nav event")
	}
}
