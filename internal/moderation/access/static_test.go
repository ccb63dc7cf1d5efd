package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGrants(t *testing.T) {
	gate, err := ParseGrants(" admin-a:decide:vehicle_listing|DECIDE:booking_request ; auditor:view:queue; root:* ")
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		actor, action string
		want          bool
	}{
		{"admin-a", "decide:vehicle_listing", true},
		{"admin-a", "decide:booking_request", true},
		{"admin-a", "decide:document_upload", false},
		{"auditor", "view:queue", true},
		{"auditor", "decide:vehicle_listing", false},
		{"root", "reconcile:counters", true},
		{"stranger", "view:queue", false},
		{"", "view:queue", false},
	}
	for _, tt := range tests {
		got, err := gate.IsAuthorized(ctx, tt.actor, tt.action)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s / %s", tt.actor, tt.action)
	}
}

func TestParseGrantsWildcardActor(t *testing.T) {
	gate, err := ParseGrants("*:view:notifications")
	require.NoError(t, err)

	ok, err := gate.IsAuthorized(context.Background(), "anyone", "view:notifications")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseGrantsRejectsMalformedEntries(t *testing.T) {
	_, err := ParseGrants("no-colon")
	assert.Error(t, err)

	_, err = ParseGrants("admin:|  |")
	assert.Error(t, err)
}

func TestEmptyGateDenies(t *testing.T) {
	ok, err := NewStaticGate().IsAuthorized(context.Background(), "admin", "decide:vehicle_listing")
	require.NoError(t, err)
	assert.False(t, ok)
}
