package mapping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules() []Rule {
	return []Rule{
		{OperationID: "op.settle", ProcessID: "settle.default", Version: "1.0.0"},
		{OperationID: "op.settle", ProductID: "credit", ProcessID: "settle.credit", Version: "1.0.0"},
		{OperationID: "op.settle", TenantID: "acme", ProductID: "credit", Channel: "web", ProcessID: "settle.acme", Version: "2.0.0"},
		{OperationID: "op.refund", ProcessID: "refund.default"},
	}
}

func TestStaticResolver_Resolve_MostSpecificRuleWins(t *testing.T) {
	r := NewStaticResolver(testRules()...)

	tests := []struct {
		name        string
		tenant      string
		operation   string
		product     string
		channel     string
		wantProcess string
		wantFound   bool
	}{
		{"wildcard fallback", "other", "op.settle", "debit", "api", "settle.default", true},
		{"product pinned", "other", "op.settle", "credit", "api", "settle.credit", true},
		{"fully pinned beats partial", "acme", "op.settle", "credit", "web", "settle.acme", true},
		{"unknown operation", "acme", "op.transfer", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapping, found, err := r.Resolve(context.Background(), tt.tenant, tt.operation, tt.product, tt.channel)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
			if found {
				assert.Equal(t, tt.wantProcess, mapping.ProcessID)
			}
		})
	}
}

func TestStaticResolver_Resolve_CarriesRequestDimensions(t *testing.T) {
	r := NewStaticResolver(testRules()...)

	mapping, found, err := r.Resolve(context.Background(), "acme", "op.refund", "credit", "web")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "op.refund", mapping.OperationID)
	assert.Equal(t, "acme", mapping.TenantID)
	assert.Equal(t, "credit", mapping.ProductID)
	assert.Equal(t, "web", mapping.Channel)
	assert.Equal(t, "refund.default", mapping.ProcessID)
	assert.Empty(t, mapping.Version, "empty version means latest")
}

func TestStaticResolver_AddRule_InvalidatesCache(t *testing.T) {
	r := NewStaticResolver(Rule{OperationID: "op.settle", ProcessID: "settle.v1"})

	mapping, found, err := r.Resolve(context.Background(), "acme", "op.settle", "credit", "web")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "settle.v1", mapping.ProcessID)

	// A more specific rule must take over despite the memoized resolution.
	r.AddRule(Rule{OperationID: "op.settle", TenantID: "acme", ProcessID: "settle.acme"})

	mapping, found, err = r.Resolve(context.Background(), "acme", "op.settle", "credit", "web")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "settle.acme", mapping.ProcessID)
}

func TestStaticResolver_Invalidate_ScopesByTenant(t *testing.T) {
	r := NewStaticResolver(Rule{OperationID: "op.settle", ProcessID: "settle.v1"})

	_, _, err := r.Resolve(context.Background(), "acme", "op.settle", "", "")
	require.NoError(t, err)
	_, _, err = r.Resolve(context.Background(), "globex", "op.settle", "", "")
	require.NoError(t, err)
	require.Len(t, r.cache, 2)

	r.Invalidate("acme")
	assert.Len(t, r.cache, 1)

	r.Invalidate("")
	assert.Empty(t, r.cache)
}
