package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataBuilder_BuildsCompleteMetadata(t *testing.T) {
	md := NewMetadata("payment.settle", "2.1.0").
		Category("payments").
		Capabilities(CapabilityValidate, CapabilityCompensate).
		Permissions("payments:write").
		Roles("operator", "admin").
		Features("instant-settlement").
		Deprecated("payment.settle-v3").
		Source(SourceLocalArchive, "/opt/plugins/settle-2.1.0.lua").
		Build()

	assert.Equal(t, "payment.settle@2.1.0", md.Key())
	assert.Equal(t, "payments", md.Category)
	assert.True(t, md.HasCapability(CapabilityValidate))
	assert.True(t, md.HasCapability(CapabilityCompensate))
	assert.False(t, md.HasCapability(CapabilityHealth))
	assert.Equal(t, []string{"payments:write"}, md.RequiredPermissions)
	assert.Equal(t, []string{"operator", "admin"}, md.RequiredRoles)
	assert.True(t, md.Deprecated)
	assert.Equal(t, "payment.settle-v3", md.ReplacedBy)
	assert.Equal(t, SourceLocalArchive, md.SourceType)
	require.NoError(t, md.Validate())
}

func TestMetadata_ValidateRejectsMissingIdentity(t *testing.T) {
	assert.Equal(t, CodeConfiguration, CodeOf(Metadata{Version: "1.0.0"}.Validate()))
	assert.Equal(t, CodeConfiguration, CodeOf(Metadata{ProcessID: "payment.settle"}.Validate()))
	assert.Equal(t, CodeConfiguration, CodeOf(Metadata{ProcessID: "  ", Version: "1.0.0"}.Validate()))
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name       string
		descriptor Descriptor
		wantErr    bool
	}{
		{
			name:       "local archive",
			descriptor: Descriptor{ProcessID: "payment.settle", Version: "1.0.0", SourceType: SourceLocalArchive},
		},
		{
			name: "maven with coordinates",
			descriptor: Descriptor{
				ProcessID: "payment.settle", SourceType: SourceRemoteMaven,
				GroupID: "com.acme.flows", ArtifactID: "settle",
			},
		},
		{
			name:       "latest keyword is not semver-checked",
			descriptor: Descriptor{ProcessID: "payment.settle", Version: VersionLatest, SourceType: SourceEmbedded},
		},
		{
			name:       "missing process id",
			descriptor: Descriptor{SourceType: SourceLocalArchive},
			wantErr:    true,
		},
		{
			name:       "malformed version",
			descriptor: Descriptor{ProcessID: "payment.settle", Version: "one.two", SourceType: SourceLocalArchive},
			wantErr:    true,
		},
		{
			name:       "maven without coordinates",
			descriptor: Descriptor{ProcessID: "payment.settle", SourceType: SourceRemoteMaven},
			wantErr:    true,
		},
		{
			name:       "unknown source type",
			descriptor: Descriptor{ProcessID: "payment.settle", SourceType: SourceType("ftp")},
			wantErr:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.descriptor.Validate()
			if tt.wantErr {
				assert.Equal(t, CodeConfiguration, CodeOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDescriptor_ResolvedVersion(t *testing.T) {
	assert.Equal(t, VersionLatest, Descriptor{ProcessID: "p"}.ResolvedVersion())
	assert.Equal(t, "1.2.3", Descriptor{ProcessID: "p", Version: "1.2.3"}.ResolvedVersion())
}
