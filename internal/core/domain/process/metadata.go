package process

import (
	"fmt"
	"strings"
)

// Metadata describes a loaded process plugin. It is built once at load time
// and read-only afterward.
type Metadata struct {
	ProcessID    string
	Version      string
	Category     string
	Capabilities []Capability

	// Gating requirements, evaluated by the orchestrator.
	RequiredPermissions []string
	RequiredRoles       []string
	RequiredFeatures    []string

	// Deprecated plugins still execute; the orchestrator logs a warning
	// naming the replacement.
	Deprecated bool
	ReplacedBy string

	// Vanilla marks a fallback-eligible default implementation.
	Vanilla bool

	SourceType     SourceType
	SourceLocation string
}

// Key returns the composite registry key for this metadata.
func (m Metadata) Key() string {
	return m.ProcessID + "@" + m.Version
}

// HasCapability reports whether the plugin declared the given capability.
func (m Metadata) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Validate checks the minimum shape required for registration.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.ProcessID) == "" {
		return NewError(CodeConfiguration, "plugin metadata is missing a process id")
	}
	if strings.TrimSpace(m.Version) == "" {
		return NewError(CodeConfiguration, fmt.Sprintf("plugin %q metadata is missing a version", m.ProcessID))
	}
	return nil
}

// MetadataBuilder assembles Metadata through explicit registration calls.
// Embedded plugins use it at startup; the Lua host builds the same value from
// the registration table. This replaces any reflective marker scanning.
type MetadataBuilder struct {
	md Metadata
}

// NewMetadata starts a builder for the given plugin identity.
func NewMetadata(processID, version string) *MetadataBuilder {
	return &MetadataBuilder{md: Metadata{
		ProcessID:    processID,
		Version:      version,
		Capabilities: []Capability{CapabilityExecute},
	}}
}

func (b *MetadataBuilder) Category(category string) *MetadataBuilder {
	b.md.Category = category
	return b
}

func (b *MetadataBuilder) Capabilities(caps ...Capability) *MetadataBuilder {
	b.md.Capabilities = caps
	return b
}

func (b *MetadataBuilder) Permissions(perms ...string) *MetadataBuilder {
	b.md.RequiredPermissions = perms
	return b
}

func (b *MetadataBuilder) Roles(roles ...string) *MetadataBuilder {
	b.md.RequiredRoles = roles
	return b
}

func (b *MetadataBuilder) Features(features ...string) *MetadataBuilder {
	b.md.RequiredFeatures = features
	return b
}

func (b *MetadataBuilder) Deprecated(replacedBy string) *MetadataBuilder {
	b.md.Deprecated = true
	b.md.ReplacedBy = replacedBy
	return b
}

func (b *MetadataBuilder) Vanilla() *MetadataBuilder {
	b.md.Vanilla = true
	return b
}

func (b *MetadataBuilder) Source(sourceType SourceType, location string) *MetadataBuilder {
	b.md.SourceType = sourceType
	b.md.SourceLocation = location
	return b
}

// Build finalizes the metadata value.
func (b *MetadataBuilder) Build() Metadata {
	return b.md
}
