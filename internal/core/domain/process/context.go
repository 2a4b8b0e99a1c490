package process

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// BusinessContext carries the caller's identity and entitlements into an
// execution. It is supplied by the hosting application, not by this runtime.
type BusinessContext struct {
	TenantID    string
	UserID      string
	Permissions []string
	Roles       []string
	Attributes  map[string]string
}

// HasPermission reports whether the caller holds the given permission.
func (b BusinessContext) HasPermission(perm string) bool {
	for _, p := range b.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// HasRole reports whether the caller holds the given role.
func (b BusinessContext) HasRole(role string) bool {
	for _, r := range b.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ExecutionContext aggregates everything one execution needs. Constructed per
// call, passed by reference through the orchestrator, never stored.
type ExecutionContext struct {
	ExecutionID   string
	CorrelationID string
	StartTime     time.Time

	Business BusinessContext
	Mapping  Mapping
	Input    map[string]any
}

// NewExecutionContext creates a context with a fresh execution id.
func NewExecutionContext(business BusinessContext, mapping Mapping, input map[string]any) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID: GenerateExecutionID(),
		StartTime:   time.Now(),
		Business:    business,
		Mapping:     mapping,
		Input:       input,
	}
}

// GenerateExecutionID returns a random 16-byte hex id.
func GenerateExecutionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a time-derived id; uniqueness is best-effort here.
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(buf)
}
