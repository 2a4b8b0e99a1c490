package process

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// SourceType identifies where a plugin artifact comes from.
type SourceType string

const (
	SourceEmbedded     SourceType = "embedded"
	SourceLocalArchive SourceType = "local-archive"
	SourceRemoteMaven  SourceType = "remote-maven"
	SourceRemoteHTTP   SourceType = "remote-http"
	SourceRemoteGit    SourceType = "remote-git"
)

// VersionLatest is the descriptor version meaning "highest available".
const VersionLatest = "latest"

// Descriptor is a single load request. It is a value object: constructed per
// load attempt, never mutated.
type Descriptor struct {
	ProcessID  string
	Version    string
	SourceType SourceType
	SourceURI  string

	// EntryName is the fully-qualified symbol the artifact registers under.
	// Empty means "every registration found in the artifact".
	EntryName string

	// Maven-style coordinates, remote-maven only.
	GroupID    string
	ArtifactID string

	// Git coordinates. Git sources are a stated non-goal and always fail
	// with an unsupported error.
	GitRef  string
	GitPath string

	// Checksum is an optional hex SHA-256 over the artifact bytes.
	Checksum string

	// ForceReload bypasses the artifact cache.
	ForceReload bool

	// Properties is a free-form bag for loader-specific settings.
	Properties map[string]string
}

// Validate checks the descriptor shape for the given source type.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ProcessID) == "" {
		return NewError(CodeConfiguration, "descriptor is missing a process id")
	}
	if d.Version != "" && d.Version != VersionLatest {
		if _, err := semver.NewVersion(d.Version); err != nil {
			return WrapError(CodeConfiguration,
				fmt.Sprintf("descriptor %q has a malformed version %q", d.ProcessID, d.Version), err)
		}
	}
	switch d.SourceType {
	case SourceEmbedded, SourceLocalArchive, SourceRemoteHTTP, SourceRemoteGit:
	case SourceRemoteMaven:
		if d.GroupID == "" || d.ArtifactID == "" {
			return NewError(CodeConfiguration,
				fmt.Sprintf("descriptor %q needs groupId and artifactId for a maven source", d.ProcessID))
		}
	default:
		return NewError(CodeConfiguration,
			fmt.Sprintf("descriptor %q has unknown source type %q", d.ProcessID, d.SourceType))
	}
	return nil
}

// ResolvedVersion returns the requested version, or VersionLatest when the
// descriptor leaves it empty.
func (d Descriptor) ResolvedVersion() string {
	if d.Version == "" {
		return VersionLatest
	}
	return d.Version
}
