package process

// Mapping binds an external operation id, within tenant/product/channel
// dimensions, to a concrete plugin identity. One is resolved per execution
// request and discarded afterward.
type Mapping struct {
	OperationID string
	TenantID    string
	ProductID   string
	Channel     string

	ProcessID string
	// Version may be empty, meaning "latest registered by loader priority".
	Version string
}

// Artifact is a downloaded, cached plugin binary. Owned by the artifact
// cache; its lifetime ends with cache invalidation.
type Artifact struct {
	ProcessID  string
	Version    string
	SourceURL  string
	LocalPath  string
	Checksum   string
	Downloaded int64 // unix millis
}
