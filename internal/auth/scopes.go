package auth

const (
	ScopeRunsRead  = "comfyrun:read"
	ScopeRunsWrite = "comfyrun:write"
)

// AllScopes is the full set of scopes a client may be granted.
var AllScopes = []string{
	ScopeRunsRead,
	ScopeRunsWrite,
}
