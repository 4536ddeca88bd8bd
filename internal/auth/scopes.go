package auth

// OAuth scopes checked by the HTTP API.
const (
	ScopeStreaksWrite = "streaks:write"
	ScopeStreaksRead  = "streaks:read"
)
