package auth

// Principal identifies the authenticated caller of a request.
type Principal struct {
	UserID     string
	Email      string
	AuthMethod string // jwt or admin_key
}
