package auth

// Credential is the credential row of a user account. The hash never leaves this package.
type Credential struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
}
