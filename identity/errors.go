package identity

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrUserExists         = errors.New("user already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrWeakPassword       = errors.New("password should be at least 6 characters")
	ErrPasswordTooLong    = errors.New("password must be at most 72 characters")
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrTokenRevoked       = errors.New("token revoked")
)

const (
	minPasswordLength = 6
	// bcrypt ignores everything past 72 bytes
	maxPasswordLength = 72
)
