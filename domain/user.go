package domain

import "time"

// User is an authenticated identity.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// LocalUser owns the single store of the local variant.
var LocalUser = User{ID: "local", Email: "local@localhost"}
