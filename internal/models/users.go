package models

import "time"

type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSeller   Role = "seller"
	RoleSupplier Role = "supplier"
)

type User struct {
	UserID       string     `json:"user_id"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone,omitempty"`
	Name         string     `json:"name"`
	Role         Role       `json:"role"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Public returns a copy safe to put in a response.
func (u *User) Public() *User {
	c := *u
	c.PasswordHash = ""
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}
