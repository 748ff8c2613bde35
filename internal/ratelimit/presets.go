package ratelimit

import "time"

// Endpoint classes and their default windows.
var (
	LoginConfig = Config{
		Name:        "login",
		Window:      15 * time.Minute,
		MaxRequests: 5,
	}

	RegistrationConfig = Config{
		Name:        "registration",
		Window:      60 * time.Minute,
		MaxRequests: 3,
	}

	UploadConfig = Config{
		Name:        "upload",
		Window:      60 * time.Second,
		MaxRequests: 10,
	}

	APIConfig = Config{
		Name:        "api",
		Window:      60 * time.Second,
		MaxRequests: 100,
	}
)

// Limiters groups the per-class limiters the HTTP layer needs.
type Limiters struct {
	Login        *Limiter
	Registration *Limiter
	Upload       *Limiter
	API          *Limiter
}

// All returns the limiters in a fixed order.
func (ls *Limiters) All() []*Limiter {
	return []*Limiter{ls.Login, ls.Registration, ls.Upload, ls.API}
}
