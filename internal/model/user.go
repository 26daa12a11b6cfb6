package model

import "time"

type User struct {
	ID                 string
	Email              string
	ExpoPushToken      *string
	GoogleRefreshToken *string
	CreatedAt          time.Time
}

// Child belongs to a user; its name is matched against message text to
// associate an extracted event with the right kid.
type Child struct {
	ID     string
	UserID string
	Name   string
}
