package model

import "time"

// Device is a registered Web Push subscription of a member.
type Device struct {
	ID        string
	MemberID  string
	Endpoint  string
	P256dh    string
	Auth      string
	CreatedAt time.Time
}
