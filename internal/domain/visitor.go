package domain

import "time"

// Visitor is a returning device/profile identified by the durable visitor ID
// cookie. The widget keeps no account system; a visitor record only tracks
// when the device was first and last seen and how many messages it has sent.
type Visitor struct {
	VisitorID    string
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	MessageCount int64
}
