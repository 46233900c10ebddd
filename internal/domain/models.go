// Package domain defines the persistence models for call sessions and users.
// These types are mapped with GORM and form the core data layer of the call
// signaling backend.
package domain

import (
	"time"
)

// CallStatus enumerates the lifecycle states of a call session.
//
// The legal transitions are:
//
//	PENDING --accept--> ONGOING
//	PENDING --reject--> ENDED
//	PENDING --end-----> ENDED
//	ONGOING --end-----> ENDED
//
// ENDED and MISSED are terminal; no event is accepted from them. MISSED is
// declared for forward compatibility (a future timeout sweep) but no
// transition in this subsystem currently produces it.
type CallStatus string

const (
	// CallPending is the initial state set when a call is initiated and the
	// callee has not yet answered.
	CallPending CallStatus = "PENDING"
	// CallOngoing means the callee accepted and both parties hold media tokens.
	CallOngoing CallStatus = "ONGOING"
	// CallEnded is the terminal state reached by reject or end.
	CallEnded CallStatus = "ENDED"
	// CallMissed is a declared terminal state with no producing transition yet.
	CallMissed CallStatus = "MISSED"
)

// Terminal reports whether no further transition is accepted from s.
func (s CallStatus) Terminal() bool {
	return s == CallEnded || s == CallMissed
}

// Active reports whether the call can still be ended by a participant.
func (s CallStatus) Active() bool {
	return s == CallPending || s == CallOngoing
}

// Call represents one call attempt between two users. The record is owned
// exclusively by the call service for the duration of its lifecycle; status
// mutations go through conditional updates keyed on the expected current
// status so that two parties racing to transition the same session cannot
// both win.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - CallerID / CalleeID: identities of the two participants; always distinct.
//   - ChannelName: globally unique media channel token, generated at creation
//     and never reused across attempts.
//   - Status: current state machine position (see CallStatus).
//   - StartedAt: set exactly once, on the PENDING→ONGOING transition.
//   - EndedAt: set exactly once, on any transition into ENDED.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Call struct {
	ID          string     `json:"id"           gorm:"type:char(36);primaryKey"`
	CallerID    string     `json:"caller_id"    gorm:"type:varchar(64);not null;index:idx_caller_calls"`
	CalleeID    string     `json:"callee_id"    gorm:"type:varchar(64);not null;index:idx_callee_calls"`
	ChannelName string     `json:"channel_name" gorm:"type:varchar(64);not null;uniqueIndex"`
	Status      CallStatus `json:"status"       gorm:"type:varchar(16);not null;check:status IN ('PENDING','ONGOING','ENDED','MISSED')"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Call.
func (Call) TableName() string { return "calls" }

// Participant reports whether userID is the caller or the callee.
func (c *Call) Participant(userID string) bool {
	return userID == c.CallerID || userID == c.CalleeID
}

// Peer returns the other participant's id, or "" when userID is not a
// participant at all.
func (c *Call) Peer(userID string) string {
	switch userID {
	case c.CallerID:
		return c.CalleeID
	case c.CalleeID:
		return c.CallerID
	}
	return ""
}

// User is the lightweight user directory entry consumed by the signaling
// subsystem. Identity management itself lives elsewhere; this model only
// carries what call orchestration needs: existence, a display name for
// notifications, and the registered push device token (may be empty when the
// user never registered a device).
type User struct {
	ID          string    `json:"id"           gorm:"type:varchar(64);primaryKey"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null"`
	AvatarURL   string    `json:"avatar_url,omitempty" gorm:"type:varchar(512)"`
	DeviceToken string    `json:"-"            gorm:"type:varchar(512)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Summary is the participant projection embedded in realtime events and
// history entries. It deliberately omits the device token.
type Summary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Summary projects the user into its public participant shape.
func (u *User) Summary() Summary {
	return Summary{ID: u.ID, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}
