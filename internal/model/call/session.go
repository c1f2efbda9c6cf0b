package call

import "time"

// Status is the lifecycle state of a call session.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further state transition is permitted.
// Terminal sessions only accept notes updates.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Type distinguishes audio-only from video calls. The media itself is
// peer-to-peer; the core only carries the session setup.
type Type string

const (
	TypeVideo Type = "video"
	TypeAudio Type = "audio"
)

// Valid reports whether the call type is one the manager accepts.
func (t Type) Valid() bool { return t == TypeVideo || t == TypeAudio }

// Session is a call room between exactly one patient and one clinician.
type Session struct {
	ID          string     `json:"id"`
	PatientID   string     `json:"patientId"`
	ClinicianID string     `json:"clinicianId"`
	Status      Status     `json:"status"`
	Type        Type       `json:"callType"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	// Duration is derived on completion: EndedAt - StartedAt.
	Duration time.Duration `json:"duration,omitempty"`
	Notes    string        `json:"notes,omitempty"`
}

// HasParticipant reports whether userID is one of the two registered parties.
func (s Session) HasParticipant(userID string) bool {
	return userID == s.PatientID || userID == s.ClinicianID
}

// Peer returns the other participant for a registered one. The empty string
// means userID is not part of the session.
func (s Session) Peer(userID string) string {
	switch userID {
	case s.PatientID:
		return s.ClinicianID
	case s.ClinicianID:
		return s.PatientID
	}
	return ""
}
