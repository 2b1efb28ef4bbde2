package queue

import (
	"time"
)

// Status is the lifecycle state of an appointment in the daily queue.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCalled    Status = "called"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// Label returns the Spanish display name.
func (s Status) Label() string {
	switch s {
	case StatusWaiting:
		return "En espera"
	case StatusCalled:
		return "Llamado"
	case StatusDone:
		return "Atendido"
	case StatusCancelled:
		return "Cancelado"
	default:
		return string(s)
	}
}

// Appointment is one entry of the daily queue.
type Appointment struct {
	ID          int64
	PatientID   int64
	PatientName string
	QueueDay    time.Time
	ScheduledAt time.Time
	Ticket      int
	Status      Status
	CalledAt    *time.Time
	CompletedAt *time.Time
}

// Open reports whether the appointment can still be called or closed.
func (a Appointment) Open() bool {
	return a.Status == StatusWaiting || a.Status == StatusCalled
}

// Sound names a bundled notification sound.
type Sound string

const (
	SoundChime Sound = "chime"
	SoundBell  Sound = "bell"
	SoundDing  Sound = "ding"
)

// Sounds lists the bundled sounds.
func Sounds() []Sound {
	return []Sound{SoundChime, SoundBell, SoundDing}
}

// Valid reports whether s is bundled.
func (s Sound) Valid() bool {
	for _, known := range Sounds() {
		if s == known {
			return true
		}
	}
	return false
}

// Settings control the waiting-room call notification.
type Settings struct {
	SoundEnabled bool  `json:"sound_enabled"`
	Sound        Sound `json:"sound"`
	Volume       int   `json:"volume"`
	Repeat       int   `json:"repeat"`
}

// DefaultSettings is used until an administrator saves their own.
func DefaultSettings() Settings {
	return Settings{SoundEnabled: true, Sound: SoundChime, Volume: 80, Repeat: 1}
}

// SettingsInput is the settings form.
type SettingsInput struct {
	SoundEnabled bool   `form:"sound_enabled" json:"sound_enabled"`
	Sound        string `form:"sound" json:"sound" validate:"required,oneof=chime bell ding"`
	Volume       int    `form:"volume" json:"volume" validate:"min=0,max=100"`
	Repeat       int    `form:"repeat" json:"repeat" validate:"min=1,max=3"`
}

// CallEvent is published when a patient is called to the consulting room.
type CallEvent struct {
	AppointmentID int64     `json:"appointment_id"`
	Ticket        int       `json:"ticket"`
	PatientName   string    `json:"patient_name"`
	Sound         Sound     `json:"sound,omitempty"`
	Volume        int       `json:"volume"`
	Repeat        int       `json:"repeat"`
	CalledAt      time.Time `json:"called_at"`
}
