package models

import (
	"encoding/json"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Role string

const (
	RoleDriver   Role = "driver"
	RoleHospital Role = "hospital"
)

// Actor is a live driver or hospital connection. ConnID is unique among
// live connections of its role and is not stable across reconnects.
type Actor struct {
	ConnID  string `json:"conn_id"`
	Role    Role   `json:"role"`
	Name    string `json:"name"`
	License string `json:"license,omitempty"`
	Address string `json:"address,omitempty"`
	Coord   *Coord `json:"coord,omitempty"` // nil when the location failed to parse
	Status  string `json:"status,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`
}

type SOSStatus string

const (
	StatusPending   SOSStatus = "pending"
	StatusAccepted  SOSStatus = "accepted"
	StatusCompleted SOSStatus = "completed"
)

// HospitalMatch is the nearest-hospital snapshot resolved at acceptance.
// It is immutable for the life of that acceptance.
type HospitalMatch struct {
	ConnID     string  `json:"conn_id"`
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	DistanceKm float64 `json:"distance_km"`
	EtaSeconds float64 `json:"eta_seconds,omitempty"`
}

// SOSRequest is an emergency request tracked through its lifecycle.
type SOSRequest struct {
	ID         string `json:"sosId"`
	UserName   string `json:"userName"`
	UserMobile string `json:"userMobile"`
	Location   string `json:"location"` // raw "lat,lng" as submitted
	Type       string `json:"type"`

	Status SOSStatus `json:"status"`

	AcceptedBy      string         `json:"acceptedBy,omitempty"` // driver name
	AcceptedLicense string         `json:"acceptedLicense,omitempty"`
	AcceptedConn    string         `json:"-"`
	Nearest         *HospitalMatch `json:"nearestHospital,omitempty"`

	PaymentRef string `json:"-"`

	CreatedAt   time.Time `json:"createdAt"`
	AcceptedAt  time.Time `json:"acceptedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// Envelope is the wire frame for every websocket message, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is an envelope whose payload is marshaled at send time.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Inbound event names.
const (
	EvRegisterDriver   = "registerDriver"
	EvRegisterHospital = "registerHospital"
	EvSendSOS          = "sendSOS"
	EvAcceptSOS        = "acceptSOS"
	EvPatientArrived   = "patientArrived"
)

// Outbound event names.
const (
	EvDriverRegistered   = "driverRegistered"
	EvDriverCountUpdate  = "driverCountUpdate"
	EvHospitalRegistered = "hospitalRegistered"
	EvReceiveSOS         = "receiveSOS"
	EvNewSOS             = "newSOS"
	EvSOSConfirmed       = "sosConfirmed"
	EvSOSAccepted        = "sosAccepted"
	EvSOSAcceptFailed    = "sosAcceptFailed"
	EvSOSRejected        = "sosRejected"
	EvIncomingPatient    = "incomingPatient"
	EvPatientArrivedOut  = "patientArrived"
)

type RegisterDriverPayload struct {
	Name             string `json:"name"`
	AmbulanceLicense string `json:"ambulanceLicense"`
	Address          string `json:"address,omitempty"`
}

type RegisterHospitalPayload struct {
	Name             string `json:"name"`
	Address          string `json:"address"`
	HospitalLocation string `json:"hospitalLocation,omitempty"` // combined "lat,lng", preferred
	Lat              string `json:"lat,omitempty"`
	Lng              string `json:"lng,omitempty"`
}

type SendSOSPayload struct {
	SOSID      string `json:"sosId"`
	UserName   string `json:"userName"`
	UserMobile string `json:"userMobile"`
	Location   string `json:"location"`
	Type       string `json:"type"`
}

type AcceptSOSPayload struct {
	SOSID string `json:"sosId"`
}

type PatientArrivedPayload struct {
	SOSID      string `json:"sosId"`
	Hospital   string `json:"hospital,omitempty"` // client-supplied fallback label
	DriverName string `json:"driverName,omitempty"`
}
