// ABOUTME: Wire types for the garage data API
// ABOUTME: ID accepts numeric or string identifiers; Staff resolves its station in several shapes

package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID is a backend identifier. The API emits ids as JSON numbers or strings;
// both decode to the same textual form.
type ID string

// UnmarshalJSON accepts 42, "42" and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits canonical integers as numbers and everything else,
// including "007" and "+5", as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string {
	return string(id)
}

// Vehicle is a car registered to an account
type Vehicle struct {
	ID           ID     `json:"id"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year,omitempty"`
	LicensePlate string `json:"license_plate,omitempty"`
	VIN          string `json:"vin,omitempty"`
}

// Label is the human-readable vehicle name used in option lists.
func (v Vehicle) Label() string {
	name := strings.TrimSpace(v.Make + " " + v.Model)
	if name == "" {
		name = "Vehicle " + v.ID.String()
	}
	if v.Year > 0 {
		name = fmt.Sprintf("%s (%d)", name, v.Year)
	}
	if v.LicensePlate != "" {
		name += " " + v.LicensePlate
	}
	return name
}

// Service is a catalog entry such as an oil change
type Service struct {
	ID              ID      `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Price           float64 `json:"price,omitempty"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
}

// Station is a physical service location
type Station struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// Staff is a member of service personnel. The roster endpoint has reported the
// assigned station as "station" (id or object), "station_id", or "stations" (list).
type Staff struct {
	ID        ID                `json:"id"`
	Name      string            `json:"name"`
	FirstName string            `json:"first_name,omitempty"`
	LastName  string            `json:"last_name,omitempty"`
	Role      string            `json:"role,omitempty"`
	Station   json.RawMessage   `json:"station,omitempty"`
	StationID ID                `json:"station_id,omitempty"`
	Stations  []json.RawMessage `json:"stations,omitempty"`
}

// DisplayName prefers the explicit name, then first and last names.
func (s Staff) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	full := strings.TrimSpace(s.FirstName + " " + s.LastName)
	if full != "" {
		return full
	}
	return "Staff " + s.ID.String()
}

// WorksAt reports whether the staff member is assigned to the given station.
func (s Staff) WorksAt(station ID) bool {
	if station == "" {
		return false
	}
	if s.StationID == station {
		return true
	}
	if ref, ok := stationRef(s.Station); ok && ref == station {
		return true
	}
	for _, raw := range s.Stations {
		if ref, ok := stationRef(raw); ok && ref == station {
			return true
		}
	}
	return false
}

// stationRef extracts a station id from a bare id or an object with an id field.
func stationRef(raw json.RawMessage) (ID, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '{' {
		var obj struct {
			ID        ID `json:"id"`
			StationID ID `json:"station_id"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", false
		}
		if obj.ID != "" {
			return obj.ID, true
		}
		return obj.StationID, obj.StationID != ""
	}
	var id ID
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", false
	}
	return id, id != ""
}

// FilterStaffByStation returns the roster entries assigned to a station.
func FilterStaffByStation(roster []Staff, station ID) []Staff {
	var out []Staff
	for _, s := range roster {
		if s.WorksAt(station) {
			out = append(out, s)
		}
	}
	return out
}

// Identity is the response of the token introspection endpoint
type Identity struct {
	ID    ID     `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// LoginRequest is the body for POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued credentials. ExpiresAt is optional.
type LoginResponse struct {
	UserID    ID         `json:"user_id"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// VehicleSnapshot is the denormalized vehicle copy stored with an appointment
type VehicleSnapshot struct {
	ID           ID     `json:"id"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year,omitempty"`
	LicensePlate string `json:"license_plate,omitempty"`
	VIN          string `json:"vin,omitempty"`
}

// SnapshotOf copies the auditable fields of a vehicle.
func SnapshotOf(v Vehicle) VehicleSnapshot {
	return VehicleSnapshot{
		ID:           v.ID,
		Make:         v.Make,
		Model:        v.Model,
		Year:         v.Year,
		LicensePlate: v.LicensePlate,
		VIN:          v.VIN,
	}
}

// AppointmentRequest is the body for POST /appointments
type AppointmentRequest struct {
	UserID        ID              `json:"user_id"`
	ServiceID     ID              `json:"service_id"`
	StaffID       ID              `json:"staff_id"`
	StationID     ID              `json:"station_id"`
	VehicleID     ID              `json:"vehicle_id"`
	ScheduledTime time.Time       `json:"scheduled_time"`
	Notes         string          `json:"notes"`
	Vehicle       VehicleSnapshot `json:"vehicle"`
}

// Appointment is the created appointment as echoed by the API
type Appointment struct {
	ID            ID        `json:"id"`
	Status        string    `json:"status,omitempty"`
	ScheduledTime time.Time `json:"scheduled_time"`
}
