// Package domain defines the core fitment types, the error taxonomy and
// mapping validation. It is the vocabulary shared by the parser, the
// resolvers and the aggregator.
package domain

import "encoding/json"

// ModelMapping translates informal vehicle text into a canonical make/model.
type ModelMapping struct {
	ID          int64  `json:"id"`
	Pattern     string `json:"pattern" validate:"required,max=255"`
	Make        string `json:"make" validate:"required,max=100,excludes=0x7C"`
	VehicleCode string `json:"vehicleCode" validate:"required,max=50,excludes=0x7C"`
	Model       string `json:"model" validate:"required,max=100,excludes=0x7C"`
	Priority    int    `json:"priority"`
	Active      bool   `json:"active"`
}

// UnmarshalJSON decodes a mapping, defaulting active to true when the field
// is omitted.
func (m *ModelMapping) UnmarshalJSON(data []byte) error {
	type plain ModelMapping
	aux := struct {
		*plain
		Active *bool `json:"active"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Active = aux.Active == nil || *aux.Active
	return nil
}

// MappingPatch carries the fields of an update; nil fields are left unchanged.
type MappingPatch struct {
	Pattern     *string `json:"pattern,omitempty"`
	Make        *string `json:"make,omitempty"`
	VehicleCode *string `json:"vehicleCode,omitempty"`
	Model       *string `json:"model,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// Apply returns m with the patch applied.
func (p MappingPatch) Apply(m ModelMapping) ModelMapping {
	if p.Pattern != nil {
		m.Pattern = *p.Pattern
	}
	if p.Make != nil {
		m.Make = *p.Make
	}
	if p.VehicleCode != nil {
		m.VehicleCode = *p.VehicleCode
	}
	if p.Model != nil {
		m.Model = *p.Model
	}
	if p.Priority != nil {
		m.Priority = *p.Priority
	}
	if p.Active != nil {
		m.Active = *p.Active
	}
	return m
}

// ParsedApplication is one application statement split into its parts.
type ParsedApplication struct {
	RawText      string `json:"raw_text"`
	YearFrom     int    `json:"year_from"`
	YearTo       int    `json:"year_to"`
	VehicleText  string `json:"vehicle_text"`
	PositionText string `json:"position_text"`
}

// VehicleRow is one row of the vehicle reference schema.
type VehicleRow struct {
	ID       int    `json:"vehicle_id"`
	Year     int    `json:"year"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	Submodel string `json:"submodel,omitempty"`
	Region   string `json:"region,omitempty"`
}

// ResolvedFitment links one reference vehicle to one set of positions.
type ResolvedFitment struct {
	ID              string `json:"fitment_id"`
	VehicleID       int    `json:"vcdb_vehicle_id"`
	PositionIDs     []int  `json:"pcdb_position_ids"`
	PartTerminology int    `json:"part_terminology_id"`
}

// Status classifies a processed application.
type Status string

const (
	StatusValid   Status = "VALID"
	StatusWarning Status = "WARNING"
	StatusError   Status = "ERROR"
)

func (s Status) rank() int {
	switch s {
	case StatusError:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// Worst returns the more severe of two statuses (ERROR > WARNING > VALID).
func Worst(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// ProcessingResult is one outcome for one application line. Resolved lines
// yield one result per fitment; failed lines yield a single result.
type ProcessingResult struct {
	OriginalText string           `json:"original_text"`
	Status       Status           `json:"status"`
	Kind         ErrorKind        `json:"kind,omitempty"`
	Message      string           `json:"message"`
	Fitment      *ResolvedFitment `json:"fitment,omitempty"`
}
