package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// Target is the class of object a search looks for.
type Target string

const (
	TargetVehicle  Target = "vehicle"
	TargetPerson   Target = "person"
	TargetMobility Target = "mobility"
)

// Confidence is the operator-chosen strictness tier. It controls both
// how many top-ranked classifier outputs are considered and the score
// floors applied before a detection is emitted.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// TimeRange is the replay window of a search, inclusive on both ends.
type TimeRange struct {
	From time.Time `json:"time_from" msgpack:"time_from"`
	To   time.Time `json:"time_to" msgpack:"time_to"`
}

// ClothingFilter narrows one clothing region (upper or lower body).
type ClothingFilter struct {
	Colors []string `json:"color,omitempty" msgpack:"color,omitempty"`
	Types  []string `json:"type,omitempty" msgpack:"type,omitempty"`
}

func (f ClothingFilter) labels() []string {
	out := make([]string, 0, len(f.Colors)+len(f.Types))
	out = append(out, f.Colors...)
	out = append(out, f.Types...)
	return out
}

// VehicleQuery holds the vehicle-specific appearance and attribute filters.
type VehicleQuery struct {
	Confidence Confidence `json:"confidence" msgpack:"confidence"`
	Types      []string   `json:"type,omitempty" msgpack:"type,omitempty"`
	Colors     []string   `json:"color,omitempty" msgpack:"color,omitempty"`
	Plate      string     `json:"plate,omitempty" msgpack:"plate,omitempty"`
}

// PersonQuery holds the person-specific appearance and attribute filters.
type PersonQuery struct {
	Confidence Confidence     `json:"confidence" msgpack:"confidence"`
	Genders    []string       `json:"gender,omitempty" msgpack:"gender,omitempty"`
	Ages       []string       `json:"seenAge,omitempty" msgpack:"seenAge,omitempty"`
	Upper      ClothingFilter `json:"upper,omitempty" msgpack:"upper,omitempty"`
	Lower      ClothingFilter `json:"lower,omitempty" msgpack:"lower,omitempty"`
}

// MobilityQuery holds the mobility-specific appearance filters.
type MobilityQuery struct {
	Confidence Confidence `json:"confidence" msgpack:"confidence"`
	Types      []string   `json:"type,omitempty" msgpack:"type,omitempty"`
	Colors     []string   `json:"color,omitempty" msgpack:"color,omitempty"`
}

// Params is the explicit tagged union of search parameters. Exactly one
// of Vehicle, Person or Mobility is set, matching Target. The union is
// validated once at the submission boundary and never re-interpreted
// downstream.
type Params struct {
	Sources   []string  `json:"sources" msgpack:"sources"`
	TimeRange TimeRange `json:"timerange" msgpack:"timerange"`
	Target    Target    `json:"type" msgpack:"type"`
	// Gap is the replay frame-skip count passed to the camera server.
	Gap int `json:"gap,omitempty" msgpack:"gap,omitempty"`

	Vehicle  *VehicleQuery  `json:"vehicle,omitempty" msgpack:"vehicle,omitempty"`
	Person   *PersonQuery   `json:"person,omitempty" msgpack:"person,omitempty"`
	Mobility *MobilityQuery `json:"mobility,omitempty" msgpack:"mobility,omitempty"`
}

// submitEnvelope is the loosely-typed wire shape submitted by the
// dashboard: appearance and attribute blocks keyed by the target type.
type submitEnvelope struct {
	Sources     []string        `json:"sources"`
	TimeRange   TimeRange       `json:"timerange"`
	Target      Target          `json:"type"`
	Gap         int             `json:"gap"`
	Appearances json.RawMessage `json:"appearances"`
	Attributes  json.RawMessage `json:"attributes"`
}

// ParseSubmission decodes the wire form of a job submission into the
// tagged union and validates it. This is the single interpretation point
// for loosely-typed dashboard parameters.
func ParseSubmission(data []byte) (Params, error) {
	var env submitEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Params{}, fmt.Errorf("job: decode submission: %w", err)
	}

	p := Params{
		Sources:   env.Sources,
		TimeRange: env.TimeRange,
		Target:    env.Target,
		Gap:       env.Gap,
	}

	switch env.Target {
	case TargetVehicle:
		q := &VehicleQuery{Confidence: ConfidenceMedium}
		if err := decodeFilters(env.Appearances, env.Attributes, q); err != nil {
			return Params{}, err
		}
		p.Vehicle = q
	case TargetPerson:
		q := &PersonQuery{Confidence: ConfidenceMedium}
		if err := decodeFilters(env.Appearances, env.Attributes, q); err != nil {
			return Params{}, err
		}
		p.Person = q
	case TargetMobility:
		q := &MobilityQuery{Confidence: ConfidenceMedium}
		if err := decodeFilters(env.Appearances, env.Attributes, q); err != nil {
			return Params{}, err
		}
		p.Mobility = q
	default:
		return Params{}, fmt.Errorf("job: unknown target type %q", env.Target)
	}

	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// decodeFilters overlays the appearances block then the attributes block
// onto the same query struct; both blocks share field names with it.
func decodeFilters(appearances, attributes json.RawMessage, dst any) error {
	if len(appearances) > 0 {
		if err := json.Unmarshal(appearances, dst); err != nil {
			return fmt.Errorf("job: decode appearances: %w", err)
		}
	}
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, dst); err != nil {
			return fmt.Errorf("job: decode attributes: %w", err)
		}
	}
	return nil
}

// Validate checks the invariants of the union. It is called once at
// submission; downstream code may assume a validated Params.
func (p *Params) Validate() error {
	if len(p.Sources) == 0 {
		return fmt.Errorf("job: at least one source camera is required")
	}
	if p.TimeRange.From.IsZero() || p.TimeRange.To.IsZero() {
		return fmt.Errorf("job: time range must specify time_from and time_to")
	}
	if !p.TimeRange.To.After(p.TimeRange.From) {
		return fmt.Errorf("job: time_to must be after time_from")
	}

	set := 0
	if p.Vehicle != nil {
		set++
	}
	if p.Person != nil {
		set++
	}
	if p.Mobility != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("job: exactly one target query must be set, got %d", set)
	}

	switch p.Target {
	case TargetVehicle:
		if p.Vehicle == nil {
			return fmt.Errorf("job: target %q requires a vehicle query", p.Target)
		}
	case TargetPerson:
		if p.Person == nil {
			return fmt.Errorf("job: target %q requires a person query", p.Target)
		}
	case TargetMobility:
		if p.Mobility == nil {
			return fmt.Errorf("job: target %q requires a mobility query", p.Target)
		}
	default:
		return fmt.Errorf("job: unknown target type %q", p.Target)
	}

	switch tier := p.Tier(); tier {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
	default:
		return fmt.Errorf("job: unknown confidence tier %q", tier)
	}

	return nil
}

// Tier returns the confidence tier of the active query variant.
func (p *Params) Tier() Confidence {
	switch {
	case p.Vehicle != nil:
		return p.Vehicle.Confidence
	case p.Person != nil:
		return p.Person.Confidence
	case p.Mobility != nil:
		return p.Mobility.Confidence
	default:
		return ConfidenceMedium
	}
}

// AppearanceFilters returns the requested appearance labels keyed by
// classifier head name. Heads the job does not constrain are absent and
// contribute a match score of 1.
func (p *Params) AppearanceFilters() map[string][]string {
	out := make(map[string][]string)
	switch {
	case p.Vehicle != nil:
		putFilter(out, "vehicle_type", p.Vehicle.Types)
		putFilter(out, "vehicle_color", p.Vehicle.Colors)
	case p.Person != nil:
		putFilter(out, "gender", p.Person.Genders)
		putFilter(out, "age", p.Person.Ages)
	case p.Mobility != nil:
		putFilter(out, "vehicle_type", p.Mobility.Types)
		putFilter(out, "vehicle_color", p.Mobility.Colors)
	}
	return out
}

// AttributeFilters returns the requested attribute labels keyed by
// classifier head name. Only person searches constrain attributes; for
// vehicle and mobility the attributes-match score is fixed to 1.
func (p *Params) AttributeFilters() map[string][]string {
	out := make(map[string][]string)
	if p.Person != nil {
		putFilter(out, "clothing_upper", p.Person.Upper.labels())
		putFilter(out, "clothing_lower", p.Person.Lower.labels())
	}
	return out
}

func putFilter(m map[string][]string, head string, labels []string) {
	if len(labels) > 0 {
		m[head] = labels
	}
}
