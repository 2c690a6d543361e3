// Package resolve turns the vehicle and position parts of a parsed
// application into reference-schema identifiers.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sssolid/crown-nexus/engine/domain"
	"github.com/sssolid/crown-nexus/engine/mapping"
	"github.com/sssolid/crown-nexus/pkg/vehiclenlp"
)

// Via records how a vehicle identity was obtained.
type Via int

const (
	// ViaMapping means an operator mapping matched the vehicle text.
	ViaMapping Via = iota + 1
	// ViaHeuristic means the identity was guessed from the text itself.
	ViaHeuristic
)

func (v Via) String() string {
	switch v {
	case ViaMapping:
		return "mapping"
	case ViaHeuristic:
		return "heuristic"
	default:
		return "unknown"
	}
}

// Identity is a canonical make and model.
type Identity struct {
	Make  string
	Model string
	Via   Via
	// Mapping is the winning mapping when Via is ViaMapping.
	Mapping *domain.ModelMapping
	// Ambiguous lists mappings tied with the winner.
	Ambiguous []domain.ModelMapping
}

// VehicleResolution is the outcome of a successful vehicle lookup.
type VehicleResolution struct {
	Identity Identity
	Vehicles []domain.VehicleRow
	Status   domain.Status
	Message  string
}

// MappingMatcher finds the mapping for a vehicle text.
type MappingMatcher interface {
	Match(text string) (*mapping.Match, error)
}

// VehicleFinder queries the vehicle reference schema.
type VehicleFinder interface {
	FindVehicles(ctx context.Context, make, model string, yearMin, yearMax int) ([]domain.VehicleRow, error)
}

// VehicleResolver resolves vehicle text and a year range to reference rows.
type VehicleResolver struct {
	mappings MappingMatcher
	finder   VehicleFinder
	logger   *slog.Logger
}

// NewVehicleResolver creates a VehicleResolver. A nil logger uses slog.Default.
func NewVehicleResolver(mappings MappingMatcher, finder VehicleFinder, logger *slog.Logger) *VehicleResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &VehicleResolver{mappings: mappings, finder: finder, logger: logger}
}

// Resolve returns every reference vehicle matching the application. A
// mapping match yields VALID; a heuristic guess yields WARNING. No matching
// rows is a *domain.ResolutionError of kind VEHICLE_NOT_FOUND. Any other
// error comes from the cache or the reference store.
func (r *VehicleResolver) Resolve(ctx context.Context, app domain.ParsedApplication) (VehicleResolution, error) {
	m, err := r.mappings.Match(app.VehicleText)
	if err != nil {
		return VehicleResolution{}, fmt.Errorf("resolve vehicle: %w", err)
	}
	if m != nil {
		return r.viaMapping(ctx, app, m)
	}
	return r.viaHeuristic(ctx, app)
}

func (r *VehicleResolver) viaMapping(ctx context.Context, app domain.ParsedApplication, m *mapping.Match) (VehicleResolution, error) {
	mp := m.Mapping
	id := Identity{Make: mp.Make, Model: mp.Model, Via: ViaMapping, Mapping: &mp, Ambiguous: m.Ambiguous}

	rows, err := r.finder.FindVehicles(ctx, id.Make, id.Model, app.YearFrom, app.YearTo)
	if err != nil {
		return VehicleResolution{}, fmt.Errorf("resolve vehicle: %w", err)
	}
	if len(rows) == 0 {
		return VehicleResolution{Identity: id}, &domain.ResolutionError{
			Kind: domain.KindVehicleNotFound,
			Msg: fmt.Sprintf("mapping %q (%s) gives %s %s, which has no vehicles in %s",
				mp.Pattern, mp.VehicleCode, mp.Make, mp.Model, yearSpan(app)),
		}
	}

	msg := fmt.Sprintf("matched %s %s (%s) via mapping %q", mp.Make, mp.Model, mp.VehicleCode, mp.Pattern)
	if len(m.Ambiguous) > 0 {
		ids := make([]string, len(m.Ambiguous))
		for i, a := range m.Ambiguous {
			ids[i] = fmt.Sprint(a.ID)
		}
		msg += fmt.Sprintf("; ambiguous with mappings %s", strings.Join(ids, ", "))
	}
	return VehicleResolution{Identity: id, Vehicles: rows, Status: domain.StatusValid, Message: msg}, nil
}

func (r *VehicleResolver) viaHeuristic(ctx context.Context, app domain.ParsedApplication) (VehicleResolution, error) {
	for _, g := range guesses(app.VehicleText) {
		rows, err := r.finder.FindVehicles(ctx, g.Make, g.Model, app.YearFrom, app.YearTo)
		if err != nil {
			return VehicleResolution{}, fmt.Errorf("resolve vehicle: %w", err)
		}
		if len(rows) == 0 {
			continue
		}
		r.logger.Debug("vehicle resolved without mapping", "text", app.VehicleText, "make", g.Make, "model", g.Model, "source", g.Source)
		return VehicleResolution{
			Identity: Identity{Make: g.Make, Model: g.Model, Via: ViaHeuristic},
			Vehicles: rows,
			Status:   domain.StatusWarning,
			Message:  fmt.Sprintf("no mapping for %q; guessed %s %s", app.VehicleText, g.Make, g.Model),
		}, nil
	}
	return VehicleResolution{Identity: Identity{Via: ViaHeuristic}}, &domain.ResolutionError{
		Kind: domain.KindVehicleNotFound,
		Msg:  fmt.Sprintf("no mapping for %q and no reference vehicle in %s", app.VehicleText, yearSpan(app)),
	}
}

// guesses returns the make/model splits to try, best first. The literal
// first-word split is always among them.
func guesses(text string) []vehiclenlp.Guess {
	var out []vehiclenlp.Guess
	g, ok := vehiclenlp.Split(text)
	if ok {
		out = append(out, g)
	}
	if !ok || g.Source != vehiclenlp.SourceTokens {
		if words := strings.Fields(text); len(words) >= 2 {
			literal := vehiclenlp.Guess{Make: words[0], Model: strings.Join(words[1:], " "), Source: vehiclenlp.SourceTokens}
			if !ok || !strings.EqualFold(literal.Make, g.Make) || !strings.EqualFold(literal.Model, g.Model) {
				out = append(out, literal)
			}
		}
	}
	return out
}

func yearSpan(app domain.ParsedApplication) string {
	if app.YearFrom == app.YearTo {
		return fmt.Sprint(app.YearFrom)
	}
	return fmt.Sprintf("%d-%d", app.YearFrom, app.YearTo)
}
