package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sssolid/crown-nexus/engine/domain"
)

// FindVehicles returns the reference vehicles of a make and model whose year
// lies in [yearMin, yearMax]. Make and model compare case-insensitively after
// trimming. Rows come back ordered by year, then vehicle id.
func (g *GraphStore) FindVehicles(ctx context.Context, make, model string, yearMin, yearMax int) ([]domain.VehicleRow, error) {
	var rows []domain.VehicleRow
	err := g.guard(ctx, func(ctx context.Context) error {
		sess := g.opener.OpenSession(ctx)
		defer sess.Close(ctx)

		cypher := `MATCH (v:Vehicle)
		           WHERE toLower(trim(v.make)) = $make AND toLower(trim(v.model)) = $model
		             AND v.year >= $yearMin AND v.year <= $yearMax
		           RETURN v ORDER BY v.year, v.vehicle_id`
		result, err := sess.Run(ctx, cypher, map[string]any{
			"make":    strings.ToLower(strings.TrimSpace(make)),
			"model":   strings.ToLower(strings.TrimSpace(model)),
			"yearMin": int64(yearMin),
			"yearMax": int64(yearMax),
		})
		if err != nil {
			return err
		}
		for result.Next(ctx) {
			props, err := nodeProps(result.Record(), "v")
			if err != nil {
				return err
			}
			rows = append(rows, domain.VehicleRow{
				ID:       intProp(props, "vehicle_id"),
				Year:     intProp(props, "year"),
				Make:     strProp(props, "make"),
				Model:    strProp(props, "model"),
				Submodel: strProp(props, "submodel"),
				Region:   strProp(props, "region"),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: find vehicles: %w", err)
	}
	return rows, nil
}

// positionKey lower-cases a position name and collapses runs of whitespace,
// so "Front  Upper Ball Joint" and "front upper ball joint" share a key.
func positionKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// FindPosition looks up a position by its normalized name (lower-case,
// single-spaced) against the name_key written by SeedReference. When
// several rows share a name the lowest id wins.
func (g *GraphStore) FindPosition(ctx context.Context, normalized string) (int, bool, error) {
	var (
		id    int
		found bool
	)
	err := g.guard(ctx, func(ctx context.Context) error {
		sess := g.opener.OpenSession(ctx)
		defer sess.Close(ctx)

		cypher := `MATCH (p:Position)
		           WHERE p.name_key = $name
		           RETURN p.position_id AS id ORDER BY id LIMIT 1`
		result, err := sess.Run(ctx, cypher, map[string]any{"name": positionKey(normalized)})
		if err != nil {
			return err
		}
		if !result.Next(ctx) {
			return nil
		}
		v, _, err := neo4j.GetRecordValue[int64](result.Record(), "id")
		if err != nil {
			return err
		}
		id, found = int(v), true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("graph: find position: %w", err)
	}
	return id, found, nil
}
