package graph

import (
	"context"
	"fmt"

	"github.com/sssolid/crown-nexus/engine/domain"
	"github.com/sssolid/crown-nexus/pkg/repo"
)

// ReferenceFixture is a small reference data set for development databases
// and integration tests.
type ReferenceFixture struct {
	Vehicles  []domain.VehicleRow `json:"vehicles"`
	Positions []Position          `json:"positions"`
}

// SeedReference merges vehicle and position rows keyed by their ids in a
// single transaction.
func (g *GraphStore) SeedReference(ctx context.Context, fx ReferenceFixture) error {
	vehicles := make([]map[string]any, len(fx.Vehicles))
	for i, v := range fx.Vehicles {
		vehicles[i] = map[string]any{
			"vehicle_id": int64(v.ID),
			"year":       int64(v.Year),
			"make":       v.Make,
			"model":      v.Model,
			"submodel":   v.Submodel,
			"region":     v.Region,
		}
	}
	positions := make([]map[string]any, len(fx.Positions))
	for i, p := range fx.Positions {
		positions[i] = map[string]any{
			"position_id": int64(p.ID),
			"name":        p.Name,
			"name_key":    positionKey(p.Name),
		}
	}

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx repo.CypherRunner) (any, error) {
		if len(vehicles) > 0 {
			cypher := `UNWIND $rows AS row
			           MERGE (v:Vehicle {vehicle_id: row.vehicle_id})
			           SET v += row`
			if _, err := tx.Run(ctx, cypher, map[string]any{"rows": vehicles}); err != nil {
				return nil, err
			}
		}
		if len(positions) > 0 {
			cypher := `UNWIND $rows AS row
			           MERGE (p:Position {position_id: row.position_id})
			           SET p.name = row.name, p.name_key = row.name_key`
			if _, err := tx.Run(ctx, cypher, map[string]any{"rows": positions}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: seed reference: %w", err)
	}
	return nil
}
