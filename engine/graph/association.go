package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sssolid/crown-nexus/pkg/repo"
)

const associateCypher = `UNWIND $rows AS row
	MERGE (p:Product {id: row.productID})
	MERGE (f:Fitment {id: row.fitmentID})
	  ON CREATE SET f.vehicle_id = row.vehicleID,
	                f.position_ids = row.positionIDs,
	                f.part_terminology_id = row.partTerminologyID
	MERGE (p)-[r:HAS_FITMENT]->(f)
	  ON CREATE SET r.created_at = datetime(), r.source_text = row.sourceText
	WITH f, row
	OPTIONAL MATCH (v:Vehicle {vehicle_id: row.vehicleID})
	FOREACH (_ IN CASE WHEN v IS NULL THEN [] ELSE [1] END | MERGE (f)-[:FOR_VEHICLE]->(v))`

// Associate links a product to a fitment. Repeating the call leaves exactly
// one link.
func (g *GraphStore) Associate(ctx context.Context, a Association) error {
	return g.AssociateAll(ctx, []Association{a})
}

// AssociateAll links a batch of fitments in one transaction.
func (g *GraphStore) AssociateAll(ctx context.Context, as []Association) error {
	if len(as) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(as))
	for i, a := range as {
		pos := make([]int64, len(a.PositionIDs))
		for j, p := range a.PositionIDs {
			pos[j] = int64(p)
		}
		rows[i] = map[string]any{
			"productID":         a.ProductID,
			"fitmentID":         a.FitmentID,
			"vehicleID":         int64(a.VehicleID),
			"positionIDs":       pos,
			"partTerminologyID": int64(a.PartTerminologyID),
			"sourceText":        a.SourceText,
		}
	}

	err := g.guard(ctx, func(ctx context.Context) error {
		sess := g.opener.OpenSession(ctx)
		defer sess.Close(ctx)

		_, err := sess.ExecuteWrite(ctx, func(tx repo.CypherRunner) (any, error) {
			_, err := tx.Run(ctx, associateCypher, map[string]any{"rows": rows})
			return nil, err
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("graph: associate: %w", err)
	}
	return nil
}

// ListAssociations returns the fitments linked to a product, ordered by
// fitment id.
func (g *GraphStore) ListAssociations(ctx context.Context, productID string) ([]Association, error) {
	out := []Association{}
	err := g.guard(ctx, func(ctx context.Context) error {
		sess := g.opener.OpenSession(ctx)
		defer sess.Close(ctx)

		cypher := `MATCH (:Product {id: $productID})-[r:HAS_FITMENT]->(f:Fitment)
		           RETURN f, r.source_text AS source ORDER BY f.id`
		result, err := sess.Run(ctx, cypher, map[string]any{"productID": productID})
		if err != nil {
			return err
		}
		for result.Next(ctx) {
			rec := result.Record()
			props, err := nodeProps(rec, "f")
			if err != nil {
				return err
			}
			source, _, _ := neo4j.GetRecordValue[string](rec, "source")
			out = append(out, Association{
				ProductID:         productID,
				FitmentID:         strProp(props, "id"),
				VehicleID:         intProp(props, "vehicle_id"),
				PositionIDs:       intsProp(props, "position_ids"),
				PartTerminologyID: intProp(props, "part_terminology_id"),
				SourceText:        source,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: list associations: %w", err)
	}
	return out, nil
}

// Remove unlinks a fitment from a product. It reports whether a link existed;
// removing a missing link is not an error.
func (g *GraphStore) Remove(ctx context.Context, fitmentID, productID string) (bool, error) {
	var removed bool
	err := g.guard(ctx, func(ctx context.Context) error {
		sess := g.opener.OpenSession(ctx)
		defer sess.Close(ctx)

		cypher := `OPTIONAL MATCH (:Product {id: $productID})-[r:HAS_FITMENT]->(:Fitment {id: $fitmentID})
		           DELETE r
		           RETURN count(r) AS removed`
		result, err := sess.Run(ctx, cypher, map[string]any{"productID": productID, "fitmentID": fitmentID})
		if err != nil {
			return err
		}
		if !result.Next(ctx) {
			return nil
		}
		n, _, err := neo4j.GetRecordValue[int64](result.Record(), "removed")
		if err != nil {
			return err
		}
		removed = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("graph: remove association: %w", err)
	}
	return removed, nil
}
