package graph

import (
	"context"
	"fmt"
)

// Stats returns node counts for the labels the service owns or reads.
func (g *GraphStore) Stats(ctx context.Context) (ReferenceStats, error) {
	var stats ReferenceStats
	err := g.guard(ctx, func(ctx context.Context) error {
		sess := g.opener.OpenSession(ctx)
		defer sess.Close(ctx)

		cypher := `MATCH (n)
		           WHERE n:Vehicle OR n:Position OR n:Fitment OR n:Product OR n:ModelMapping
		           RETURN labels(n)[0] AS type, count(*) AS count`
		result, err := sess.Run(ctx, cypher, nil)
		if err != nil {
			return err
		}
		for result.Next(ctx) {
			rec := result.Record()
			typ, _ := rec.Get("type")
			cnt, _ := rec.Get("count")
			c, _ := cnt.(int64)
			switch typ {
			case "Vehicle":
				stats.Vehicles = c
			case "Position":
				stats.Positions = c
			case "Fitment":
				stats.Fitments = c
			case "Product":
				stats.Products = c
			case "ModelMapping":
				stats.Mappings = c
			}
		}
		return nil
	})
	if err != nil {
		return ReferenceStats{}, fmt.Errorf("graph: stats: %w", err)
	}
	return stats, nil
}
