// Package graph provides the Neo4j reference schema lookups (vehicles and
// positions) and the product fitment associations.
package graph

// Position is one row of the position reference schema.
type Position struct {
	ID   int    `json:"position_id"`
	Name string `json:"name"`
}

// Association links a product to a resolved fitment.
type Association struct {
	ProductID         string `json:"product_id"`
	FitmentID         string `json:"fitment_id"`
	VehicleID         int    `json:"vcdb_vehicle_id"`
	PositionIDs       []int  `json:"pcdb_position_ids"`
	PartTerminologyID int    `json:"part_terminology_id"`
	// SourceText is the application text the fitment was resolved from.
	SourceText string `json:"source_text,omitempty"`
}

// ReferenceStats counts the nodes the service reads and writes.
type ReferenceStats struct {
	Vehicles  int64 `json:"vehicles"`
	Positions int64 `json:"positions"`
	Fitments  int64 `json:"fitments"`
	Products  int64 `json:"products"`
	Mappings  int64 `json:"mappings"`
}
