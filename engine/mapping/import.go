package mapping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/sssolid/crown-nexus/engine/domain"
)

// ImportResult summarizes a bulk import.
type ImportResult struct {
	ImportedCount int           `json:"imported_count"`
	Skipped       int           `json:"skipped"`
	Errors        []ImportError `json:"errors"`
	IDs           []int64       `json:"ids,omitempty"`
}

// ImportError reports why one array element was skipped.
type ImportError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// BulkImport creates one mapping per element of a JSON array. Elements are
// decoded and validated independently: bad ones are skipped and reported
// while the rest are stored. A payload that is not an array is rejected
// outright. An infrastructure error stops the import and is returned together
// with the partial result.
func (s *Neo4jStore) BulkImport(ctx context.Context, data []byte) (ImportResult, error) {
	res := ImportResult{Errors: []ImportError{}}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return res, domain.NewValidationError("body", "", fmt.Errorf("%w: import payload must be a JSON array", domain.ErrInvalidMapping))
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return res, domain.NewValidationError("body", "", fmt.Errorf("%w: %v", domain.ErrInvalidMapping, err))
	}

	for i, elem := range raw {
		var m domain.ModelMapping
		if err := json.Unmarshal(elem, &m); err != nil {
			res.skip(i, fmt.Sprintf("decode: %v", err))
			continue
		}
		m.ID = 0
		if err := domain.ValidateMapping(m); err != nil {
			res.skip(i, err.Error())
			continue
		}
		created, err := s.create(ctx, m)
		if err != nil {
			s.notify(ctx, OpImport, res.IDs...)
			return res, fmt.Errorf("mapping: import element %d: %w", i, err)
		}
		res.ImportedCount++
		res.IDs = append(res.IDs, created.ID)
	}

	s.logger.Info("mappings imported", "imported", res.ImportedCount, "skipped", res.Skipped)
	s.notify(ctx, OpImport, res.IDs...)
	return res, nil
}

func (r *ImportResult) skip(index int, msg string) {
	r.Skipped++
	r.Errors = append(r.Errors, ImportError{Index: index, Message: msg})
}
