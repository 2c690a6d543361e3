package mapping

import (
	"fmt"
	"strings"
)

const targetSep = "|"

// formatTarget packs the canonical identity into the stored target property.
// Validation guarantees none of the parts contains the separator.
func formatTarget(mk, vehicleCode, model string) string {
	return mk + targetSep + vehicleCode + targetSep + model
}

// parseTarget reverses formatTarget. Parts are returned verbatim.
func parseTarget(target string) (mk, vehicleCode, model string, err error) {
	parts := strings.Split(target, targetSep)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed target %q: want make|vehicleCode|model", target)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return "", "", "", fmt.Errorf("malformed target %q: empty component", target)
		}
	}
	return parts[0], parts[1], parts[2], nil
}
