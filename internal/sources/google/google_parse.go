package google

import (
	"fmt"
	"strings"

	"cpidash/internal/core"
)

// parseValues converts a values matrix (as returned by the Sheets API)
// into a Dataset. The first row must be the header.
func parseValues(source string, values [][]interface{}) (*core.Dataset, error) {
	records := make([][]string, 0, len(values))
	for _, row := range values {
		records = append(records, toStrings(row))
	}
	return core.ParseTable(source, records)
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		if v == nil {
			continue
		}
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
