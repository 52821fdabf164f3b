package persistence

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

// ExportCSV writes records to w in a flat CSV form (session_id, role,
// content, timestamp), suitable for the operator-facing export endpoint.
func ExportCSV(w io.Writer, records []TurnRecord) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"session_id", "role", "content", "timestamp"}); err != nil {
		return fmt.Errorf("persistence: write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{r.SessionID, r.Role, r.Content, r.Timestamp.Format(time.RFC3339)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("persistence: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
