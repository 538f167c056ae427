package store

import "fmt"

// RecordHealthEvent appends an entry to the operational log used for
// scheduler reconciliation notices and budget-override audit trails.
func (s *Store) RecordHealthEvent(eventType, details string) error {
	_, err := s.db.Exec(`INSERT INTO health_events (event_type, details) VALUES (?, ?)`, eventType, details)
	if err != nil {
		return fmt.Errorf("store: record health event: %w", err)
	}
	return nil
}

// RecentHealthEvents returns the most recent events of a given type,
// newest first.
func (s *Store) RecentHealthEvents(eventType string, limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT details FROM health_events WHERE event_type = ? ORDER BY created_at DESC LIMIT ?`,
		eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent health events: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
