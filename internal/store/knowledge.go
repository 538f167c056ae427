package store

import "time"

// RecordKBArticle upserts the knowledge-base index row a research
// project's kb_create task writes on completion, so the Goal
// Generator's knowledge-gap strategy can compare configured topic
// slugs against what already exists without calling back into the
// Knowledge-base writer collaborator.
func (s *Store) RecordKBArticle(slug, path, versionTag string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO kb_articles (slug, path, version_tag, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET path = excluded.path, version_tag = excluded.version_tag, updated_at = excluded.updated_at`,
		slug, path, versionTag, now, now)
	return err
}

// ExistingKBSlugs returns every slug with a recorded article.
func (s *Store) ExistingKBSlugs() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT slug FROM kb_articles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	slugs := make(map[string]bool)
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		slugs[slug] = true
	}
	return slugs, rows.Err()
}
