package store

import (
	"context"
	"fmt"
	"sort"
)

// SetCandidateMetadata upserts one key-value pair for a candidate.
func (s *Store) SetCandidateMetadata(ctx context.Context, candidate, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO candidate_metadata (candidate, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(candidate, key) DO UPDATE SET value = ?`,
		candidate, key, value, value,
	)
	return err
}

// GetCandidateMetadata returns all metadata of a candidate. An unknown
// candidate yields an empty map.
func (s *Store) GetCandidateMetadata(ctx context.Context, candidate string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM candidate_metadata WHERE candidate = ?`, candidate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	md := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		md[k] = v
	}
	return md, rows.Err()
}

// AllCandidateMetadata returns the metadata of every candidate.
func (s *Store) AllCandidateMetadata(ctx context.Context) (map[string]map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT candidate, key, value FROM candidate_metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all := make(map[string]map[string]string)
	for rows.Next() {
		var c, k, v string
		if err := rows.Scan(&c, &k, &v); err != nil {
			return nil, err
		}
		if all[c] == nil {
			all[c] = make(map[string]string)
		}
		all[c][k] = v
	}
	return all, rows.Err()
}

// ImportCandidateMetadata upserts metadata for many candidates in one
// transaction and returns the number of candidates touched.
func (s *Store) ImportCandidateMetadata(ctx context.Context, md map[string]map[string]string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	candidates := make([]string, 0, len(md))
	for c := range md {
		candidates = append(candidates, c)
	}
	sort.Strings(candidates)
	for _, c := range candidates {
		for k, v := range md[c] {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO candidate_metadata (candidate, key, value) VALUES (?, ?, ?)
				 ON CONFLICT(candidate, key) DO UPDATE SET value = ?`,
				c, k, v, v,
			)
			if err != nil {
				return 0, fmt.Errorf("candidate %s: set %s: %w", c, k, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(candidates), nil
}
