package tracker

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	ts "github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// SQLite tracks per-episode metrics and saves them into a SQLite
// database, one row per finished episode. The database can be queried
// offline to compare runs without re-parsing experiment output.
type SQLite struct {
	path string

	currentReturn float64
	episodes      []episodeRow
}

type episodeRow struct {
	episode int
	ret     float64
	length  int
}

// NewSQLite creates and returns a new SQLite tracker that saves to the
// database file at path.
func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

// Track accumulates the reward of a timestep, caching an episode row
// when the episode ends.
func (s *SQLite) Track(step ts.TimeStep) {
	if step.First() {
		s.currentReturn = 0.0
		return
	}

	s.currentReturn += step.Reward
	if step.Last() {
		s.episodes = append(s.episodes, episodeRow{
			episode: len(s.episodes),
			ret:     s.currentReturn,
			length:  step.Number,
		})
		s.currentReturn = 0.0
	}
}

// Save writes all cached episode rows into the database
func (s *SQLite) Save() error {
	ctx := context.Background()

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("save: could not open database: %v", err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS episodes (
			episode INTEGER PRIMARY KEY,
			return REAL NOT NULL,
			length INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("save: could not create table: %v", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save: could not begin transaction: %v", err)
	}
	for _, row := range s.episodes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO episodes (episode, return, length)
			VALUES (?, ?, ?)
			ON CONFLICT(episode) DO UPDATE SET
				return = excluded.return,
				length = excluded.length
		`, row.episode, row.ret, row.length)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("save: could not insert episode %v: %v",
				row.episode, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save: could not commit: %v", err)
	}

	return nil
}
