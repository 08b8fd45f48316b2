package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pagespin/internal/logging"
	"pagespin/internal/types"

	"github.com/google/uuid"
)

// Append writes a new version and returns it. The write is atomic and
// never overwrites: the log only grows. Empty content is rejected so a
// failed generation can never leave a hollow record, and a non-empty
// parentID must reference a version already in the log.
func (s *Store) Append(ctx context.Context, content, parentID string, editor Editor) (Version, error) {
	if strings.TrimSpace(content) == "" {
		return Version{}, &types.StoreError{Op: "append", Err: fmt.Errorf("empty content")}
	}

	collID, err := s.resolve(ctx)
	if err != nil {
		return Version{}, err
	}

	if parentID != "" {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM versions WHERE id = ? AND collection_id = ?`,
			parentID, collID).Scan(&exists)
		if err == sql.ErrNoRows {
			return Version{}, &types.StoreError{Op: "append", Err: fmt.Errorf("parent %s not in log", parentID)}
		}
		if err != nil {
			return Version{}, &types.StoreError{Op: "append", Err: err}
		}
	}

	v := Version{
		ID:        uuid.NewString(),
		Content:   content,
		ParentID:  parentID,
		Editor:    editor,
		Timestamp: time.Now(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO versions (id, collection_id, content, parent_id, editor, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, collID, v.Content, nullable(v.ParentID), string(v.Editor), v.Timestamp.UnixMilli())
	if err != nil {
		return Version{}, &types.StoreError{Op: "append", Err: err}
	}

	logging.Store("appended version %s (editor=%s, parent=%q, %d bytes)",
		v.ID, v.Editor, v.ParentID, len(v.Content))
	return v, nil
}

// List returns every version in the collection sorted by timestamp
// ascending; insertion order breaks ties so the projection is stable.
func (s *Store) List(ctx context.Context) ([]Version, error) {
	collID, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, parent_id, editor, timestamp
		 FROM versions WHERE collection_id = ?
		 ORDER BY timestamp ASC, seq ASC`, collID)
	if err != nil {
		return nil, &types.StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, &types.StoreError{Op: "list", Err: err}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: "list", Err: err}
	}
	return out, nil
}

// Get returns the version with the given id.
func (s *Store) Get(ctx context.Context, id string) (Version, error) {
	collID, err := s.resolve(ctx)
	if err != nil {
		return Version{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, parent_id, editor, timestamp
		 FROM versions WHERE id = ? AND collection_id = ?`, id, collID)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return Version{}, &types.StoreError{Op: "get", NotFound: true}
	}
	if err != nil {
		return Version{}, &types.StoreError{Op: "get", Err: err}
	}
	return v, nil
}

// Promote re-appends the target version's content as a new version whose
// parent is the target. Restore is additive: history is never rewound.
func (s *Store) Promote(ctx context.Context, id string) (Version, error) {
	target, err := s.Get(ctx, id)
	if err != nil {
		return Version{}, err
	}
	v, err := s.Append(ctx, target.Content, target.ID, target.Editor)
	if err != nil {
		return Version{}, err
	}
	logging.Store("promoted version %s -> %s", id, v.ID)
	return v, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(r rowScanner) (Version, error) {
	var (
		v      Version
		parent sql.NullString
		editor string
		ts     int64
	)
	if err := r.Scan(&v.ID, &v.Content, &parent, &editor, &ts); err != nil {
		return Version{}, err
	}
	v.ParentID = parent.String
	v.Editor = Editor(editor)
	v.Timestamp = time.UnixMilli(ts)
	return v, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
