// Package sqlite stores the state server's data in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/internal/domain/student"
	"github.com/patudom/cds-app/pkg/docdiff"
)

const schema = `
CREATE TABLE IF NOT EXISTS educators (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS classes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	educator_id INTEGER NOT NULL,
	story_name TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS students (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL DEFAULT '',
	institution TEXT NOT NULL DEFAULT '',
	age INTEGER NOT NULL DEFAULT 0,
	gender TEXT NOT NULL DEFAULT '',
	class_id INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_students_class ON students(class_id);

CREATE TABLE IF NOT EXISTS story_states (
	student_id INTEGER NOT NULL,
	story_name TEXT NOT NULL,
	state TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (student_id, story_name)
);

CREATE TABLE IF NOT EXISTS stage_states (
	student_id INTEGER NOT NULL,
	story_name TEXT NOT NULL,
	stage_name TEXT NOT NULL,
	state TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (student_id, story_name, stage_name)
);

CREATE TABLE IF NOT EXISTS measurements (
	student_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	position INTEGER NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (student_id, kind, position)
);
`

// Store implements persistence.Store on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes read-modify-write patches.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func (s *Store) stamp() string { return s.now().UTC().Format(time.RFC3339Nano) }

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

// ─────────────────────────────────────────────────────────────────────────────
// accounts
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) CreateStudent(ctx context.Context, st *student.Student, classCode string) error {
	if classCode != "" {
		var classID int
		err := s.db.QueryRowContext(ctx, `SELECT id FROM classes WHERE code = ?`, classCode).Scan(&classID)
		if errors.Is(err, sql.ErrNoRows) {
			return student.ErrClassNotFound
		}
		if err != nil {
			return fmt.Errorf("find class: %w", err)
		}
		st.ClassID = classID
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO students (username, email, institution, age, gender, class_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.Username, st.Email, st.Institution, st.Age, st.Gender, st.ClassID, st.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return student.ErrStudentAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	st.ID = int(id)
	return nil
}

const studentColumns = `id, username, email, institution, age, gender, class_id, created_at`

func scanStudent(row interface{ Scan(...any) error }) (*student.Student, error) {
	var st student.Student
	var created string
	if err := row.Scan(&st.ID, &st.Username, &st.Email, &st.Institution, &st.Age, &st.Gender, &st.ClassID, &created); err != nil {
		return nil, err
	}
	st.CreatedAt = parseTime(created)
	return &st, nil
}

func (s *Store) StudentByUsername(ctx context.Context, username string) (*student.Student, error) {
	return s.oneStudent(ctx, `SELECT `+studentColumns+` FROM students WHERE username = ?`, username)
}

func (s *Store) StudentByID(ctx context.Context, id int) (*student.Student, error) {
	return s.oneStudent(ctx, `SELECT `+studentColumns+` FROM students WHERE id = ?`, id)
}

func (s *Store) oneStudent(ctx context.Context, query string, arg any) (*student.Student, error) {
	st, err := scanStudent(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, student.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	return st, nil
}

func (s *Store) CreateEducator(ctx context.Context, e *student.Educator) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO educators (username, email) VALUES (?, ?)`, e.Username, e.Email)
	if err != nil {
		return fmt.Errorf("insert educator: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = int(id)
	return nil
}

func (s *Store) EducatorByUsername(ctx context.Context, username string) (*student.Educator, error) {
	var e student.Educator
	err := s.db.QueryRowContext(ctx, `SELECT id, username, email FROM educators WHERE username = ?`, username).
		Scan(&e.ID, &e.Username, &e.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, student.ErrEducatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get educator: %w", err)
	}
	return &e, nil
}

func (s *Store) CreateClass(ctx context.Context, c *student.Class) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO classes (code, name, educator_id, story_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.Code, c.Name, c.EducatorID, c.StoryName, c.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return student.ErrClassAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert class: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = int(id)
	return nil
}

func (s *Store) ClassForStudentStory(ctx context.Context, studentID int, storyName string) (*student.Class, error) {
	var c student.Class
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.code, c.name, c.educator_id, c.story_name, c.created_at
		 FROM classes c JOIN students s ON s.class_id = c.id
		 WHERE s.id = ? AND c.story_name = ?`,
		studentID, storyName,
	).Scan(&c.ID, &c.Code, &c.Name, &c.EducatorID, &c.StoryName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, student.ErrClassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get class: %w", err)
	}
	c.CreatedAt = parseTime(created)
	return &c, nil
}

func (s *Store) classExists(ctx context.Context, classID int) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM classes WHERE id = ?`, classID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return student.ErrClassNotFound
	}
	return err
}

func (s *Store) ClassSize(ctx context.Context, classID int) (int, error) {
	if err := s.classExists(ctx, classID); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM students WHERE class_id = ?`, classID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return n, nil
}

func (s *Store) ClassStudents(ctx context.Context, classID int) ([]*student.Student, error) {
	if err := s.classExists(ctx, classID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students WHERE class_id = ? ORDER BY id`, classID)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	out := []*student.Student{}
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// state
// ─────────────────────────────────────────────────────────────────────────────

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func readDoc(ctx context.Context, q querier, query string, args ...any) (docdiff.Document, error) {
	var raw string
	err := q.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, story.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc docdiff.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if doc == nil {
		doc = docdiff.Document{}
	}
	return doc, nil
}

func (s *Store) StoryState(ctx context.Context, studentID int, storyName string) (docdiff.Document, error) {
	return readDoc(ctx, s.db, `SELECT state FROM story_states WHERE student_id = ? AND story_name = ?`, studentID, storyName)
}

func (s *Store) SaveStoryState(ctx context.Context, studentID int, storyName string, state docdiff.Document) error {
	return s.writeStory(ctx, s.db, studentID, storyName, state)
}

func (s *Store) writeStory(ctx context.Context, q querier, studentID int, storyName string, state docdiff.Document) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO story_states (student_id, story_name, state, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (student_id, story_name) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		studentID, storyName, string(data), s.stamp(),
	)
	return err
}

func (s *Store) PatchStoryState(ctx context.Context, studentID int, storyName string, patch docdiff.Document) (docdiff.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := readDoc(ctx, tx, `SELECT state FROM story_states WHERE student_id = ? AND story_name = ?`, studentID, storyName)
	if err != nil && !errors.Is(err, story.ErrStateNotFound) {
		return nil, err
	}
	merged := docdiff.Apply(current, patch)
	if err := s.writeStory(ctx, tx, studentID, storyName, merged); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return merged, nil
}

func (s *Store) StageState(ctx context.Context, studentID int, storyName, stageName string) (docdiff.Document, error) {
	return readDoc(ctx, s.db,
		`SELECT state FROM stage_states WHERE student_id = ? AND story_name = ? AND stage_name = ?`,
		studentID, storyName, stageName)
}

func (s *Store) SaveStageState(ctx context.Context, studentID int, storyName, stageName string, state docdiff.Document) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stage_states (student_id, story_name, stage_name, state, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (student_id, story_name, stage_name) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		studentID, storyName, stageName, string(data), s.stamp(),
	)
	return err
}

func (s *Store) DeleteStageState(ctx context.Context, studentID int, storyName, stageName string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM stage_states WHERE student_id = ? AND story_name = ? AND stage_name = ?`,
		studentID, storyName, stageName)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) StageStates(ctx context.Context, studentID int) (map[string]docdiff.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage_name, state FROM stage_states WHERE student_id = ?`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]docdiff.Document)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		var doc docdiff.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode stage %q: %w", name, err)
		}
		out[name] = doc
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// measurements
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) Measurements(ctx context.Context, studentID int, kind story.MeasurementKind) ([]docdiff.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM measurements WHERE student_id = ? AND kind = ? ORDER BY position`, studentID, string(kind))
	if err != nil {
		return nil, err
	}
	return scanMeasurements(rows)
}

func scanMeasurements(rows *sql.Rows) ([]docdiff.Document, error) {
	defer rows.Close()
	out := []docdiff.Document{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc docdiff.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode measurement: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceMeasurements(ctx context.Context, studentID int, kind story.MeasurementKind, m []docdiff.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM measurements WHERE student_id = ? AND kind = ?`, studentID, string(kind)); err != nil {
		return err
	}
	for i, doc := range m {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode measurement: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO measurements (student_id, kind, position, data) VALUES (?, ?, ?, ?)`,
			studentID, string(kind), i, string(data)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ClassMeasurements(ctx context.Context, classID int) ([]docdiff.Document, error) {
	if err := s.classExists(ctx, classID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.data FROM measurements m JOIN students s ON s.id = m.student_id
		 WHERE s.class_id = ? AND m.kind = ? ORDER BY s.id, m.position`,
		classID, string(story.MeasurementsStudent))
	if err != nil {
		return nil, err
	}
	return scanMeasurements(rows)
}
