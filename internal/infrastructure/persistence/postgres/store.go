package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/internal/domain/student"
	"github.com/patudom/cds-app/pkg/docdiff"
)

// Store implements persistence.Store on a Connection.
type Store struct {
	conn *Connection
}

// NewStore wraps conn. Run NewMigrator(conn).Migrate first.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

func (s *Store) Ping(ctx context.Context) error { return s.conn.Ping(ctx) }

func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

// Connection exposes the pool for health reporting.
func (s *Store) Connection() *Connection { return s.conn }

func nullable(id int) *int {
	if id == 0 {
		return nil
	}
	return &id
}

// ─────────────────────────────────────────────────────────────────────────────
// accounts
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) CreateStudent(ctx context.Context, st *student.Student, classCode string) error {
	q, err := s.conn.querier()
	if err != nil {
		return err
	}
	if classCode != "" {
		var classID int
		err := q.QueryRow(ctx, `SELECT id FROM classes WHERE code = $1`, classCode).Scan(&classID)
		if IsNoRows(err) {
			return student.ErrClassNotFound
		}
		if err != nil {
			return fmt.Errorf("find class: %w", err)
		}
		st.ClassID = classID
	}

	err = q.QueryRow(ctx, `
		INSERT INTO students (username, email, institution, age, gender, class_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		st.Username, st.Email, st.Institution, st.Age, st.Gender, nullable(st.ClassID), st.CreatedAt,
	).Scan(&st.ID)
	if IsUniqueViolation(err) {
		return student.ErrStudentAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

const studentColumns = `id, username, email, institution, age, gender, COALESCE(class_id, 0), created_at`

func scanStudent(row pgx.Row) (*student.Student, error) {
	var st student.Student
	err := row.Scan(&st.ID, &st.Username, &st.Email, &st.Institution, &st.Age, &st.Gender, &st.ClassID, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) StudentByUsername(ctx context.Context, username string) (*student.Student, error) {
	return s.oneStudent(ctx, `SELECT `+studentColumns+` FROM students WHERE username = $1`, username)
}

func (s *Store) StudentByID(ctx context.Context, id int) (*student.Student, error) {
	return s.oneStudent(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
}

func (s *Store) oneStudent(ctx context.Context, sql string, arg any) (*student.Student, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, err
	}
	st, err := scanStudent(q.QueryRow(ctx, sql, arg))
	if IsNoRows(err) {
		return nil, student.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	return st, nil
}

func (s *Store) CreateEducator(ctx context.Context, e *student.Educator) error {
	q, err := s.conn.querier()
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx, `INSERT INTO educators (username, email) VALUES ($1, $2) RETURNING id`, e.Username, e.Email).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert educator: %w", err)
	}
	return nil
}

func (s *Store) EducatorByUsername(ctx context.Context, username string) (*student.Educator, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, err
	}
	var e student.Educator
	err = q.QueryRow(ctx, `SELECT id, username, email FROM educators WHERE username = $1`, username).
		Scan(&e.ID, &e.Username, &e.Email)
	if IsNoRows(err) {
		return nil, student.ErrEducatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get educator: %w", err)
	}
	return &e, nil
}

func (s *Store) CreateClass(ctx context.Context, c *student.Class) error {
	q, err := s.conn.querier()
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx, `
		INSERT INTO classes (code, name, educator_id, story_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		c.Code, c.Name, c.EducatorID, c.StoryName, c.CreatedAt,
	).Scan(&c.ID)
	if IsUniqueViolation(err) {
		return student.ErrClassAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert class: %w", err)
	}
	return nil
}

func (s *Store) ClassForStudentStory(ctx context.Context, studentID int, storyName string) (*student.Class, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, err
	}
	var c student.Class
	err = q.QueryRow(ctx, `
		SELECT c.id, c.code, c.name, c.educator_id, c.story_name, c.created_at
		FROM classes c JOIN students s ON s.class_id = c.id
		WHERE s.id = $1 AND c.story_name = $2`,
		studentID, storyName,
	).Scan(&c.ID, &c.Code, &c.Name, &c.EducatorID, &c.StoryName, &c.CreatedAt)
	if IsNoRows(err) {
		return nil, student.ErrClassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get class: %w", err)
	}
	return &c, nil
}

func classExists(ctx context.Context, q Querier, classID int) error {
	var one int
	err := q.QueryRow(ctx, `SELECT 1 FROM classes WHERE id = $1`, classID).Scan(&one)
	if IsNoRows(err) {
		return student.ErrClassNotFound
	}
	return err
}

func (s *Store) ClassSize(ctx context.Context, classID int) (int, error) {
	q, err := s.conn.querier()
	if err != nil {
		return 0, err
	}
	if err := classExists(ctx, q, classID); err != nil {
		return 0, err
	}
	var n int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM students WHERE class_id = $1`, classID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return n, nil
}

func (s *Store) ClassStudents(ctx context.Context, classID int) ([]*student.Student, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, err
	}
	if err := classExists(ctx, q, classID); err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `SELECT `+studentColumns+` FROM students WHERE class_id = $1 ORDER BY id`, classID)
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

func readDoc(ctx context.Context, q Querier, sql string, args ...any) (docdiff.Document, error) {
	var doc docdiff.Document
	err := q.QueryRow(ctx, sql, args...).Scan(&doc)
	if IsNoRows(err) {
		return nil, story.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = docdiff.Document{}
	}
	return doc, nil
}

func (s *Store) StoryState(ctx context.Context, studentID int, storyName string) (docdiff.Document, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, err
	}
	return readDoc(ctx, q, `SELECT state FROM story_states WHERE student_id = $1 AND story_name = $2`, studentID, storyName)
}

func (s *Store) SaveStoryState(ctx context.Context, studentID int, storyName string, state docdiff.Document) error {
	q, err := s.conn.querier()
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO story_states (student_id, story_name, state) VALUES ($1, $2, $3)
		ON CONFLICT (student_id, story_name) DO UPDATE SET state = EXCLUDED.state`,
		studentID, storyName, state)
	return err
}

// PatchStoryState locks the row, merges patch and writes the result back.
func (s *Store) PatchStoryState(ctx context.Context, studentID int, storyName string, patch docdiff.Document) (docdiff.Document, error) {
	var merged docdiff.Document
	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO story_states (student_id, story_name) VALUES ($1, $2)
			ON CONFLICT (student_id, story_name) DO NOTHING`, studentID, storyName)
		if err != nil {
			return err
		}
		current, err := readDoc(ctx, tx, `
			SELECT state FROM story_states WHERE student_id = $1 AND story_name = $2 FOR UPDATE`,
			studentID, storyName)
		if err != nil {
			return err
		}
		merged = docdiff.Apply(current, patch)
		_, err = tx.Exec(ctx, `UPDATE story_states SET state = $3 WHERE student_id = $1 AND story_name = $2`,
			studentID, storyName, merged)
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *Store) StageState(ctx context.Context, studentID int, storyName, stageName string) (docdiff.Document, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, err
	}
	return readDoc(ctx, q, `
		SELECT state FROM stage_states WHERE student_id = $1 AND story_name = $2 AND stage_name = $3`,
		studentID, storyName, stageName)
}

func (s *Store) SaveStageState(ctx context.Context, studentID int, storyName, stageName string, state docdiff.Document) error {
	q, err := s.conn.querier()
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO stage_states (student_id, story_name, stage_name, state) VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id, story_name, stage_name) DO UPDATE SET state = EXCLUDED.state`,
		studentID, storyName, stageName, state)
	return err
}

func (s *Store) DeleteStageState(ctx context.Context, studentID int, storyName, stageName string) (bool, error) {
	q, err := s.conn.querier()
	if err != nil {
		return false, err
	}
	tag, err := q.Exec(ctx, `
		DELETE FROM stage_states WHERE student_id = $1 AND story_name = $2 AND stage_name = $3`,
		studentID, storyName, stageName)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) StageStates(ctx context.Context, studentID int) (map[string]docdiff.Document, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `SELECT stage_name, state FROM stage_states WHERE student_id = $1`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]docdiff.Document)
	for rows.Next() {
		var name string
		var doc docdiff.Document
		if err := rows.Scan(&name, &doc); err != nil {
			return nil, err
		}
		out[name] = doc
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// measurements
// ─────────────────────────────────────────────────────────────────────────────

func collectDocs(rows pgx.Rows) ([]docdiff.Document, error) {
	defer rows.Close()
	out := []docdiff.Document{}
	for rows.Next() {
		var doc docdiff.Document
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) Measurements(ctx context.Context, studentID int, kind story.MeasurementKind) ([]docdiff.Document, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `
		SELECT data FROM measurements WHERE student_id = $1 AND kind = $2 ORDER BY position`,
		studentID, string(kind))
	if err != nil {
		return nil, err
	}
	return collectDocs(rows)
}

func (s *Store) ReplaceMeasurements(ctx context.Context, studentID int, kind story.MeasurementKind, m []docdiff.Document) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM measurements WHERE student_id = $1 AND kind = $2`, studentID, string(kind)); err != nil {
			return fmt.Errorf("clear measurements: %w", err)
		}
		if len(m) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, doc := range m {
			batch.Queue(`INSERT INTO measurements (student_id, kind, position, data) VALUES ($1, $2, $3, $4)`,
				studentID, string(kind), i, doc)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for range m {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("insert measurement: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) ClassMeasurements(ctx context.Context, classID int) ([]docdiff.Document, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, err
	}
	if err := classExists(ctx, q, classID); err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `
		SELECT m.data FROM measurements m JOIN students s ON s.id = m.student_id
		WHERE s.class_id = $1 AND m.kind = $2
		ORDER BY s.id, m.position`,
		classID, string(story.MeasurementsStudent))
	if err != nil {
		return nil, err
	}
	return collectDocs(rows)
}
