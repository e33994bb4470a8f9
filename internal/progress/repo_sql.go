package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/pot-code/training-progress/internal/infrastructure/driver"
	"github.com/pot-code/training-progress/internal/infrastructure/uuid"
)

// ProgressSQL Repository backed by postgres, mysql or sqlite.
//
// Mutations inside InTx are serialized per (user, training) by the row lock taken in LockAssignment.
type ProgressSQL struct {
	Conn driver.ITransactionalDB `dep:""`
	UUID uuid.Generator          `dep:""`
}

var (
	_ Repository   = &ProgressSQL{}
	_ TxRepository = &ProgressSQL{}
)

// NewProgressRepository ...
func NewProgressRepository(Conn driver.ITransactionalDB, UUID uuid.Generator) *ProgressSQL {
	return &ProgressSQL{
		Conn: Conn,
		UUID: UUID,
	}
}

// InTx implement Repository
func (repo *ProgressSQL) InTx(ctx context.Context, fn func(tx TxRepository) error) error {
	err := driver.WithTx(ctx, repo.Conn, nil, func(tx driver.ITransactionalDB) error {
		return fn(&ProgressSQL{Conn: tx, UUID: repo.UUID})
	})
	if err == nil || isEngineError(err) {
		return err
	}
	return newStoreError("transaction", err)
}

func isEngineError(err error) bool {
	return errors.Is(err, ErrNotAssigned) ||
		errors.Is(err, ErrContentNotInTraining) ||
		errors.Is(err, ErrInvalidScoreInput) ||
		errors.Is(err, ErrStoreUnavailable)
}

func (repo *ProgressSQL) dialect() string {
	return repo.Conn.DriverName()
}

func (repo *ProgressSQL) GetAssignment(ctx context.Context, userID, trainingID string) (*Assignment, error) {
	return repo.findAssignment(ctx, userID, trainingID, false)
}

func (repo *ProgressSQL) LockAssignment(ctx context.Context, userID, trainingID string) (*Assignment, error) {
	return repo.findAssignment(ctx, userID, trainingID, repo.dialect() != driver.DriverSQLite)
}

func (repo *ProgressSQL) findAssignment(ctx context.Context, userID, trainingID string, lock bool) (*Assignment, error) {
	query := `
SELECT
    user_id, training_id, started_at, completed_at
FROM
    assignment
WHERE
    user_id = $1 AND training_id = $2`
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := repo.Conn.QueryContext(ctx, query, userID, trainingID)
	if err != nil {
		return nil, newStoreError("find assignment", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, newStoreError("find assignment", rows.Err())
	}
	var (
		item                   = new(Assignment)
		startedAt, completedAt sql.NullTime
	)
	if err := rows.Scan(&item.UserID, &item.TrainingID, &startedAt, &completedAt); err != nil {
		return nil, newStoreError("find assignment", err)
	}
	item.StartedAt = nullTime(startedAt)
	item.CompletedAt = nullTime(completedAt)
	return item, nil
}

func (repo *ProgressSQL) GetContentItem(ctx context.Context, contentItemID string) (*ContentItem, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    id, training_id, position
FROM
    content_item
WHERE
    id = $1`, contentItemID)
	if err != nil {
		return nil, newStoreError("get content item", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, newStoreError("get content item", rows.Err())
	}
	item := new(ContentItem)
	if err := rows.Scan(&item.ID, &item.TrainingID, &item.Position); err != nil {
		return nil, newStoreError("get content item", err)
	}
	return item, nil
}

func (repo *ProgressSQL) InsertContentProgress(ctx context.Context, record *ContentProgress) (bool, error) {
	if record.ID == "" {
		id, err := repo.UUID.Generate()
		if err != nil {
			return false, err
		}
		record.ID = id
	}

	var query string
	switch repo.dialect() {
	case driver.DriverMySQL:
		query = `
INSERT INTO content_progress (id, user_id, content_item_id, completed_at)
VALUES ($1, $2, $3, $4)
ON DUPLICATE KEY UPDATE id = id`
	default:
		query = `
INSERT INTO content_progress (id, user_id, content_item_id, completed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, content_item_id) DO NOTHING`
	}
	res, err := repo.Conn.ExecContext(ctx, query, record.ID, record.UserID, record.ContentItemID, record.CompletedAt)
	if err != nil {
		return false, newStoreError("insert content progress", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, newStoreError("insert content progress", err)
	}
	return n > 0, nil
}

func (repo *ProgressSQL) MarkAssignmentStarted(ctx context.Context, userID, trainingID string, at time.Time) error {
	_, err := repo.Conn.ExecContext(ctx, `
UPDATE assignment
SET
    started_at = $1
WHERE
    user_id = $2 AND training_id = $3
        AND started_at IS NULL`, at, userID, trainingID)
	return newStoreError("mark assignment started", err)
}

func (repo *ProgressSQL) MarkAssignmentCompleted(ctx context.Context, userID, trainingID string, at time.Time) error {
	_, err := repo.Conn.ExecContext(ctx, `
UPDATE assignment
SET
    completed_at = $1
WHERE
    user_id = $2 AND training_id = $3
        AND completed_at IS NULL`, at, userID, trainingID)
	return newStoreError("mark assignment completed", err)
}

func (repo *ProgressSQL) CountContent(ctx context.Context, userID, trainingID string) (completed int, total int, err error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    COUNT(cp.id) completed, COUNT(ci.id) total
FROM
    content_item ci
        LEFT JOIN
    content_progress cp ON (cp.content_item_id = ci.id AND cp.user_id = $1)
WHERE
    ci.training_id = $2`, userID, trainingID)
	if err != nil {
		return 0, 0, newStoreError("count content", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&completed, &total); err != nil {
			return 0, 0, newStoreError("count content", err)
		}
	}
	return completed, total, newStoreError("count content", rows.Err())
}

func (repo *ProgressSQL) ListQuizQuestions(ctx context.Context, trainingID string) ([]*QuizQuestion, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    id, training_id, position, correct_answer
FROM
    quiz_question
WHERE
    training_id = $1
ORDER BY position ASC, id ASC`, trainingID)
	if err != nil {
		return nil, newStoreError("list quiz questions", err)
	}
	defer rows.Close()

	var result []*QuizQuestion
	for rows.Next() {
		var (
			item = new(QuizQuestion)
			key  sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.TrainingID, &item.Position, &key); err != nil {
			return nil, newStoreError("list quiz questions", err)
		}
		if key.Valid {
			item.CorrectAnswer = &key.String
		}
		result = append(result, item)
	}
	return result, newStoreError("list quiz questions", rows.Err())
}

func (repo *ProgressSQL) GetTrainingProgress(ctx context.Context, userID, trainingID string) (*TrainingProgress, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    id, user_id, training_id, progress_percent, status, score, answers, updated_at, completed_at
FROM
    training_progress
WHERE
    user_id = $1 AND training_id = $2`, userID, trainingID)
	if err != nil {
		return nil, newStoreError("get training progress", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, newStoreError("get training progress", rows.Err())
	}
	var (
		item        = new(TrainingProgress)
		status      string
		score       sql.NullInt64
		answers     sql.NullString
		completedAt sql.NullTime
	)
	if err := rows.Scan(&item.ID, &item.UserID, &item.TrainingID, &item.ProgressPercent, &status,
		&score, &answers, &item.UpdatedAt, &completedAt); err != nil {
		return nil, newStoreError("get training progress", err)
	}
	item.Status = Status(status)
	item.Score = nullInt(score)
	item.CompletedAt = nullTime(completedAt)
	if answers.Valid && answers.String != "" {
		if err := json.Unmarshal([]byte(answers.String), &item.Answers); err != nil {
			return nil, newStoreError("decode answers", err)
		}
	}
	return item, nil
}

func (repo *ProgressSQL) SaveProgress(ctx context.Context, p *TrainingProgress) error {
	if err := repo.ensureID(p); err != nil {
		return err
	}

	var query string
	switch repo.dialect() {
	case driver.DriverMySQL:
		query = `
INSERT INTO training_progress (id, user_id, training_id, progress_percent, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON DUPLICATE KEY UPDATE
    progress_percent = VALUES(progress_percent),
    status = VALUES(status),
    updated_at = VALUES(updated_at)`
	default:
		query = `
INSERT INTO training_progress (id, user_id, training_id, progress_percent, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, training_id) DO UPDATE SET
    progress_percent = EXCLUDED.progress_percent,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at`
	}
	_, err := repo.Conn.ExecContext(ctx, query, p.ID, p.UserID, p.TrainingID, p.ProgressPercent, string(p.Status), p.UpdatedAt)
	return newStoreError("save progress", err)
}

func (repo *ProgressSQL) SaveCompletion(ctx context.Context, p *TrainingProgress) error {
	if err := repo.ensureID(p); err != nil {
		return err
	}
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return err
	}

	var query string
	switch repo.dialect() {
	case driver.DriverMySQL:
		query = `
INSERT INTO training_progress (id, user_id, training_id, progress_percent, status, score, answers, updated_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON DUPLICATE KEY UPDATE
    progress_percent = VALUES(progress_percent),
    status = VALUES(status),
    score = VALUES(score),
    answers = VALUES(answers),
    updated_at = VALUES(updated_at),
    completed_at = VALUES(completed_at)`
	default:
		query = `
INSERT INTO training_progress (id, user_id, training_id, progress_percent, status, score, answers, updated_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id, training_id) DO UPDATE SET
    progress_percent = EXCLUDED.progress_percent,
    status = EXCLUDED.status,
    score = EXCLUDED.score,
    answers = EXCLUDED.answers,
    updated_at = EXCLUDED.updated_at,
    completed_at = EXCLUDED.completed_at`
	}
	_, err = repo.Conn.ExecContext(ctx, query, p.ID, p.UserID, p.TrainingID, p.ProgressPercent, string(p.Status),
		intOrNil(p.Score), string(answers), p.UpdatedAt, timeOrNil(p.CompletedAt))
	return newStoreError("save completion", err)
}

func (repo *ProgressSQL) ListUserProgress(ctx context.Context, userID string) ([]*TrainingOverview, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    a.training_id, t.title, tp.progress_percent, tp.score, tp.completed_at
FROM
    assignment a
        JOIN
    training t ON (t.id = a.training_id)
        LEFT JOIN
    training_progress tp ON (tp.user_id = a.user_id AND tp.training_id = a.training_id)
WHERE
    a.user_id = $1
ORDER BY t.title ASC, a.training_id ASC`, userID)
	if err != nil {
		return nil, newStoreError("list user progress", err)
	}
	defer rows.Close()

	var result []*TrainingOverview
	for rows.Next() {
		var (
			item        = new(TrainingOverview)
			percent     sql.NullInt64
			score       sql.NullInt64
			completedAt sql.NullTime
		)
		if err := rows.Scan(&item.TrainingID, &item.Title, &percent, &score, &completedAt); err != nil {
			return nil, newStoreError("list user progress", err)
		}
		item.ProgressPercent = int(percent.Int64)
		item.Score = nullInt(score)
		item.CompletedAt = nullTime(completedAt)
		result = append(result, item)
	}
	return result, newStoreError("list user progress", rows.Err())
}

func (repo *ProgressSQL) ListContentProgress(ctx context.Context, userID, trainingID string) ([]*ContentStatus, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    ci.id, ci.position, cp.completed_at
FROM
    content_item ci
        LEFT JOIN
    content_progress cp ON (cp.content_item_id = ci.id AND cp.user_id = $1)
WHERE
    ci.training_id = $2
ORDER BY ci.position ASC, ci.id ASC`, userID, trainingID)
	if err != nil {
		return nil, newStoreError("list content progress", err)
	}
	defer rows.Close()

	var result []*ContentStatus
	for rows.Next() {
		var (
			item        = new(ContentStatus)
			completedAt sql.NullTime
		)
		if err := rows.Scan(&item.ContentItemID, &item.Position, &completedAt); err != nil {
			return nil, newStoreError("list content progress", err)
		}
		item.CompletedAt = nullTime(completedAt)
		item.Completed = completedAt.Valid
		result = append(result, item)
	}
	return result, newStoreError("list content progress", rows.Err())
}

func (repo *ProgressSQL) ensureID(p *TrainingProgress) error {
	if p.ID != "" {
		return nil
	}
	id, err := repo.UUID.Generate()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func intOrNil(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func timeOrNil(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
