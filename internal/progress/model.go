package progress

import (
	"context"
	"time"
)

// Status lifecycle state of a user's training, see DeriveStatus
type Status string

// the only statuses ever persisted
const (
	StatusNotStarted   Status = "not_started"
	StatusInProgress   Status = "in_progress"
	StatusReadyForQuiz Status = "ready_for_quiz"
	StatusCompleted    Status = "completed"
)

// EventTrainingCompleted event type sent after every accepted quiz submission
const EventTrainingCompleted = "training_completed"

// Assignment links a user to a training
type Assignment struct {
	UserID      string
	TrainingID  string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ContentItem a learning unit inside a training
type ContentItem struct {
	ID         string
	TrainingID string
	Position   int
}

// ContentProgress records that a user consumed a content item
type ContentProgress struct {
	ID            string
	UserID        string
	ContentItemID string
	CompletedAt   time.Time
}

// QuizQuestion a question of the training quiz, CorrectAnswer is nil when no key is recorded
type QuizQuestion struct {
	ID            string
	TrainingID    string
	Position      int
	CorrectAnswer *string
}

// TrainingProgress authoritative progress state of a (user, training) pair
type TrainingProgress struct {
	ID              string
	UserID          string
	TrainingID      string
	ProgressPercent int
	Status          Status
	Score           *int
	Answers         map[string]string
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// Snapshot result of a progress recomputation
type Snapshot struct {
	ProgressPercent int    `json:"progress_percent"`
	Status          Status `json:"status"`
}

// ProgressView read model returned by GetProgressSnapshot
type ProgressView struct {
	TrainingID      string     `json:"training_id"`
	ProgressPercent int        `json:"progress_percent"`
	Status          Status     `json:"status"`
	Score           *int       `json:"score"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// TrainingOverview one row of a user's dashboard
type TrainingOverview struct {
	TrainingID      string     `json:"training_id"`
	Title           string     `json:"title"`
	ProgressPercent int        `json:"progress_percent"`
	Status          Status     `json:"status"`
	Score           *int       `json:"score"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// ContentStatus completion state of a single content item for a user
type ContentStatus struct {
	ContentItemID string     `json:"content_item_id"`
	Position      int        `json:"position"`
	Completed     bool       `json:"completed"`
	CompletedAt   *time.Time `json:"completed_at"`
}

// CompletionResult result of a quiz submission
type CompletionResult struct {
	Score       int       `json:"score"`
	Status      Status    `json:"status"`
	CompletedAt time.Time `json:"completed_at"`
}

// Submission quiz answers keyed by question id
type Submission struct {
	Answers map[string]string `json:"answers" validate:"required,min=1,dive,keys,required,endkeys"`
}

// Reader read side of the progress store. Get methods return nil and no error when nothing matches.
type Reader interface {
	GetAssignment(ctx context.Context, userID, trainingID string) (*Assignment, error)
	GetTrainingProgress(ctx context.Context, userID, trainingID string) (*TrainingProgress, error)
	ListUserProgress(ctx context.Context, userID string) ([]*TrainingOverview, error)
	ListContentProgress(ctx context.Context, userID, trainingID string) ([]*ContentStatus, error)
}

// TxRepository store operations available inside a transaction
type TxRepository interface {
	Reader

	// LockAssignment loads the assignment and holds a write lock on it until the transaction ends
	LockAssignment(ctx context.Context, userID, trainingID string) (*Assignment, error)
	GetContentItem(ctx context.Context, contentItemID string) (*ContentItem, error)
	// InsertContentProgress inserts the row unless it exists, reports whether a row was created
	InsertContentProgress(ctx context.Context, record *ContentProgress) (bool, error)
	MarkAssignmentStarted(ctx context.Context, userID, trainingID string, at time.Time) error
	// MarkAssignmentCompleted only sets completed_at when it is still unset
	MarkAssignmentCompleted(ctx context.Context, userID, trainingID string, at time.Time) error
	CountContent(ctx context.Context, userID, trainingID string) (completed int, total int, err error)
	ListQuizQuestions(ctx context.Context, trainingID string) ([]*QuizQuestion, error)
	// SaveProgress upserts percent, status and updated_at
	SaveProgress(ctx context.Context, p *TrainingProgress) error
	// SaveCompletion upserts every column of the record
	SaveCompletion(ctx context.Context, p *TrainingProgress) error
}

// Repository progress store
type Repository interface {
	Reader
	// InTx runs fn in a single transaction, committed only when fn returns nil
	InTx(ctx context.Context, fn func(tx TxRepository) error) error
}

// Notifier completion event sink
type Notifier interface {
	Notify(ctx context.Context, userID string, eventType string, payload interface{}) error
}

// UseCase the progress and completion engine
type UseCase interface {
	ValidateAssignment(ctx context.Context, userID, trainingID string) (*Assignment, error)
	MarkContentCompleted(ctx context.Context, userID, trainingID, contentItemID string) (*Snapshot, error)
	CompleteTraining(ctx context.Context, userID, trainingID string, answers map[string]string) (*CompletionResult, error)
	GetProgressSnapshot(ctx context.Context, userID, trainingID string) (*ProgressView, error)
	ListUserProgress(ctx context.Context, userID string) ([]*TrainingOverview, error)
	ListContentProgress(ctx context.Context, userID, trainingID string) ([]*ContentStatus, error)
}
