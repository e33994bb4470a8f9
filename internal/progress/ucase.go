package progress

import (
	"context"
	"time"

	"github.com/pot-code/training-progress/internal/infrastructure/logging"
	"github.com/pot-code/training-progress/internal/infrastructure/validate"
	"go.elastic.co/apm"
	"go.uber.org/zap"
)

// UseCaseOption tunes engine behavior
type UseCaseOption struct {
	// RenotifyOnRetake send training_completed on every accepted submission, not only the first one
	RenotifyOnRetake bool
	// Now clock, defaults to time.Now
	Now func() time.Time
}

// UseCaseImpl ...
type UseCaseImpl struct {
	ProgressRepository Repository
	Notifier           Notifier
	Validator          validate.Validator
	renotify           bool
	now                func() time.Time
}

var _ UseCase = &UseCaseImpl{}

// NewUseCase ...
func NewUseCase(
	ProgressRepository Repository,
	Notifier Notifier,
	Validator validate.Validator,
	options ...*UseCaseOption,
) *UseCaseImpl {
	uc := &UseCaseImpl{
		ProgressRepository: ProgressRepository,
		Notifier:           Notifier,
		Validator:          Validator,
		renotify:           true,
		now:                time.Now,
	}
	if len(options) > 0 {
		option := options[0]
		uc.renotify = option.RenotifyOnRetake
		if option.Now != nil {
			uc.now = option.Now
		}
	}
	return uc
}

// ValidateAssignment returns the assignment linking user and training, or ErrNotAssigned
func (uc *UseCaseImpl) ValidateAssignment(ctx context.Context, userID, trainingID string) (*Assignment, error) {
	apmSpan, _ := apm.StartSpan(ctx, "UseCaseImpl.ValidateAssignment", "service")
	defer apmSpan.End()

	if userID == "" || trainingID == "" {
		return nil, notAssigned(userID, trainingID)
	}
	assignment, err := uc.ProgressRepository.GetAssignment(ctx, userID, trainingID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, notAssigned(userID, trainingID)
	}
	return assignment, nil
}

// MarkContentCompleted records that the user consumed a content item and returns the recomputed progress.
// Repeated calls for the same item leave the store as the first call did.
func (uc *UseCaseImpl) MarkContentCompleted(ctx context.Context, userID, trainingID, contentItemID string) (*Snapshot, error) {
	apmSpan, _ := apm.StartSpan(ctx, "UseCaseImpl.MarkContentCompleted", "service")
	defer apmSpan.End()

	if userID == "" || trainingID == "" {
		return nil, notAssigned(userID, trainingID)
	}

	var snapshot *Snapshot
	now := uc.now().UTC()
	err := uc.ProgressRepository.InTx(ctx, func(tx TxRepository) error {
		assignment, err := lockAssignment(ctx, tx, userID, trainingID)
		if err != nil {
			return err
		}

		item, err := tx.GetContentItem(ctx, contentItemID)
		if err != nil {
			return err
		}
		if item == nil || item.TrainingID != trainingID {
			return contentNotInTraining(contentItemID, trainingID)
		}

		created, err := tx.InsertContentProgress(ctx, &ContentProgress{
			UserID:        userID,
			ContentItemID: contentItemID,
			CompletedAt:   now,
		})
		if err != nil {
			return err
		}
		if created && assignment.StartedAt == nil {
			if err := tx.MarkAssignmentStarted(ctx, userID, trainingID, now); err != nil {
				return err
			}
		}

		snapshot, err = recompute(ctx, tx, userID, trainingID, now, created)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// CompleteTraining grades the quiz, stores score and answers and marks the training completed.
// Resubmission overwrites the previous result. A training without quiz questions accepts no
// submission and so cannot be completed.
func (uc *UseCaseImpl) CompleteTraining(ctx context.Context, userID, trainingID string, answers map[string]string) (*CompletionResult, error) {
	apmSpan, _ := apm.StartSpan(ctx, "UseCaseImpl.CompleteTraining", "service")
	defer apmSpan.End()

	if userID == "" || trainingID == "" {
		return nil, notAssigned(userID, trainingID)
	}

	var (
		result *CompletionResult
		first  bool
		now    = uc.now().UTC()
	)
	err := uc.ProgressRepository.InTx(ctx, func(tx TxRepository) error {
		assignment, err := lockAssignment(ctx, tx, userID, trainingID)
		if err != nil {
			return err
		}

		if errs := uc.Validator.Struct(&Submission{Answers: answers}); len(errs) > 0 {
			return &InvalidScoreInputError{Fields: errs}
		}
		questions, err := tx.ListQuizQuestions(ctx, trainingID)
		if err != nil {
			return err
		}
		if errs := CheckAnswers(questions, answers); len(errs) > 0 {
			return &InvalidScoreInputError{Fields: errs}
		}
		graded := ScoreAnswers(questions, answers)

		existing, err := tx.GetTrainingProgress(ctx, userID, trainingID)
		if err != nil {
			return err
		}
		first = existing == nil || existing.Score == nil

		completed, total, err := tx.CountContent(ctx, userID, trainingID)
		if err != nil {
			return err
		}
		percent := CalculatePercent(completed, total)
		score := graded.Score
		record := &TrainingProgress{
			UserID:          userID,
			TrainingID:      trainingID,
			ProgressPercent: percent,
			Status:          DeriveStatus(percent, true),
			Score:           &score,
			Answers:         copyAnswers(answers),
			UpdatedAt:       now,
			CompletedAt:     &now,
		}
		if existing != nil {
			record.ID = existing.ID
		}
		if err := tx.SaveCompletion(ctx, record); err != nil {
			return err
		}
		if assignment.CompletedAt == nil {
			if err := tx.MarkAssignmentCompleted(ctx, userID, trainingID, now); err != nil {
				return err
			}
		}

		result = &CompletionResult{
			Score:       score,
			Status:      record.Status,
			CompletedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if first || uc.renotify {
		uc.notify(ctx, userID, EventTrainingCompleted, map[string]interface{}{
			"training_id":  trainingID,
			"score":        result.Score,
			"completed_at": result.CompletedAt,
		})
	}
	return result, nil
}

// GetProgressSnapshot current progress of an assigned training
func (uc *UseCaseImpl) GetProgressSnapshot(ctx context.Context, userID, trainingID string) (*ProgressView, error) {
	apmSpan, _ := apm.StartSpan(ctx, "UseCaseImpl.GetProgressSnapshot", "service")
	defer apmSpan.End()

	if _, err := uc.ValidateAssignment(ctx, userID, trainingID); err != nil {
		return nil, err
	}
	p, err := uc.ProgressRepository.GetTrainingProgress(ctx, userID, trainingID)
	if err != nil {
		return nil, err
	}

	view := &ProgressView{
		TrainingID: trainingID,
		Status:     StatusNotStarted,
	}
	if p != nil {
		view.ProgressPercent = p.ProgressPercent
		view.Status = DeriveStatus(p.ProgressPercent, p.Score != nil)
		view.Score = p.Score
		view.CompletedAt = p.CompletedAt
	}
	return view, nil
}

// ListUserProgress progress of every training assigned to the user
func (uc *UseCaseImpl) ListUserProgress(ctx context.Context, userID string) ([]*TrainingOverview, error) {
	apmSpan, _ := apm.StartSpan(ctx, "UseCaseImpl.ListUserProgress", "service")
	defer apmSpan.End()

	if userID == "" {
		return nil, notAssigned(userID, "")
	}
	overview, err := uc.ProgressRepository.ListUserProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, e := range overview {
		e.Status = DeriveStatus(e.ProgressPercent, e.Score != nil)
	}
	return overview, nil
}

// ListContentProgress per item completion of an assigned training, ordered by position
func (uc *UseCaseImpl) ListContentProgress(ctx context.Context, userID, trainingID string) ([]*ContentStatus, error) {
	apmSpan, _ := apm.StartSpan(ctx, "UseCaseImpl.ListContentProgress", "service")
	defer apmSpan.End()

	if _, err := uc.ValidateAssignment(ctx, userID, trainingID); err != nil {
		return nil, err
	}
	return uc.ProgressRepository.ListContentProgress(ctx, userID, trainingID)
}

func (uc *UseCaseImpl) notify(ctx context.Context, userID, eventType string, payload interface{}) {
	if uc.Notifier == nil {
		return
	}
	if err := uc.Notifier.Notify(ctx, userID, eventType, payload); err != nil {
		logging.ExtractLoggerFromContext(ctx).Warn("failed to deliver progress event",
			zap.String("user.id", userID),
			zap.String("event.type", eventType),
			zap.Error(err),
		)
	}
}

func lockAssignment(ctx context.Context, tx TxRepository, userID, trainingID string) (*Assignment, error) {
	assignment, err := tx.LockAssignment(ctx, userID, trainingID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, notAssigned(userID, trainingID)
	}
	return assignment, nil
}

// recompute derives the snapshot from the stored content rows. The row is only written
// when the snapshot changed or force is set.
func recompute(ctx context.Context, tx TxRepository, userID, trainingID string, now time.Time, force bool) (*Snapshot, error) {
	completed, total, err := tx.CountContent(ctx, userID, trainingID)
	if err != nil {
		return nil, err
	}
	existing, err := tx.GetTrainingProgress(ctx, userID, trainingID)
	if err != nil {
		return nil, err
	}

	percent := CalculatePercent(completed, total)
	status := DeriveStatus(percent, existing != nil && existing.Score != nil)
	snapshot := &Snapshot{ProgressPercent: percent, Status: status}
	if !force && existing != nil && existing.ProgressPercent == percent && existing.Status == status {
		return snapshot, nil
	}

	record := &TrainingProgress{
		UserID:          userID,
		TrainingID:      trainingID,
		ProgressPercent: percent,
		Status:          status,
		UpdatedAt:       now,
	}
	if existing != nil {
		record.ID = existing.ID
	}
	if err := tx.SaveProgress(ctx, record); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func copyAnswers(answers map[string]string) map[string]string {
	out := make(map[string]string, len(answers))
	for k, v := range answers {
		out[k] = v
	}
	return out
}
