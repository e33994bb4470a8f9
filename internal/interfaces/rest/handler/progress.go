package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/training-progress/internal/infrastructure/auth"
	"github.com/pot-code/training-progress/internal/infrastructure/validate"
	"github.com/pot-code/training-progress/internal/progress"
)

type ProgressHandler struct {
	progressUseCase progress.UseCase
	validator       validate.Validator
	jwtUtil         *auth.JWTUtil
}

func NewProgressHandler(
	ProgressUseCase progress.UseCase,
	JWTUtil *auth.JWTUtil,
	Validator validate.Validator,
) *ProgressHandler {
	return &ProgressHandler{ProgressUseCase, Validator, JWTUtil}
}

// HandleMarkContentCompleted POST /trainings/:training_id/content/:content_id/complete
func (ph *ProgressHandler) HandleMarkContentCompleted(c echo.Context) error {
	uid := ph.jwtUtil.UserID(c)
	if uid == "" {
		return echo.ErrUnauthorized
	}
	trainingID := c.Param("training_id")
	contentID := c.Param("content_id")
	if errs := ph.requireParams(map[string]string{"training_id": trainingID, "content_id": contentID}); len(errs) > 0 {
		return c.JSON(http.StatusBadRequest, NewRESTValidationError(http.StatusBadRequest, "Failed to validate params", errs))
	}

	snapshot, err := ph.progressUseCase.MarkContentCompleted(c.Request().Context(), uid, trainingID, contentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshot)
}

type quizSubmission struct {
	Answers map[string]string `json:"answers"`
}

// HandleCompleteTraining POST /trainings/:training_id/quiz
func (ph *ProgressHandler) HandleCompleteTraining(c echo.Context) error {
	uid := ph.jwtUtil.UserID(c)
	if uid == "" {
		return echo.ErrUnauthorized
	}
	trainingID := c.Param("training_id")
	if errs := ph.requireParams(map[string]string{"training_id": trainingID}); len(errs) > 0 {
		return c.JSON(http.StatusBadRequest, NewRESTValidationError(http.StatusBadRequest, "Failed to validate params", errs))
	}

	submission := new(quizSubmission)
	if err := c.Bind(submission); err != nil {
		return c.JSON(http.StatusBadRequest, NewRESTValidationError(http.StatusBadRequest, "Malformed request body", []*validate.FieldError{
			validate.NewFieldError("answers", "answers must be an object of question id to answer"),
		}))
	}

	result, err := ph.progressUseCase.CompleteTraining(c.Request().Context(), uid, trainingID, submission.Answers)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// HandleGetProgress GET /trainings/:training_id/progress
func (ph *ProgressHandler) HandleGetProgress(c echo.Context) error {
	uid := ph.jwtUtil.UserID(c)
	if uid == "" {
		return echo.ErrUnauthorized
	}

	view, err := ph.progressUseCase.GetProgressSnapshot(c.Request().Context(), uid, c.Param("training_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// HandleListContent GET /trainings/:training_id/content
func (ph *ProgressHandler) HandleListContent(c echo.Context) error {
	uid := ph.jwtUtil.UserID(c)
	if uid == "" {
		return echo.ErrUnauthorized
	}

	items, err := ph.progressUseCase.ListContentProgress(c.Request().Context(), uid, c.Param("training_id"))
	if err != nil {
		return err
	}
	if items == nil {
		items = []*progress.ContentStatus{}
	}
	return c.JSON(http.StatusOK, items)
}

// HandleListProgress GET /progress
func (ph *ProgressHandler) HandleListProgress(c echo.Context) error {
	uid := ph.jwtUtil.UserID(c)
	if uid == "" {
		return echo.ErrUnauthorized
	}

	overview, err := ph.progressUseCase.ListUserProgress(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	if overview == nil {
		overview = []*progress.TrainingOverview{}
	}
	return c.JSON(http.StatusOK, overview)
}

func (ph *ProgressHandler) requireParams(params map[string]string) []*validate.FieldError {
	var result []*validate.FieldError
	for _, name := range []string{"training_id", "content_id"} {
		v, ok := params[name]
		if !ok {
			continue
		}
		result = append(result, ph.validator.Empty(name, v)...)
	}
	return result
}
