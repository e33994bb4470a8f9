package progress

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pot-code/training-progress/internal/infrastructure/validate"
)

// QuizScore outcome of grading a submission
type QuizScore struct {
	Score   int
	Correct int
	Keyed   int
}

// CheckAnswers reports answers given for questions that are not part of the quiz
func CheckAnswers(questions []*QuizQuestion, answers map[string]string) []*validate.FieldError {
	known := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		known[q.ID] = struct{}{}
	}

	var unknown []string
	for id := range answers {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)

	var errs []*validate.FieldError
	for _, id := range unknown {
		errs = append(errs, validate.NewFieldError("answers."+id, fmt.Sprintf("question %s is not part of the quiz", id)))
	}
	return errs
}

// ScoreAnswers grades answers against the quiz key.
//
// Questions without a key are left out of the denominator, keyed questions without
// an answer count as wrong. A quiz without any keyed question scores 100.
func ScoreAnswers(questions []*QuizQuestion, answers map[string]string) QuizScore {
	var result QuizScore
	for _, q := range questions {
		if !q.Keyed() {
			continue
		}
		result.Keyed++
		if given, ok := answers[q.ID]; ok && answerMatches(given, *q.CorrectAnswer) {
			result.Correct++
		}
	}
	if result.Keyed == 0 {
		result.Score = 100
		return result
	}
	result.Score = (200*result.Correct + result.Keyed) / (2 * result.Keyed)
	return result
}

// Keyed whether the question has a usable answer key
func (q *QuizQuestion) Keyed() bool {
	return q.CorrectAnswer != nil && strings.TrimSpace(*q.CorrectAnswer) != ""
}

func answerMatches(given, key string) bool {
	return strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(key))
}
