// Package quiz holds the questionnaire rules: which questions are required,
// what counts as answered and how answers are stored and aggregated.
package quiz

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/garnizeh/mar/pkg/models"
	"github.com/garnizeh/mar/pkg/repository"
)

// Validator computes how complete a user's questionnaire is. It never writes.
type Validator struct {
	quiz        repository.QuizRepo
	submissions repository.SubmissionRepo
	answers     repository.AnswerRepo
}

func NewValidator(quiz repository.QuizRepo, submissions repository.SubmissionRepo, answers repository.AnswerRepo) *Validator {
	return &Validator{quiz: quiz, submissions: submissions, answers: answers}
}

// Validate checks every required question of every active module against
// the user's latest submission.
func (v *Validator) Validate(ctx context.Context, userID string) (*models.ValidationResult, error) {
	modules, err := v.quiz.ListModules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}

	sub, err := v.submissions.GetLatestSubmissionByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get latest submission: %w", err)
	}

	answered := make(map[string]bool)
	if sub != nil {
		answers, err := v.answers.ListAnswers(ctx, sub.ID)
		if err != nil {
			return nil, fmt.Errorf("list answers: %w", err)
		}
		for _, a := range answers {
			if Answered(a.Value) {
				answered[a.QuestionID] = true
			}
		}
	}

	res := &models.ValidationResult{}
	for _, m := range modules {
		for _, q := range m.Questions {
			if !q.Required {
				continue
			}
			res.TotalRequired++
			if answered[q.ID] {
				res.TotalAnswered++
				continue
			}
			res.MissingQuestions = append(res.MissingQuestions, models.MissingQuestion{
				QuestionID:    q.ID,
				Question:      q.Text,
				Module:        m.Title,
				ModuleOrder:   m.OrderNumber,
				QuestionOrder: q.OrderNumber,
			})
		}
	}

	sort.SliceStable(res.MissingQuestions, func(i, j int) bool {
		a, b := res.MissingQuestions[i], res.MissingQuestions[j]
		if a.ModuleOrder != b.ModuleOrder {
			return a.ModuleOrder < b.ModuleOrder
		}
		return a.QuestionOrder < b.QuestionOrder
	})

	res.CompletionPercentage = Percentage(res.TotalAnswered, res.TotalRequired)
	res.Valid = sub != nil && res.TotalAnswered == res.TotalRequired
	return res, nil
}

// Percentage is round(100*answered/required), 100 when nothing is required.
func Percentage(answered, required int) int {
	if required <= 0 {
		return 100
	}
	return int(math.Round(100 * float64(answered) / float64(required)))
}
