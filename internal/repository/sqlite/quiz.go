package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/garnizeh/mar/pkg/models"
)

func (r *SQLiteRepo) ListModules(ctx context.Context, activeOnly bool) ([]models.Module, error) {
	q := `SELECT id, title, description, order_number, active FROM quiz_modules`
	if activeOnly {
		q += ` WHERE active = TRUE`
	}
	q += ` ORDER BY order_number, id`

	rows, err := r.conn.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	var modules []models.Module
	index := make(map[string]int)
	for rows.Next() {
		var m models.Module
		if err := rows.Scan(&m.ID, &m.Title, &m.Description, &m.OrderNumber, &m.Active); err != nil {
			rows.Close()
			return nil, err
		}
		index[m.ID] = len(modules)
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	questions, err := r.listQuestions(ctx)
	if err != nil {
		return nil, err
	}
	options, err := r.listOptions(ctx)
	if err != nil {
		return nil, err
	}

	for _, qu := range questions {
		i, ok := index[qu.ModuleID]
		if !ok {
			continue
		}
		qu.Options = options[qu.ID]
		modules[i].Questions = append(modules[i].Questions, qu)
	}

	return modules, nil
}

func (r *SQLiteRepo) listQuestions(ctx context.Context) ([]models.Question, error) {
	rows, err := r.conn.Query(ctx, `SELECT id, module_id, text, type, order_number, required, placeholder
		FROM quiz_questions ORDER BY order_number, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.ModuleID, &q.Text, &q.Type, &q.OrderNumber, &q.Required, &q.Placeholder); err != nil {
			return nil, err
		}
		out = append(out, q)
	}

	return out, rows.Err()
}

func (r *SQLiteRepo) listOptions(ctx context.Context) (map[string][]models.Option, error) {
	rows, err := r.conn.Query(ctx, `SELECT id, question_id, label, value, order_number FROM quiz_options ORDER BY order_number, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]models.Option)
	for rows.Next() {
		var o models.Option
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Label, &o.Value, &o.OrderNumber); err != nil {
			return nil, err
		}
		out[o.QuestionID] = append(out[o.QuestionID], o)
	}

	return out, rows.Err()
}

func (r *SQLiteRepo) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	row := r.conn.QueryRow(ctx, `SELECT id, module_id, text, type, order_number, required, placeholder FROM quiz_questions WHERE id = ?`, id)
	var q models.Question
	if err := row.Scan(&q.ID, &q.ModuleID, &q.Text, &q.Type, &q.OrderNumber, &q.Required, &q.Placeholder); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return &q, nil
}

// CreateModule inserts a module with its questions and options. Used by the
// operator tooling and tests to load a questionnaire.
func (r *SQLiteRepo) CreateModule(ctx context.Context, m *models.Module) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if _, err := r.conn.Exec(ctx, `INSERT INTO quiz_modules (id, title, description, order_number, active) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.Description, m.OrderNumber, m.Active); err != nil {
		return err
	}
	for i := range m.Questions {
		q := &m.Questions[i]
		if q.ID == "" {
			q.ID = newID()
		}
		if q.Type == "" {
			q.Type = models.QuestionText
		}
		q.ModuleID = m.ID
		if _, err := r.conn.Exec(ctx, `INSERT INTO quiz_questions (id, module_id, text, type, order_number, required, placeholder) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			q.ID, q.ModuleID, q.Text, q.Type, q.OrderNumber, q.Required, q.Placeholder); err != nil {
			return err
		}
		for j := range q.Options {
			o := &q.Options[j]
			if o.ID == "" {
				o.ID = newID()
			}
			o.QuestionID = q.ID
			if _, err := r.conn.Exec(ctx, `INSERT INTO quiz_options (id, question_id, label, value, order_number) VALUES (?, ?, ?, ?, ?)`,
				o.ID, o.QuestionID, o.Label, o.Value, o.OrderNumber); err != nil {
				return err
			}
		}
	}

	return nil
}
