package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garnizeh/mar/pkg/models"
	"github.com/garnizeh/mar/pkg/repository"
	"github.com/google/uuid"
)

// Mocks is an in-memory implementation of the domain repositories for tests.
// Errors can be injected per method name through Fail.
type Mocks struct {
	mu sync.Mutex

	Users           map[string]*models.User
	Profiles        map[string]*models.Profile
	Modules         []models.Module
	Submissions     map[string]*models.Submission
	Answers         map[string]map[string]*models.Answer
	CompleteAnswers map[string]*models.CompleteAnswers
	Config          map[string]*models.SystemConfig
	Audit           []models.AuditEntry
	Deliveries      []models.WebhookDelivery

	// Fail maps a method name (e.g. "MarkCompleted") to the error it returns.
	Fail map[string]error
	// DropMarkCompleted makes MarkCompleted succeed without persisting.
	DropMarkCompleted bool
	// Calls counts invocations per method name.
	Calls map[string]int
}

func NewMocks() *Mocks {
	return &Mocks{
		Users:           make(map[string]*models.User),
		Profiles:        make(map[string]*models.Profile),
		Submissions:     make(map[string]*models.Submission),
		Answers:         make(map[string]map[string]*models.Answer),
		CompleteAnswers: make(map[string]*models.CompleteAnswers),
		Config:          make(map[string]*models.SystemConfig),
		Fail:            make(map[string]error),
		Calls:           make(map[string]int),
	}
}

// Repository exposes the mocks through the repository interfaces. Jobs, rate
// limits and maintenance are not mocked.
func (m *Mocks) Repository() *repository.Repository {
	return &repository.Repository{
		Users:           m,
		Profiles:        m,
		Quiz:            m,
		Submissions:     m,
		Answers:         m,
		CompleteAnswers: m,
		Config:          m,
		Audit:           m,
		Deliveries:      m,
	}
}

// call records the invocation and returns the injected error. Callers hold mu.
func (m *Mocks) call(name string) error {
	m.Calls[name]++
	return m.Fail[name]
}

// CallCount returns how many times a method was invoked.
func (m *Mocks) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[name]
}

func (m *Mocks) CreateUser(ctx context.Context, u *models.User) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateUser"); err != nil {
		return "", err
	}
	for _, existing := range m.Users {
		if existing.Email == u.Email {
			return "", fmt.Errorf("unique constraint: users.email")
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = models.RoleMember
	}
	cp := *u
	m.Users[u.ID] = &cp
	return u.ID, nil
}

func (m *Mocks) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetUserByID"); err != nil {
		return nil, err
	}
	if u, ok := m.Users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *Mocks) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetUserByEmail"); err != nil {
		return nil, err
	}
	for _, u := range m.Users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Mocks) ListUsers(ctx context.Context, limit, offset int) ([]models.UserWithProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListUsers"); err != nil {
		return nil, err
	}
	out := make([]models.UserWithProfile, 0, len(m.Users))
	for _, u := range m.Users {
		row := models.UserWithProfile{User: *u}
		if p, ok := m.Profiles[u.ID]; ok {
			row.FullName, row.Phone, row.Company = p.FullName, p.Phone, p.Company
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Mocks) UpdateUserRole(ctx context.Context, id, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpdateUserRole"); err != nil {
		return err
	}
	if u, ok := m.Users[id]; ok {
		u.Role = role
	}
	return nil
}

func (m *Mocks) UpsertProfile(ctx context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpsertProfile"); err != nil {
		return err
	}
	cp := *p
	m.Profiles[p.UserID] = &cp
	return nil
}

func (m *Mocks) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetProfile"); err != nil {
		return nil, err
	}
	if p, ok := m.Profiles[userID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *Mocks) ListModules(ctx context.Context, activeOnly bool) ([]models.Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListModules"); err != nil {
		return nil, err
	}
	var out []models.Module
	for _, mod := range m.Modules {
		if activeOnly && !mod.Active {
			continue
		}
		out = append(out, mod)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out, nil
}

func (m *Mocks) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetQuestion"); err != nil {
		return nil, err
	}
	for _, mod := range m.Modules {
		for _, q := range mod.Questions {
			if q.ID == id {
				cp := q
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (m *Mocks) CreateSubmission(ctx context.Context, s *models.Submission) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateSubmission"); err != nil {
		return "", err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CurrentModule == 0 {
		s.CurrentModule = 1
	}
	if s.Created == 0 {
		s.Created = time.Now().UnixMilli()
	}
	cp := *s
	m.Submissions[s.ID] = &cp
	return s.ID, nil
}

func (m *Mocks) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetSubmission"); err != nil {
		return nil, err
	}
	if s, ok := m.Submissions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *Mocks) GetLatestSubmissionByUser(ctx context.Context, userID string) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetLatestSubmissionByUser"); err != nil {
		return nil, err
	}
	var latest *models.Submission
	for _, s := range m.Submissions {
		if s.UserID != userID {
			continue
		}
		if latest == nil || s.Created > latest.Created {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *Mocks) UpdateCurrentModule(ctx context.Context, id string, module int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpdateCurrentModule"); err != nil {
		return err
	}
	if s, ok := m.Submissions[id]; ok {
		s.CurrentModule = module
	}
	return nil
}

func (m *Mocks) MarkCompleted(ctx context.Context, id string, completedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("MarkCompleted"); err != nil {
		return err
	}
	if m.DropMarkCompleted {
		return nil
	}
	s, ok := m.Submissions[id]
	if !ok {
		return fmt.Errorf("submission %s not found", id)
	}
	s.Completed = true
	s.CompletedAt = &completedAt
	s.WebhookProcessed = false
	return nil
}

func (m *Mocks) SetWebhookProcessed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("SetWebhookProcessed"); err != nil {
		return err
	}
	if s, ok := m.Submissions[id]; ok {
		s.WebhookProcessed = true
	}
	return nil
}

func (m *Mocks) DeleteSubmission(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteSubmission"); err != nil {
		return false, err
	}
	if _, ok := m.Submissions[id]; !ok {
		return false, nil
	}
	delete(m.Submissions, id)
	delete(m.Answers, id)
	delete(m.CompleteAnswers, id)
	return true, nil
}

func (m *Mocks) ListPendingWebhook(ctx context.Context, limit int) ([]models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListPendingWebhook"); err != nil {
		return nil, err
	}
	var out []models.Submission
	for _, s := range m.Submissions {
		if s.Completed && !s.WebhookProcessed {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Mocks) UpsertAnswer(ctx context.Context, a *models.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpsertAnswer"); err != nil {
		return err
	}
	bySub, ok := m.Answers[a.SubmissionID]
	if !ok {
		bySub = make(map[string]*models.Answer)
		m.Answers[a.SubmissionID] = bySub
	}
	if existing, ok := bySub[a.QuestionID]; ok {
		existing.Value = a.Value
		return nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	cp := *a
	bySub[a.QuestionID] = &cp
	return nil
}

func (m *Mocks) ListAnswers(ctx context.Context, submissionID string) ([]models.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListAnswers"); err != nil {
		return nil, err
	}
	var out []models.Answer
	for _, a := range m.Answers[submissionID] {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (m *Mocks) ListAnswerDetails(ctx context.Context, submissionID string) ([]models.AnswerDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListAnswerDetails"); err != nil {
		return nil, err
	}
	var out []models.AnswerDetail
	for _, mod := range m.Modules {
		for _, q := range mod.Questions {
			a, ok := m.Answers[submissionID][q.ID]
			if !ok {
				continue
			}
			out = append(out, models.AnswerDetail{
				QuestionID:    q.ID,
				QuestionText:  q.Text,
				QuestionType:  q.Type,
				QuestionOrder: q.OrderNumber,
				ModuleID:      mod.ID,
				ModuleTitle:   mod.Title,
				ModuleOrder:   mod.OrderNumber,
				Value:         a.Value,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ModuleOrder != out[j].ModuleOrder {
			return out[i].ModuleOrder < out[j].ModuleOrder
		}
		return out[i].QuestionOrder < out[j].QuestionOrder
	})
	return out, nil
}

func (m *Mocks) UpsertCompleteAnswers(ctx context.Context, c *models.CompleteAnswers) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpsertCompleteAnswers"); err != nil {
		return err
	}
	cp := *c
	if existing, ok := m.CompleteAnswers[c.SubmissionID]; ok {
		cp.WebhookProcessed = existing.WebhookProcessed
	}
	m.CompleteAnswers[c.SubmissionID] = &cp
	return nil
}

func (m *Mocks) GetCompleteAnswers(ctx context.Context, submissionID string) (*models.CompleteAnswers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetCompleteAnswers"); err != nil {
		return nil, err
	}
	if c, ok := m.CompleteAnswers[submissionID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *Mocks) SetCompleteAnswersProcessed(ctx context.Context, submissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("SetCompleteAnswersProcessed"); err != nil {
		return err
	}
	if c, ok := m.CompleteAnswers[submissionID]; ok {
		c.WebhookProcessed = true
	}
	return nil
}

func (m *Mocks) GetConfig(ctx context.Context, key string) (*models.SystemConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetConfig"); err != nil {
		return nil, err
	}
	if c, ok := m.Config[key]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *Mocks) SetConfig(ctx context.Context, c *models.SystemConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("SetConfig"); err != nil {
		return err
	}
	cp := *c
	m.Config[c.Key] = &cp
	return nil
}

func (m *Mocks) ListConfig(ctx context.Context) ([]models.SystemConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListConfig"); err != nil {
		return nil, err
	}
	var out []models.SystemConfig
	for _, c := range m.Config {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Mocks) LogAdminAction(ctx context.Context, e *models.AuditEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("LogAdminAction"); err != nil {
		return "", err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.Audit = append(m.Audit, *e)
	return e.ID, nil
}

func (m *Mocks) ListAuditEntries(ctx context.Context, limit, offset int) ([]models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListAuditEntries"); err != nil {
		return nil, err
	}
	out := append([]models.AuditEntry(nil), m.Audit...)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Mocks) RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("RecordDelivery"); err != nil {
		return err
	}
	m.Deliveries = append(m.Deliveries, *d)
	return nil
}

func (m *Mocks) ListDeliveries(ctx context.Context, submissionID string) ([]models.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListDeliveries"); err != nil {
		return nil, err
	}
	var out []models.WebhookDelivery
	for _, d := range m.Deliveries {
		if d.SubmissionID == submissionID {
			out = append(out, d)
		}
	}
	return out, nil
}
