package models

// Domain models matching the database schema in db/migrations.
// Timestamps are unix milliseconds.

// Roles carried in the token's user_metadata.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type User struct {
	ID           string `json:"id" db:"id"`
	Email        string `json:"email" db:"email" validate:"required,email"`
	PasswordHash string `json:"-" db:"password_hash"`
	Role         string `json:"role" db:"role"`
	Created      int64  `json:"created" db:"created"`
	Updated      int64  `json:"updated" db:"updated"`
}

type Profile struct {
	UserID   string `json:"user_id" db:"user_id"`
	FullName string `json:"full_name" db:"full_name"`
	Phone    string `json:"phone" db:"phone"`
	Company  string `json:"company" db:"company"`
	Updated  int64  `json:"updated" db:"updated"`
}

// UserWithProfile is the admin listing row.
type UserWithProfile struct {
	User
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Company  string `json:"company"`
}

type Module struct {
	ID          string     `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	OrderNumber int        `json:"order_number" db:"order_number"`
	Active      bool       `json:"active" db:"active"`
	Questions   []Question `json:"questions,omitempty"`
}

// Question types.
const (
	QuestionText     = "text"
	QuestionTextarea = "textarea"
	QuestionSelect   = "select"
	QuestionRadio    = "radio"
	QuestionCheckbox = "checkbox"
	QuestionNumber   = "number"
	QuestionEmail    = "email"
	QuestionPhone    = "phone"
)

type Question struct {
	ID          string   `json:"id" db:"id"`
	ModuleID    string   `json:"module_id" db:"module_id"`
	Text        string   `json:"text" db:"text"`
	Type        string   `json:"type" db:"type"`
	OrderNumber int      `json:"order_number" db:"order_number"`
	Required    bool     `json:"required" db:"required"`
	Placeholder string   `json:"placeholder,omitempty" db:"placeholder"`
	Options     []Option `json:"options,omitempty"`
}

// MultiSelect reports whether answers to q are stored as a JSON array.
func (q Question) MultiSelect() bool {
	return q.Type == QuestionCheckbox
}

type Option struct {
	ID          string `json:"id" db:"id"`
	QuestionID  string `json:"question_id" db:"question_id"`
	Label       string `json:"label" db:"label"`
	Value       string `json:"value" db:"value"`
	OrderNumber int    `json:"order_number" db:"order_number"`
}

// Submission is one user's attempt at the questionnaire.
type Submission struct {
	ID               string `json:"id" db:"id"`
	UserID           string `json:"user_id" db:"user_id"`
	UserEmail        string `json:"user_email" db:"user_email"`
	UserName         string `json:"user_name" db:"user_name"`
	CurrentModule    int    `json:"current_module" db:"current_module"`
	Completed        bool   `json:"completed" db:"completed"`
	CompletedAt      *int64 `json:"completed_at,omitempty" db:"completed_at"`
	WebhookProcessed bool   `json:"webhook_processed" db:"webhook_processed"`
	Created          int64  `json:"created" db:"created"`
	Updated          int64  `json:"updated" db:"updated"`
}

type Answer struct {
	ID           string `json:"id" db:"id"`
	SubmissionID string `json:"submission_id" db:"submission_id"`
	QuestionID   string `json:"question_id" db:"question_id"`
	Value        string `json:"value" db:"value"`
	Created      int64  `json:"created" db:"created"`
	Updated      int64  `json:"updated" db:"updated"`
}

// AnswerDetail is an answer joined with its question and module.
type AnswerDetail struct {
	QuestionID    string `json:"question_id"`
	QuestionText  string `json:"question"`
	QuestionType  string `json:"question_type"`
	QuestionOrder int    `json:"question_order"`
	ModuleID      string `json:"module_id"`
	ModuleTitle   string `json:"module"`
	ModuleOrder   int    `json:"module_order"`
	Value         string `json:"value"`
}

// CompleteAnswers is the denormalized label -> value record of a submission.
type CompleteAnswers struct {
	SubmissionID     string `json:"submission_id" db:"submission_id"`
	UserID           string `json:"user_id" db:"user_id"`
	Respostas        string `json:"respostas" db:"respostas"`
	WebhookProcessed bool   `json:"webhook_processed" db:"webhook_processed"`
	Created          int64  `json:"created" db:"created"`
	Updated          int64  `json:"updated" db:"updated"`
}

// MissingQuestion is a required question without an answer.
type MissingQuestion struct {
	QuestionID    string `json:"question_id"`
	Question      string `json:"question"`
	Module        string `json:"module"`
	ModuleOrder   int    `json:"module_order"`
	QuestionOrder int    `json:"question_order"`
}

// ValidationResult reports how complete a user's submission is. It is never stored.
type ValidationResult struct {
	Valid                bool              `json:"valid"`
	TotalRequired        int               `json:"total_required"`
	TotalAnswered        int               `json:"total_answered"`
	CompletionPercentage int               `json:"completion_percentage"`
	MissingQuestions     []MissingQuestion `json:"missing_questions,omitempty"`
}

type SystemConfig struct {
	Key         string `json:"key" db:"key"`
	Value       string `json:"value" db:"value"`
	Description string `json:"description" db:"description"`
	UpdatedBy   string `json:"updated_by" db:"updated_by"`
	Updated     int64  `json:"updated" db:"updated"`
}

type AuditEntry struct {
	ID         string `json:"id" db:"id"`
	AdminID    string `json:"admin_id" db:"admin_id"`
	Action     string `json:"action" db:"action"`
	TargetType string `json:"target_type" db:"target_type"`
	TargetID   string `json:"target_id" db:"target_id"`
	Details    string `json:"details" db:"details"`
	Created    int64  `json:"created" db:"created"`
}

// WebhookDelivery is one outbound POST attempt.
type WebhookDelivery struct {
	ID           string `json:"id" db:"id"`
	SubmissionID string `json:"submission_id" db:"submission_id"`
	URL          string `json:"url" db:"url"`
	StatusCode   int    `json:"status_code" db:"status_code"`
	Success      bool   `json:"success" db:"success"`
	Error        string `json:"error,omitempty" db:"error"`
	Created      int64  `json:"created" db:"created"`
}
