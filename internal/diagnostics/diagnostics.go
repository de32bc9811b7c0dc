// Package diagnostics holds the operator health checks and the cleaner
// that removes data the normal flows leave behind.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/garnizeh/mar/pkg/repository"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// RequiredTables must exist for the service to run.
var RequiredTables = []string{
	"users",
	"profiles",
	"quiz_modules",
	"quiz_questions",
	"quiz_options",
	"quiz_submissions",
	"quiz_answers",
	"quiz_respostas_completas",
	"system_config",
	"admin_audit_log",
	"webhook_deliveries",
	"jobs",
	"dead_letter_jobs",
	"rate_limits",
}

type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Count   int    `json:"count,omitempty"`
}

type Report struct {
	Checks   []Check   `json:"checks"`
	Started  time.Time `json:"started"`
	Duration string    `json:"duration"`
}

// Count returns how many checks ended with status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, c := range r.Checks {
		if c.Status == s {
			n++
		}
	}
	return n
}

// Healthy reports whether no check failed outright.
func (r Report) Healthy() bool {
	return r.Count(StatusError) == 0
}

// SystemValidator runs a fixed list of read-only checks.
type SystemValidator struct {
	maint  repository.MaintenanceRepo
	config repository.ConfigRepo
	logger *slog.Logger
}

func NewSystemValidator(maint repository.MaintenanceRepo, config repository.ConfigRepo, logger *slog.Logger) *SystemValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemValidator{maint: maint, config: config, logger: logger}
}

// countCheck turns a counter into a check: zero is ok, anything else warns.
func countCheck(ctx context.Context, name, what string, fn func(context.Context) (int, error)) Check {
	n, err := fn(ctx)
	if err != nil {
		return Check{Name: name, Status: StatusError, Message: err.Error()}
	}
	if n == 0 {
		return Check{Name: name, Status: StatusOK, Message: "nenhum registro encontrado"}
	}
	return Check{Name: name, Status: StatusWarning, Message: fmt.Sprintf("%d %s", n, what), Count: n}
}

func (v *SystemValidator) Run(ctx context.Context) Report {
	rep := Report{Started: time.Now()}
	add := func(c Check) {
		rep.Checks = append(rep.Checks, c)
		lvl := slog.LevelInfo
		if c.Status != StatusOK {
			lvl = slog.LevelWarn
		}
		v.logger.Log(ctx, lvl, "system check", slog.String("check", c.Name), slog.String("status", string(c.Status)), slog.String("message", c.Message))
	}

	if err := v.maint.Ping(ctx); err != nil {
		add(Check{Name: "database", Status: StatusError, Message: err.Error()})
		rep.Duration = time.Since(rep.Started).String()
		// nothing else can succeed
		return rep
	}
	add(Check{Name: "database", Status: StatusOK, Message: "conexão estabelecida"})

	var missing []string
	var tableErr error
	for _, t := range RequiredTables {
		ok, err := v.maint.TableExists(ctx, t)
		if err != nil {
			tableErr = err
			break
		}
		if !ok {
			missing = append(missing, t)
		}
	}
	switch {
	case tableErr != nil:
		add(Check{Name: "tables", Status: StatusError, Message: tableErr.Error()})
	case len(missing) > 0:
		add(Check{Name: "tables", Status: StatusError, Message: "tabelas ausentes: " + strings.Join(missing, ", "), Count: len(missing)})
	default:
		add(Check{Name: "tables", Status: StatusOK, Message: fmt.Sprintf("%d tabelas presentes", len(RequiredTables))})
	}

	c, err := v.config.GetConfig(ctx, "webhook_url")
	switch {
	case err != nil:
		add(Check{Name: "webhook_url", Status: StatusError, Message: err.Error()})
	case c == nil || strings.TrimSpace(c.Value) == "":
		add(Check{Name: "webhook_url", Status: StatusWarning, Message: "não configurada, a URL padrão será usada"})
	default:
		add(Check{Name: "webhook_url", Status: StatusOK, Message: c.Value})
	}

	add(countCheck(ctx, "pending_webhooks", "submissões concluídas sem webhook processado", v.maint.CountPendingWebhook))
	add(countCheck(ctx, "orphan_answers", "respostas sem submissão", v.maint.CountOrphanAnswers))
	add(countCheck(ctx, "orphan_complete_answers", "registros de respostas completas sem submissão", v.maint.CountOrphanCompleteAnswers))
	add(countCheck(ctx, "multiple_submissions", "usuários com mais de uma submissão", v.maint.CountUsersWithMultipleSubmissions))
	add(countCheck(ctx, "completed_without_record", "submissões concluídas sem respostas completas", v.maint.CountCompletedWithoutRecord))

	rep.Duration = time.Since(rep.Started).String()
	return rep
}
