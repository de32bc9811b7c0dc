// Package delivery forwards completed questionnaires to the external
// automation webhook. Delivery is guarded by the submission's
// webhook_processed flag and is never retried here.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/garnizeh/mar/internal/schema"
	"github.com/garnizeh/mar/pkg/models"
	"github.com/garnizeh/mar/pkg/repository"
	"github.com/garnizeh/mar/pkg/webhook"
)

// ConfigKeyWebhookURL is the system_config key holding the destination.
const ConfigKeyWebhookURL = "webhook_url"

const (
	MsgSubmissionNotFound = "Submissão não encontrada"
	MsgNotCompleted       = "Submissão não concluída"
	MsgAlreadyProcessed   = "Webhook já processado anteriormente"
	MsgNoAnswers          = "Nenhuma resposta encontrada para esta submissão"
	MsgSent               = "Webhook enviado com sucesso"
	MsgTestOK             = "Conexão com o webhook bem-sucedida"
)

// Poster sends a JSON document to a URL.
type Poster interface {
	PostJSON(ctx context.Context, url string, payload any) (*webhook.Response, error)
}

// Result is the outcome of a delivery attempt.
type Result struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	StatusCode int            `json:"status_code,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

func failure(msg string, err error) Result {
	r := Result{Message: msg}
	if err != nil {
		r.Details = map[string]any{"error": err.Error()}
	}
	return r
}

type Options struct {
	// FallbackURL is used when webhook_url is unset or cannot be read.
	FallbackURL string
	// Origem labels the payload.
	Origem  string
	Schemas *schema.Loader
	Now     func() time.Time
}

// Service assembles and sends webhook payloads.
type Service struct {
	repo   *repository.Repository
	client Poster
	opts   Options
	logger *slog.Logger
}

func New(repo *repository.Repository, client Poster, opts Options, logger *slog.Logger) (*Service, error) {
	if repo == nil || client == nil {
		return nil, fmt.Errorf("delivery: repository and client are required")
	}
	if opts.FallbackURL == "" {
		return nil, fmt.Errorf("delivery: fallback url is required")
	}
	if opts.Origem == "" {
		opts.Origem = "MAR - Área de Membros"
	}
	if opts.Schemas == nil {
		l, err := schema.Default()
		if err != nil {
			return nil, fmt.Errorf("load schemas: %w", err)
		}
		opts.Schemas = l
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, client: client, opts: opts, logger: logger}, nil
}

// ResolveURL returns the configured webhook URL or the fallback.
func (s *Service) ResolveURL(ctx context.Context) string {
	c, err := s.repo.Config.GetConfig(ctx, ConfigKeyWebhookURL)
	if err != nil {
		s.logger.Warn("webhook_url lookup failed, using fallback", slog.Any("err", err))
		return s.opts.FallbackURL
	}
	if c == nil || strings.TrimSpace(c.Value) == "" {
		return s.opts.FallbackURL
	}
	return strings.TrimSpace(c.Value)
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Send delivers one submission. A non-2xx answer leaves webhook_processed
// untouched so the delivery can be retried later.
func (s *Service) Send(ctx context.Context, submissionID string) Result {
	log := s.logger.With(slog.String("submission_id", submissionID))
	url := s.ResolveURL(ctx)

	sub, err := s.repo.Submissions.GetSubmission(ctx, submissionID)
	if err != nil {
		log.Error("load submission", slog.Any("err", err))
		return failure("Erro ao buscar submissão", err)
	}
	if sub == nil {
		return failure(MsgSubmissionNotFound, nil)
	}
	if !sub.Completed {
		log.Warn("submission not completed, refusing delivery")
		return failure(MsgNotCompleted, nil)
	}
	if sub.WebhookProcessed {
		log.Info("webhook already processed, skipping")
		return Result{Success: true, Message: MsgAlreadyProcessed}
	}

	env, err := s.buildEnvelope(ctx, sub)
	if err != nil {
		return failure("Erro ao montar dados do webhook", err)
	}
	if env == nil {
		return failure(MsgNoAnswers, nil)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return failure("Erro ao montar dados do webhook", err)
	}
	if err := s.opts.Schemas.Validate(ctx, schema.WebhookEnvelope, body); err != nil {
		log.Error("envelope rejected by schema", slog.Any("err", err))
		return failure("Dados do webhook inválidos", err)
	}

	resp, err := s.client.PostJSON(ctx, url, json.RawMessage(body))
	if err != nil {
		s.record(ctx, submissionID, url, 0, false, err.Error())
		log.Error("webhook post failed", slog.Any("err", err))
		return failure("Erro ao enviar webhook: "+err.Error(), err)
	}
	if !resp.OK() {
		s.record(ctx, submissionID, url, resp.StatusCode, false, resp.Body)
		log.Warn("webhook rejected", slog.Int("status", resp.StatusCode))
		r := failure(fmt.Sprintf("Erro ao enviar webhook: HTTP %d", resp.StatusCode), nil)
		r.StatusCode = resp.StatusCode
		r.Details = map[string]any{"response": resp.Body}
		return r
	}
	s.record(ctx, submissionID, url, resp.StatusCode, true, "")

	if err := s.repo.Submissions.SetWebhookProcessed(ctx, submissionID); err != nil {
		log.Error("mark submission webhook_processed", slog.Any("err", err))
	}
	if err := s.repo.CompleteAnswers.SetCompleteAnswersProcessed(ctx, submissionID); err != nil {
		log.Error("mark complete answers webhook_processed", slog.Any("err", err))
	}

	log.Info("webhook delivered", slog.Int("status", resp.StatusCode), slog.String("shape", env.Shape()))
	return Result{
		Success:    true,
		Message:    MsgSent,
		StatusCode: resp.StatusCode,
		Details: map[string]any{
			"shape":    env.Shape(),
			"response": resp.Body,
		},
	}
}

// buildEnvelope returns nil, nil when the submission has nothing to send.
func (s *Service) buildEnvelope(ctx context.Context, sub *models.Submission) (*Envelope, error) {
	submitted := sub.Created
	if sub.CompletedAt != nil {
		submitted = *sub.CompletedAt
	}
	env := &Envelope{
		IDSubmissao:   sub.ID,
		IDUsuario:     sub.UserID,
		DataSubmissao: formatMillis(submitted),
		Timestamp:     s.opts.Now().UTC().Format(time.RFC3339),
		Origem:        s.opts.Origem,
		Email:         sub.UserEmail,
		Nome:          sub.UserName,
	}

	if p, err := s.repo.Profiles.GetProfile(ctx, sub.UserID); err != nil {
		s.logger.Warn("profile lookup failed", slog.String("user_id", sub.UserID), slog.Any("err", err))
	} else if p != nil {
		if p.FullName != "" {
			env.Nome = p.FullName
		}
		env.Telefone = p.Phone
	}
	if env.Email == "" {
		if u, err := s.repo.Users.GetUserByID(ctx, sub.UserID); err == nil && u != nil {
			env.Email = u.Email
		}
	}

	if rec, err := s.repo.CompleteAnswers.GetCompleteAnswers(ctx, sub.ID); err != nil {
		s.logger.Warn("complete answers lookup failed", slog.String("submission_id", sub.ID), slog.Any("err", err))
	} else if rec != nil {
		respostas, derr := DecodeRespostas(ctx, s.opts.Schemas, rec.Respostas)
		switch {
		case derr != nil:
			s.logger.Warn("complete answers rejected, rebuilding from answers", slog.String("submission_id", sub.ID), slog.Any("err", derr))
		case len(respostas) > 1:
			env.Respostas = respostas
			return env, nil
		}
	}

	details, err := s.repo.Answers.ListAnswerDetails(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("list answer details: %w", err)
	}
	if len(details) == 0 {
		return nil, nil
	}
	env.Modulos = groupModules(details)
	return env, nil
}

// maxRecordedError bounds the error text kept per delivery attempt, in bytes.
const maxRecordedError = 512

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (s *Service) record(ctx context.Context, submissionID, url string, status int, ok bool, errText string) {
	errText = truncate(errText, maxRecordedError)
	d := &models.WebhookDelivery{SubmissionID: submissionID, URL: url, StatusCode: status, Success: ok, Error: errText}
	if err := s.repo.Deliveries.RecordDelivery(ctx, d); err != nil {
		s.logger.Warn("record delivery failed", slog.String("submission_id", submissionID), slog.Any("err", err))
	}
}

// TestConnection posts a test document to the resolved URL. Success depends
// only on the HTTP status.
func (s *Service) TestConnection(ctx context.Context) Result {
	url := s.ResolveURL(ctx)
	doc := map[string]any{
		"teste":     true,
		"timestamp": s.opts.Now().UTC().Format(time.RFC3339),
		"origem":    s.opts.Origem,
	}

	// the connection test reports the endpoint's real status even with the circuit open
	resp, err := s.client.PostJSON(webhook.BypassCircuit(ctx), url, doc)
	if err != nil {
		s.logger.Warn("webhook connection test failed", slog.String("url", url), slog.Any("err", err))
		r := failure("Erro ao testar webhook: "+err.Error(), err)
		r.Details["url"] = url
		return r
	}
	if !resp.OK() {
		return Result{
			Message:    fmt.Sprintf("Erro ao testar webhook: HTTP %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Details:    map[string]any{"url": url, "response": resp.Body},
		}
	}
	return Result{Success: true, Message: MsgTestOK, StatusCode: resp.StatusCode, Details: map[string]any{"url": url}}
}
