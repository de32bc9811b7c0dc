// Package progress maps completion results onto the three steps shown to
// the member after finishing the questionnaire.
package progress

import (
	"github.com/garnizeh/mar/internal/completion"
	"github.com/garnizeh/mar/internal/delivery"
)

type Status string

const (
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
)

// Step names.
const (
	StepSubmission   = "submission"
	StepVerification = "verification"
	StepWebhook      = "webhook"
)

// Advisory is shown whenever a step failed.
const Advisory = "Seus dados foram salvos. Caso necessário, nossa equipe fará o processamento manual."

var badges = map[Status]string{
	StatusSuccess:    "Concluído",
	StatusError:      "Erro",
	StatusPending:    "Pendente",
	StatusProcessing: "Processando",
}

// Badge returns the label displayed for a status.
func Badge(s Status) string {
	return badges[s]
}

type Step struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Status  Status `json:"status"`
	Badge   string `json:"badge"`
	Message string `json:"message,omitempty"`
}

type View struct {
	Steps           []Step `json:"steps"`
	Advisory        string `json:"advisory,omitempty"`
	CanRetryWebhook bool   `json:"can_retry_webhook"`
}

func step(name, title string, s Status, msg string) Step {
	return Step{Name: name, Title: title, Status: s, Badge: Badge(s), Message: msg}
}

// Processing is the view while a completion run is in flight.
func Processing() View {
	return View{Steps: []Step{
		step(StepSubmission, "Envio do questionário", StatusProcessing, ""),
		step(StepVerification, "Verificação", StatusPending, ""),
		step(StepWebhook, "Envio para processamento", StatusPending, ""),
	}}
}

// FromResult renders an orchestrator result.
func FromResult(r completion.Result) View {
	sub, ver, hook := StatusError, StatusPending, StatusPending
	var subMsg, verMsg, hookMsg string

	switch {
	case !r.Success:
		subMsg = r.Error
	case !r.Verified:
		sub, ver = StatusSuccess, StatusError
		verMsg = r.Error
	case r.WebhookSent:
		sub, ver, hook = StatusSuccess, StatusSuccess, StatusSuccess
	default:
		sub, ver, hook = StatusSuccess, StatusSuccess, StatusError
		hookMsg = r.Error
	}

	v := View{Steps: []Step{
		step(StepSubmission, "Envio do questionário", sub, subMsg),
		step(StepVerification, "Verificação", ver, verMsg),
		step(StepWebhook, "Envio para processamento", hook, hookMsg),
	}}
	return v.settle()
}

// PatchWebhook returns a copy of v with only the webhook step replaced by
// the outcome of a manual retry.
func (v View) PatchWebhook(d delivery.Result) View {
	out := View{Steps: make([]Step, len(v.Steps))}
	copy(out.Steps, v.Steps)

	s, msg := StatusSuccess, ""
	if !d.Success {
		s, msg = StatusError, d.Message
	}
	patched := step(StepWebhook, "Envio para processamento", s, msg)
	found := false
	for i := range out.Steps {
		if out.Steps[i].Name == StepWebhook {
			patched.Title = out.Steps[i].Title
			out.Steps[i] = patched
			found = true
		}
	}
	if !found {
		out.Steps = append(out.Steps, patched)
	}
	return out.settle()
}

// Step returns the named step.
func (v View) Step(name string) (Step, bool) {
	for _, s := range v.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

func (v View) settle() View {
	v.Advisory = ""
	v.CanRetryWebhook = false
	for _, s := range v.Steps {
		if s.Status != StatusError {
			continue
		}
		v.Advisory = Advisory
		if s.Name == StepWebhook {
			v.CanRetryWebhook = true
		}
	}
	return v
}
