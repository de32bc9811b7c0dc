package delivery

import (
	"encoding/json"
	"sort"

	"github.com/garnizeh/mar/internal/quiz"
	"github.com/garnizeh/mar/pkg/models"
)

// Resposta is one answered question inside a Modulo.
type Resposta struct {
	Pergunta      string `json:"Pergunta"`
	Resposta      string `json:"Resposta"`
	OrdemPergunta int    `json:"OrdemPergunta"`
}

// Modulo groups the answers of one questionnaire module.
type Modulo struct {
	NomeModulo  string     `json:"NomeModulo"`
	OrdemModulo int        `json:"OrdemModulo"`
	Respostas   []Resposta `json:"Respostas"`
}

// Envelope is the document POSTed to the webhook. It carries either the
// flat Respostas map or Modulos, never both.
type Envelope struct {
	IDSubmissao   string
	IDUsuario     string
	DataSubmissao string
	Timestamp     string
	Origem        string
	Email         string
	Nome          string
	Telefone      string

	Respostas Respostas
	Modulos   []Modulo
}

// Shape names the payload variant carried by the envelope.
func (e Envelope) Shape() string {
	if len(e.Modulos) > 0 {
		return "modulos"
	}
	return "respostas"
}

// MarshalJSON flattens the answer map next to the fixed keys. Answer labels
// never override a fixed key.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"ID_Submissao":   e.IDSubmissao,
		"ID_Usuario":     e.IDUsuario,
		"Data_Submissao": e.DataSubmissao,
		"Timestamp":      e.Timestamp,
		"Origem":         e.Origem,
		"Email":          e.Email,
		"Nome":           e.Nome,
		"Telefone":       e.Telefone,
	}
	if len(e.Modulos) > 0 {
		out["Modulos"] = e.Modulos
		return json.Marshal(out)
	}
	for k, v := range e.Respostas {
		if _, fixed := out[k]; fixed {
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}

// groupModules turns joined answer rows into Modulos sorted by module order,
// each with its answers sorted by question order.
func groupModules(details []models.AnswerDetail) []Modulo {
	byID := make(map[string]*Modulo)
	var order []string
	for _, d := range details {
		m, ok := byID[d.ModuleID]
		if !ok {
			m = &Modulo{NomeModulo: d.ModuleTitle, OrdemModulo: d.ModuleOrder}
			byID[d.ModuleID] = m
			order = append(order, d.ModuleID)
		}
		m.Respostas = append(m.Respostas, Resposta{
			Pergunta:      d.QuestionText,
			Resposta:      quiz.Render(d.Value),
			OrdemPergunta: d.QuestionOrder,
		})
	}

	out := make([]Modulo, 0, len(order))
	for _, id := range order {
		m := byID[id]
		sort.SliceStable(m.Respostas, func(i, j int) bool {
			return m.Respostas[i].OrdemPergunta < m.Respostas[j].OrdemPergunta
		})
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrdemModulo < out[j].OrdemModulo })
	return out
}
