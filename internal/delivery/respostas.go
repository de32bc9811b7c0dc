package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/garnizeh/mar/internal/schema"
)

// Kind tags the variant held by an AnswerValue.
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindNumber
	KindBool
	KindList
)

// AnswerValue is one entry of a stored respostas blob. Exactly one of the
// fields matching Kind is meaningful.
type AnswerValue struct {
	Kind   Kind
	Text   string
	Number json.Number
	Bool   bool
	List   []string
}

func (v *AnswerValue) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case nil:
		*v = AnswerValue{Kind: KindNull}
	case string:
		*v = AnswerValue{Kind: KindText, Text: t}
	case json.Number:
		*v = AnswerValue{Kind: KindNumber, Number: t}
	case bool:
		*v = AnswerValue{Kind: KindBool, Bool: t}
	case []any:
		list := make([]string, 0, len(t))
		for _, item := range t {
			switch it := item.(type) {
			case string:
				list = append(list, it)
			case json.Number:
				list = append(list, it.String())
			case bool:
				list = append(list, fmt.Sprint(it))
			default:
				return fmt.Errorf("unsupported list item %T", item)
			}
		}
		*v = AnswerValue{Kind: KindList, List: list}
	default:
		return fmt.Errorf("unsupported answer value %T", raw)
	}
	return nil
}

// String renders the value the way the webhook receives it.
func (v AnswerValue) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return v.Number.String()
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindList:
		return strings.Join(v.List, ", ")
	default:
		return ""
	}
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// Respostas is a decoded question -> answer map.
type Respostas map[string]AnswerValue

// DecodeRespostas checks blob against the respostas schema and decodes it.
// Anything other than a flat object of scalars or scalar lists is rejected.
func DecodeRespostas(ctx context.Context, loader *schema.Loader, blob string) (Respostas, error) {
	data := []byte(strings.TrimSpace(blob))
	if len(data) == 0 {
		return nil, fmt.Errorf("empty respostas")
	}
	if err := loader.Validate(ctx, schema.Respostas, data); err != nil {
		return nil, err
	}

	var out Respostas
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode respostas: %w", err)
	}
	return out, nil
}
