package schema_test

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/garnizeh/mar/internal/schema"
)

func TestDefaultLoader_KnownSchemas(t *testing.T) {
	l, err := schema.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	for _, name := range []string{schema.SubmissionRequest, schema.Respostas, schema.WebhookEnvelope} {
		if _, ok := l.GetSchema(name); !ok {
			t.Fatalf("schema %s not loaded", name)
		}
	}
}

func TestValidate(t *testing.T) {
	l, err := schema.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name        string
		schema      string
		doc         string
		wantErr     bool
		wantViolate bool
	}{
		{"request ok", schema.SubmissionRequest, `{"submissionId":"0b6f0e8e-5d4a-4b8e-9c1a-2f3e4d5c6b7a"}`, false, false},
		{"request empty object", schema.SubmissionRequest, `{}`, false, false},
		{"request number id", schema.SubmissionRequest, `{"submissionId":42}`, true, true},
		{"request not object", schema.SubmissionRequest, `[1,2]`, true, true},
		{"request malformed", schema.SubmissionRequest, `{"submissionId":`, true, false},
		{"respostas flat", schema.Respostas, `{"Nome":"Ana","Idade":31,"Canais":["a","b"],"Ativo":true}`, false, false},
		{"respostas nested", schema.Respostas, `{"Nome":{"first":"Ana"}}`, true, true},
		{"respostas array of objects", schema.Respostas, `{"Canais":[{"x":1}]}`, true, true},
		{"envelope modules", schema.WebhookEnvelope, `{"ID_Submissao":"s","ID_Usuario":"u","Data_Submissao":"d","Timestamp":"t","Origem":"o","Email":"","Nome":"","Telefone":"","Modulos":[{"NomeModulo":"M","OrdemModulo":1,"Respostas":[{"Pergunta":"P","Resposta":"R","OrdemPergunta":1}]}]}`, false, false},
		{"envelope missing keys", schema.WebhookEnvelope, `{"ID_Submissao":"s"}`, true, true},
		{"envelope empty modules", schema.WebhookEnvelope, `{"ID_Submissao":"s","ID_Usuario":"u","Data_Submissao":"d","Timestamp":"t","Origem":"o","Email":"","Nome":"","Telefone":"","Modulos":[]}`, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Validate(ctx, tt.schema, []byte(tt.doc))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate err = %v, wantErr %v", err, tt.wantErr)
			}
			var ve *schema.ValidationError
			if errors.As(err, &ve) != tt.wantViolate {
				t.Fatalf("expected ValidationError=%v, got %v", tt.wantViolate, err)
			}
		})
	}
}

func TestValidate_UnknownSchema(t *testing.T) {
	l, _ := schema.Default()
	if err := l.Validate(context.Background(), "nope", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for unknown schema")
	}
}

func TestNewLoader_BadSchema(t *testing.T) {
	fsys := fstest.MapFS{
		"schemas/bad.json": &fstest.MapFile{Data: []byte(`{"type":`)},
	}
	if _, err := schema.NewLoader(fsys); err == nil {
		t.Fatalf("expected compile error")
	}
}
