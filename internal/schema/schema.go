// Package schema validates JSON documents at the system boundary against
// embedded JSON schemas.
package schema

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/qri-io/jsonschema"
)

// Schema names.
const (
	SubmissionRequest = "submission_request"
	Respostas         = "respostas"
	WebhookEnvelope   = "webhook_envelope"
)

//go:embed schemas/*.json
var embedded embed.FS

// ValidationError lists the schema violations of a document.
type ValidationError struct {
	Schema   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("document does not match schema %s: %s", e.Schema, strings.Join(e.Problems, "; "))
}

// Loader loads and caches compiled JSON schemas.
type Loader struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewLoader compiles every *.json file under schemas/ in fsys. A nil fsys
// uses the schemas shipped with the package.
func NewLoader(fsys fs.FS) (*Loader, error) {
	if fsys == nil {
		fsys = embedded
	}
	l := &Loader{cache: make(map[string]*jsonschema.Schema)}
	if err := l.load(fsys); err != nil {
		return nil, err
	}

	return l, nil
}

var (
	defaultOnce   sync.Once
	defaultLoader *Loader
	defaultErr    error
)

// Default returns the loader for the embedded schemas.
func Default() (*Loader, error) {
	defaultOnce.Do(func() {
		defaultLoader, defaultErr = NewLoader(nil)
	})
	return defaultLoader, defaultErr
}

func (l *Loader) load(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, "schemas")
	if err != nil {
		return fmt.Errorf("read schemas: %w", err)
	}

	newCache := make(map[string]*jsonschema.Schema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join("schemas", e.Name()))
		if err != nil {
			return fmt.Errorf("read schema %s: %w", e.Name(), err)
		}
		rs := &jsonschema.Schema{}
		if err := json.Unmarshal(b, rs); err != nil {
			return fmt.Errorf("compile schema %s: %w", e.Name(), err)
		}
		newCache[strings.TrimSuffix(e.Name(), ".json")] = rs
	}

	l.mu.Lock()
	l.cache = newCache
	l.mu.Unlock()
	return nil
}

// GetSchema returns a compiled schema by name.
func (l *Loader) GetSchema(name string) (*jsonschema.Schema, bool) {
	l.mu.RLock()
	s, ok := l.cache[name]
	l.mu.RUnlock()

	return s, ok
}

// Validate checks data against the named schema. Malformed JSON is returned
// as a plain error, schema violations as *ValidationError.
func (l *Loader) Validate(ctx context.Context, name string, data []byte) error {
	s, ok := l.GetSchema(name)
	if !ok || s == nil {
		return fmt.Errorf("no schema named %s", name)
	}

	verrs, err := s.ValidateBytes(ctx, data)
	if err != nil {
		return fmt.Errorf("schema validate error: %w", err)
	}
	if len(verrs) > 0 {
		ve := &ValidationError{Schema: name}
		for _, v := range verrs {
			ve.Problems = append(ve.Problems, strings.TrimSpace(v.PropertyPath+" "+v.Message))
		}
		return ve
	}

	return nil
}
