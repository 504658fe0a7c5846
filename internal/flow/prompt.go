package flow

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/kynelabs/aidline/internal/models"
)

//go:embed default_prompt.tmpl
var defaultPromptTemplate string

// PromptRenderer renders the system prompt from the current state and
// context snapshot. It is a pure function of its inputs; template
// assets are loaded once at construction.
type PromptRenderer struct {
	tmpl *template.Template
}

// promptData is the data shape exposed to prompt templates.
type promptData struct {
	State   string
	Context map[string]any
}

// NewPromptRenderer loads the system prompt template from path, or the
// embedded default when path is empty. A broken template file is a
// startup error, never a per-turn one.
func NewPromptRenderer(path string) (*PromptRenderer, error) {
	text := defaultPromptTemplate
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt template: %w", err)
		}
		text = string(content)
		slog.Debug("flow.NewPromptRenderer: loaded prompt template", "path", path, "length", len(text))
	}

	tmpl, err := template.New("system_prompt").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return &PromptRenderer{tmpl: tmpl}, nil
}

// Render produces the system prompt for one turn. The snapshot's
// "state" key is lifted into .State; the remaining keys become .Context.
func (r *PromptRenderer) Render(state models.StateType, snapshot map[string]any) (string, error) {
	ctx := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		if k == "state" {
			continue
		}
		ctx[k] = v
	}

	var sb strings.Builder
	if err := r.tmpl.Execute(&sb, promptData{State: string(state), Context: ctx}); err != nil {
		return "", fmt.Errorf("failed to render prompt template: %w", err)
	}
	return sb.String(), nil
}
