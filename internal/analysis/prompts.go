package analysis

import (
	_ "embed"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// PromptPair is a system prompt and a user template.
type PromptPair struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`

	user *template.Template
}

// Catalog is the versioned prompt pack.
type Catalog struct {
	Version    string     `yaml:"version"`
	Extraction PromptPair `yaml:"extraction"`
	Matching   PromptPair `yaml:"matching"`
	Summary    PromptPair `yaml:"summary"`
}

// ExtractionVars fills the extraction template.
type ExtractionVars struct {
	APIMetadata    string
	DocumentChunks string
}

// MatchingVars fills the matching template.
type MatchingVars struct {
	ClientProfile           string
	OpportunityRequirements string
	Checklist               string
}

// SummaryVars fills the summary template.
type SummaryVars struct {
	APIMetadata  string
	Requirements string
	Risks        string
}

// DefaultCatalog parses the embedded prompt pack.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultPrompts)
}

// ParseCatalog parses a YAML prompt pack and compiles its user templates.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "analysis: parse prompt catalog")
	}
	if c.Version == "" {
		return nil, eris.New("analysis: prompt catalog has no version")
	}
	for name, p := range map[string]*PromptPair{
		"extraction": &c.Extraction,
		"matching":   &c.Matching,
		"summary":    &c.Summary,
	} {
		if strings.TrimSpace(p.System) == "" || strings.TrimSpace(p.User) == "" {
			return nil, eris.Errorf("analysis: prompt %s is incomplete", name)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(p.User)
		if err != nil {
			return nil, eris.Wrapf(err, "analysis: compile prompt %s", name)
		}
		p.user = tmpl
	}
	return &c, nil
}

// Render builds the prompt from vars.
func (p *PromptPair) Render(vars any, jsonMode bool) (Prompt, error) {
	var sb strings.Builder
	if err := p.user.Execute(&sb, vars); err != nil {
		return Prompt{}, eris.Wrap(err, "analysis: render prompt")
	}
	return Prompt{System: p.System, User: sb.String(), JSON: jsonMode}, nil
}
