// Package resources is the dependency-injection container that turns a YAML
// configuration file into wired agent dependencies: chat models, system
// prompts, and tool aligners. It generalizes core/resources.py's
// attribute-injection container (`ResourceUser`/`resource()`/reflection over
// type hints) into explicit, statically-typed Go factories — Go has no
// runtime annotation reflection over arbitrary types, so each resource
// category gets its own Build method instead of one generic one.
package resources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wpierozak/pipiline-agent/internal/aligner"
	"github.com/wpierozak/pipiline-agent/internal/chat"
	"github.com/wpierozak/pipiline-agent/internal/providers"
)

// Category identifies what kind of dependency a resource definition builds.
// A user's declared field must match the category of the resource id it's
// wired to, the same check resources.py's initialize_user performs.
type Category string

const (
	CategoryLLM         Category = "llm"
	CategorySysPrompt   Category = "sysprompt"
	CategoryToolAligner Category = "tool_aligner"
)

// resourceDef is one entry under the config file's `resources:` section.
type resourceDef struct {
	Category string         `yaml:"category"`
	Type     string         `yaml:"type"`
	Params   map[string]any `yaml:",inline"`
}

// userDef is one entry under the config file's `users:` section: a map from
// a field name (what the agent calls the dependency) to a resource id.
type userDef struct {
	Resources map[string]string `yaml:"resources"`
}

type fileConfig struct {
	Resources map[string]resourceDef `yaml:"resources"`
	Users     map[string]userDef     `yaml:"users"`
}

// fieldCategories fixes the category every known wiring field expects. This
// is the static stand-in for the source's `Annotated[T, resource(category)]`
// type-hint reflection.
var fieldCategories = map[string]Category{
	"model":     CategoryLLM,
	"sysprompt": CategorySysPrompt,
	"aligner":   CategoryToolAligner,
}

// Provider loads a config file and builds/caches resources from it.
type Provider struct {
	dir        string
	cfg        fileConfig
	embedModel aligner.EmbeddingModel

	llms      map[string]chat.Model
	sysprompt map[string]string
	aligners  map[string]*aligner.ToolAligner
}

// Load reads and parses the YAML config at path. embedModel backs every
// tool_aligner resource this provider builds.
func Load(path string, embedModel aligner.EmbeddingModel) (*Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resources: read config %q: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("resources: parse config %q: %w", path, err)
	}
	return &Provider{
		dir:        filepath.Dir(path),
		cfg:        cfg,
		embedModel: embedModel,
		llms:       make(map[string]chat.Model),
		sysprompt:  make(map[string]string),
		aligners:   make(map[string]*aligner.ToolAligner),
	}, nil
}

func (p *Provider) def(rid string) (resourceDef, error) {
	d, ok := p.cfg.Resources[rid]
	if !ok {
		return resourceDef{}, fmt.Errorf("resources: no resource %q defined", rid)
	}
	return d, nil
}

// CategoryOf returns a resource id's declared category.
func (p *Provider) CategoryOf(rid string) (Category, error) {
	d, err := p.def(rid)
	if err != nil {
		return "", err
	}
	return Category(d.Category), nil
}

// BuildLLM builds (and caches) the chat.Model defined under rid.
func (p *Provider) BuildLLM(ctx context.Context, rid string) (chat.Model, error) {
	if m, ok := p.llms[rid]; ok {
		return m, nil
	}
	d, err := p.def(rid)
	if err != nil {
		return nil, err
	}
	if Category(d.Category) != CategoryLLM {
		return nil, fmt.Errorf("resources: %q is declared as category %q, not %q", rid, d.Category, CategoryLLM)
	}

	var model chat.Model
	switch d.Type {
	case "anthropic":
		model, err = providers.NewAnthropicClient(providers.AnthropicConfig{
			APIKey: stringParam(d.Params, "api_key"),
			Model:  stringParam(d.Params, "model"),
		})
	case "openai":
		model, err = providers.NewOpenAIClient(providers.OpenAIConfig{
			APIKey: stringParam(d.Params, "api_key"),
			Model:  stringParam(d.Params, "model"),
		})
	case "mock":
		model = buildMockClient(rid, d.Params)
	default:
		return nil, fmt.Errorf("resources: unknown llm type %q for %q", d.Type, rid)
	}
	if err != nil {
		return nil, fmt.Errorf("resources: build llm %q: %w", rid, err)
	}

	p.llms[rid] = model
	return model, nil
}

func buildMockClient(rid string, params map[string]any) *providers.MockClient {
	var script []chat.Response
	if raw, ok := params["script"].([]any); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				script = append(script, chat.Response{Content: s})
			}
		}
	}
	return providers.NewMockClient(rid, script...)
}

// BuildSysPrompt builds (and caches) the system prompt text defined under
// rid: either inline text, or a file read relative to the config file's
// directory, matching SysPromptFactory's 'txt'/'source' dispatch.
func (p *Provider) BuildSysPrompt(rid string) (string, error) {
	if s, ok := p.sysprompt[rid]; ok {
		return s, nil
	}
	d, err := p.def(rid)
	if err != nil {
		return "", err
	}
	if Category(d.Category) != CategorySysPrompt {
		return "", fmt.Errorf("resources: %q is declared as category %q, not %q", rid, d.Category, CategorySysPrompt)
	}

	var text string
	switch d.Type {
	case "txt":
		text = stringParam(d.Params, "text")
	case "source":
		relPath := stringParam(d.Params, "path")
		if relPath == "" {
			return "", fmt.Errorf("resources: sysprompt %q of type source needs a path", rid)
		}
		full := relPath
		if !filepath.IsAbs(full) {
			full = filepath.Join(p.dir, relPath)
		}
		raw, err := os.ReadFile(full)
		if err != nil {
			return "", fmt.Errorf("resources: read sysprompt file for %q: %w", rid, err)
		}
		text = string(raw)
	default:
		return "", fmt.Errorf("resources: unknown sysprompt type %q for %q", d.Type, rid)
	}

	p.sysprompt[rid] = text
	return text, nil
}

// BuildAligner builds (and caches) the tool aligner defined under rid. The
// tool-name pool uses tool_name_lexical_threshold and
// tool_name_semantic_threshold when the config sets them, and the defaults
// otherwise. tool_args_lexical_threshold and tool_args_semantic_threshold are
// not read: argument pools always use the aligner's default args thresholds.
func (p *Provider) BuildAligner(rid string) (*aligner.ToolAligner, error) {
	if a, ok := p.aligners[rid]; ok {
		return a, nil
	}
	d, err := p.def(rid)
	if err != nil {
		return nil, err
	}
	if Category(d.Category) != CategoryToolAligner {
		return nil, fmt.Errorf("resources: %q is declared as category %q, not %q", rid, d.Category, CategoryToolAligner)
	}
	if p.embedModel == nil {
		return nil, fmt.Errorf("resources: no embedding model configured, cannot build aligner %q", rid)
	}

	a := aligner.NewToolAligner(p.embedModel)
	nameLex := floatParam(d.Params, "tool_name_lexical_threshold", aligner.DefaultToolNameLexicalThreshold)
	nameSem := floatParam(d.Params, "tool_name_semantic_threshold", aligner.DefaultToolNameSemanticThreshold)
	if nameLex != aligner.DefaultToolNameLexicalThreshold || nameSem != aligner.DefaultToolNameSemanticThreshold {
		a.CreatePool("tools", nameLex, nameSem)
	}

	p.aligners[rid] = a
	return a, nil
}

// WiredUser is an agent's resolved dependencies, built from a `users:`
// entry's resource-id map.
type WiredUser struct {
	Model     chat.Model
	SysPrompt string
	Aligner   *aligner.ToolAligner
}

// InitializeUser resolves every field a named user declares, validating that
// each resource id's actual category matches what that field expects.
func (p *Provider) InitializeUser(ctx context.Context, name string) (*WiredUser, error) {
	u, ok := p.cfg.Users[name]
	if !ok {
		return nil, fmt.Errorf("resources: no user %q defined", name)
	}

	out := &WiredUser{}
	for field, rid := range u.Resources {
		expected, known := fieldCategories[field]
		if !known {
			return nil, fmt.Errorf("resources: user %q declares unknown field %q", name, field)
		}
		actual, err := p.CategoryOf(rid)
		if err != nil {
			return nil, fmt.Errorf("resources: user %q field %q: %w", name, field, err)
		}
		if actual != expected {
			return nil, fmt.Errorf("resources: user %q field %q expects category %q but %q is %q", name, field, expected, rid, actual)
		}

		switch field {
		case "model":
			m, err := p.BuildLLM(ctx, rid)
			if err != nil {
				return nil, err
			}
			out.Model = m
		case "sysprompt":
			s, err := p.BuildSysPrompt(rid)
			if err != nil {
				return nil, err
			}
			out.SysPrompt = s
		case "aligner":
			a, err := p.BuildAligner(rid)
			if err != nil {
				return nil, err
			}
			out.Aligner = a
		}
	}
	return out, nil
}

func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return expandEnv(s)
}

func floatParam(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// expandEnv resolves ${VAR} references in config values, the YAML-config
// equivalent of os.Getenv lookups the source performed implicitly when
// config values were read from the environment at call sites.
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
