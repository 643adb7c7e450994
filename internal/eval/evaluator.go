package eval

import (
	"context"
	"fmt"
	"net/url"

	"github.com/apple/pkl-go/pkl"

	"github.com/loomctl/loom/internal/ir"
)

// Evaluator evaluates PKL configuration modules into IR types.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{projectDir: projectDir}
}

// rawConfig is the wire shape of an evaluated configuration module.
// Attribute values arrive as plain Go values and are converted to the
// tagged IR form afterwards.
type rawConfig struct {
	Resources []*rawResource `pkl:"resources"`
	Outputs   map[string]any `pkl:"outputs"`
}

type rawResource struct {
	Type       string            `pkl:"type"`
	Name       string            `pkl:"name"`
	Provider   string            `pkl:"provider"`
	DependsOn  []string          `pkl:"dependsOn"`
	Count      int               `pkl:"count"`
	ForEach    map[string]string `pkl:"forEach"`
	Timeout    string            `pkl:"timeout"`
	Lifecycle  *rawLifecycle     `pkl:"lifecycle"`
	Attributes map[string]any    `pkl:"attributes"`
}

type rawLifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy"`
	PreventDestroy      bool     `pkl:"preventDestroy"`
	IgnoreChanges       []string `pkl:"ignoreChanges"`
}

// LoadConfig evaluates the entry point module and returns the desired
// configuration. External properties are passed through to the evaluator
// so configurations can parameterize on them.
func (e *Evaluator) LoadConfig(ctx context.Context, entryPoint string, properties map[string]string) (*ir.Config, error) {
	u, err := url.Parse("file://" + e.projectDir + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
	}

	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	evaluator, err := pkl.NewProjectEvaluator(ctx, u, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var raw rawConfig
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(entryPoint), &raw); err != nil {
		return nil, fmt.Errorf("failed to evaluate config: %w", err)
	}

	return convertConfig(&raw)
}

func convertConfig(raw *rawConfig) (*ir.Config, error) {
	cfg := &ir.Config{
		Resources: make([]*ir.Resource, 0, len(raw.Resources)),
		Outputs:   raw.Outputs,
	}

	for _, r := range raw.Resources {
		res, err := convertResource(r)
		if err != nil {
			return nil, err
		}
		cfg.Resources = append(cfg.Resources, res)
	}

	return cfg, nil
}

func convertResource(raw *rawResource) (*ir.Resource, error) {
	if raw.Type == "" || raw.Name == "" {
		return nil, fmt.Errorf("resource declaration missing type or name (type=%q, name=%q)", raw.Type, raw.Name)
	}
	if raw.Provider == "" {
		return nil, fmt.Errorf("resource %s.%s does not name a provider", raw.Type, raw.Name)
	}
	if raw.Count > 0 && len(raw.ForEach) > 0 {
		return nil, fmt.Errorf("resource %s.%s declares both count and forEach", raw.Type, raw.Name)
	}

	attrs, err := ir.AttrsFromAny(raw.Attributes)
	if err != nil {
		return nil, fmt.Errorf("resource %s.%s: %w", raw.Type, raw.Name, err)
	}

	res := &ir.Resource{
		Type:       raw.Type,
		Name:       raw.Name,
		Provider:   raw.Provider,
		DependsOn:  raw.DependsOn,
		Count:      raw.Count,
		ForEach:    raw.ForEach,
		Timeout:    raw.Timeout,
		Attributes: attrs,
	}
	if raw.Lifecycle != nil {
		res.Lifecycle = &ir.Lifecycle{
			CreateBeforeDestroy: raw.Lifecycle.CreateBeforeDestroy,
			PreventDestroy:      raw.Lifecycle.PreventDestroy,
			IgnoreChanges:       raw.Lifecycle.IgnoreChanges,
		}
	}
	return res, nil
}
