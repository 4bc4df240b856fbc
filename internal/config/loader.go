package config

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/modeldeploy/internal/ctxlog"
)

// Loader reads deploy configuration files written in HCL.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates a ready-to-use Loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// Load parses, decodes, and validates the deploy config at path. Every
// returned Deploy has had its defaults applied and is safe to drive the
// pipeline with.
func (l *Loader) Load(ctx context.Context, path string) (*Deploy, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading deploy config.", "path", path)

	file, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse deploy config %s: %w", path, diags)
	}

	var deploy Deploy
	if diags := gohcl.DecodeBody(file.Body, nil, &deploy); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode deploy config %s: %w", path, diags)
	}

	deploy.applyDefaults()
	if err := deploy.validate(); err != nil {
		return nil, fmt.Errorf("invalid deploy config %s: %w", path, err)
	}

	logger.Debug("Deploy config loaded.",
		"codebase", deploy.Codebase,
		"backend", deploy.Backend,
		"apply_marks", deploy.ApplyMarks,
		"splits", len(deploy.Splits),
	)
	return &deploy, nil
}
