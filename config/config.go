// Package config loads the pipeline's run-time configuration: which
// propagation passes to run and with what parameters, plus the trim and
// ingestion settings, from a YAML document.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sirupsen/logrus"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"

	"github.com/viant/afs"
	"github.com/viant/sapptrace/pipeline"
	"github.com/viant/sapptrace/propagate"
	"github.com/viant/sapptrace/tracegraph"
)

// AddReverseTracesConfig mirrors propagate.AddReverseTraces's parameters.
type AddReverseTracesConfig struct {
	Code          int    `yaml:"code"`
	OrigLeafName  string `yaml:"origLeafName"`
	OrigLeafKind  string `yaml:"origLeafKind"`
	NewLeafName   string `yaml:"newLeafName"`
	NewLeafKind   string `yaml:"newLeafKind"`
}

// PropagateSharedTextsConfig mirrors propagate.PropagateSharedTexts's parameters.
type PropagateSharedTextsConfig struct {
	PropagateSources bool `yaml:"propagateSources"`
	PropagateFeatures bool `yaml:"propagateFeatures"`
}

// PropagateContextConfig mirrors propagate.PropagateContextToLeafFrames's parameters.
type PropagateContextConfig struct {
	IssueCode      int    `yaml:"issueCode"`
	FeaturePattern string `yaml:"featurePattern"`
	FrameKind      string `yaml:"frameKind"`
}

// PartialFlowConfig mirrors propagate.PartialFlowToMark.
type PartialFlowConfig struct {
	FullIssueCode      int    `yaml:"fullIssueCode"`
	PartialIssueCode   int    `yaml:"partialIssueCode"`
	FullIssueTransform string `yaml:"fullIssueTransform"`
	IsPrefixFlow       bool   `yaml:"isPrefixFlow"`
	Feature            string `yaml:"feature"`
}

// TrimConfig mirrors the trim package's Builder settings.
type TrimConfig struct {
	Enabled            bool     `yaml:"enabled"`
	AffectedFiles      []string `yaml:"affectedFiles"`
	AffectedIssuesOnly bool     `yaml:"affectedIssuesOnly"`
}

// RunConfig is the top-level pipeline configuration document.
type RunConfig struct {
	RepoName  string `yaml:"repoName"`
	JobID     string `yaml:"jobId"`
	InputDir  string `yaml:"inputDir"`
	LogLevel  string `yaml:"logLevel"`

	AddReverseTraces    []AddReverseTracesConfig     `yaml:"addReverseTraces"`
	PropagateShared     *PropagateSharedTextsConfig  `yaml:"propagateSharedTexts"`
	PropagateContext    []PropagateContextConfig     `yaml:"propagateContext"`
	PartialFlows        []PartialFlowConfig          `yaml:"partialFlows"`
	Trim                *TrimConfig                  `yaml:"trim"`
}

// Load reads and parses a RunConfig from path.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := &RunConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.RepoName == "" && cfg.InputDir != "" {
		if name, ok := DetectRepoName(cfg.InputDir); ok {
			cfg.RepoName = name
		}
	}
	return cfg, nil
}

var goModuleRegex = regexp.MustCompile(`module\s+([^\s]+)`)

// DetectRepoName resolves the Go module name declared by the go.mod file
// directly under dir, for runs whose config omits an explicit repoName.
// It tries golang.org/x/mod's module-aware parser first, matching its
// handling of comments and quoted module paths, and falls back to a plain
// regex match against the raw file when the structured parse fails -
// mirroring the two-tier fallback the repository detector uses to name a
// project from its go.mod.
func DetectRepoName(dir string) (string, bool) {
	goModPath := filepath.Join(dir, "go.mod")

	fs := afs.New()
	if content, err := fs.DownloadWithURL(context.Background(), goModPath); err == nil && len(content) > 0 {
		if mod, err := modfile.Parse(goModPath, content, nil); err == nil && mod != nil && mod.Module != nil {
			return mod.Module.Mod.Path, true
		}
	}

	data, err := os.ReadFile(goModPath)
	if err != nil {
		return "", false
	}
	matches := goModuleRegex.FindSubmatch(data)
	if len(matches) < 2 {
		return "", false
	}
	return string(matches[1]), true
}

// frameKind parses a "precondition"/"postcondition" config string into a
// tracegraph.TraceKind, defaulting to Postcondition on an unrecognized value.
func (c PropagateContextConfig) frameKind() tracegraph.TraceKind {
	if c.FrameKind == string(tracegraph.Precondition) {
		return tracegraph.Precondition
	}
	return tracegraph.Postcondition
}

// PartialFlowRules converts the YAML-level partial flow rules into the
// propagate package's native type.
func (c *RunConfig) PartialFlowRules() []propagate.PartialFlowToMark {
	rules := make([]propagate.PartialFlowToMark, 0, len(c.PartialFlows))
	for _, p := range c.PartialFlows {
		rules = append(rules, propagate.PartialFlowToMark{
			FullIssueCode:      p.FullIssueCode,
			PartialIssueCode:   p.PartialIssueCode,
			FullIssueTransform: p.FullIssueTransform,
			IsPrefixFlow:       p.IsPrefixFlow,
			Feature:            p.Feature,
		})
	}
	return rules
}

// BuildSteps assembles the propagation passes named in c into an ordered
// list of pipeline.Step, in the fixed order the passes are meant to run:
// reverse traces first (so later passes see the leaves they add), then
// shared-text propagation, context propagation, upward feature propagation,
// and finally partial-flow marking.
func (c *RunConfig) BuildSteps(log *logrus.Logger) []pipeline.Step[*tracegraph.Store, *tracegraph.Store] {
	var steps []pipeline.Step[*tracegraph.Store, *tracegraph.Store]

	for _, r := range c.AddReverseTraces {
		steps = append(steps, propagate.NewAddReverseTraces(log, r.Code, r.OrigLeafName, tracegraph.SharedTextKind(r.OrigLeafKind), r.NewLeafName, tracegraph.SharedTextKind(r.NewLeafKind)))
	}

	if c.PropagateShared != nil {
		steps = append(steps, propagate.NewPropagateSharedTexts(log, c.PropagateShared.PropagateSources, c.PropagateShared.PropagateFeatures))
	}

	for _, p := range c.PropagateContext {
		steps = append(steps, propagate.NewPropagateContextToLeafFrames(log, p.IssueCode, p.FeaturePattern, p.frameKind()))
	}

	if len(c.PartialFlows) > 0 {
		steps = append(steps, propagate.NewPropagateExtraFeaturesToInstances(log))
		steps = append(steps, propagate.NewMarkPartialFlows(log, c.PartialFlowRules()))
	}

	return steps
}
