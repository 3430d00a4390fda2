// Package pipeline provides the generic Step/Pipeline scaffolding that every
// ingest and propagation stage plugs into: a typed transform from T_in to
// T_out threaded through a shared Summary, timed and logged as it runs.
package pipeline

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Summary carries cross-step bookkeeping through a Pipeline run: run
// metadata, accumulated warnings, and whatever scratch state a later step
// needs from an earlier one. Steps mutate and return it so later steps see
// what earlier steps recorded.
type Summary struct {
	RunID       int64
	RepoName    string
	JobID       string
	OldRunID    *int64
	Exports     map[string]any
	Warnings    []string
}

// NewSummary returns a Summary ready for a fresh pipeline run.
func NewSummary() *Summary {
	return &Summary{Exports: make(map[string]any)}
}

// Warn appends a warning message to the summary.
func (s *Summary) Warn(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// Step transforms an input of type In into an output of type Out, threading
// Summary along for cross-step bookkeeping. Implementations should be a
// single cohesive unit of work: one pass, one filter, one ingest stage.
type Step[In, Out any] interface {
	Name() string
	Run(input In, summary *Summary) (Out, *Summary, error)
}

// StepFunc adapts a plain function to Step, for steps too small to warrant
// their own named type.
type StepFunc[In, Out any] struct {
	StepName string
	Fn       func(In, *Summary) (Out, *Summary, error)
}

// Name implements Step.
func (f StepFunc[In, Out]) Name() string { return f.StepName }

// Run implements Step.
func (f StepFunc[In, Out]) Run(input In, summary *Summary) (Out, *Summary, error) {
	return f.Fn(input, summary)
}

// RunTimed runs a single step, logging how long it took at info level in
// the same style the rest of the pipeline logs - one line per step.
func RunTimed[In, Out any](log *logrus.Logger, step Step[In, Out], input In, summary *Summary) (Out, *Summary, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	start := time.Now()
	out, summary, err := step.Run(input, summary)
	elapsed := time.Since(start)
	fields := logrus.Fields{"step": step.Name(), "elapsed": elapsed.String()}
	if err != nil {
		log.WithFields(fields).WithError(err).Error("pipeline step failed")
		return out, summary, err
	}
	log.WithFields(fields).Info("pipeline step finished")
	return out, summary, nil
}
