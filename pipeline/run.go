package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Pipeline is an ordered sequence of same-type steps - the shape every
// propagation pass and trim stage takes, since they all transform a
// *tracegraph.Store in place and pass it along.
type Pipeline[T any] struct {
	log   *logrus.Logger
	steps []Step[T, T]
}

// NewPipeline builds a Pipeline that logs through log (falling back to
// logrus.StandardLogger if nil).
func NewPipeline[T any](log *logrus.Logger, steps ...Step[T, T]) *Pipeline[T] {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline[T]{log: log, steps: steps}
}

type stepTiming struct {
	name    string
	elapsed time.Duration
}

// Run executes every step in order, short-circuiting on the first error and
// logging one line per step plus a final summary line of cumulative timing,
// mirroring the upstream pipeline's run-time reporting.
func (p *Pipeline[T]) Run(input T, summary *Summary) (T, *Summary, error) {
	timings := make([]stepTiming, 0, len(p.steps))
	output := input
	for _, step := range p.steps {
		start := time.Now()
		var err error
		output, summary, err = step.Run(output, summary)
		elapsed := time.Since(start)
		timings = append(timings, stepTiming{name: step.Name(), elapsed: elapsed})
		if err != nil {
			p.log.WithFields(logrus.Fields{"step": step.Name(), "elapsed": elapsed.String()}).
				WithError(err).Error("pipeline step failed")
			return output, summary, fmt.Errorf("pipeline: step %q: %w", step.Name(), err)
		}
		p.log.WithFields(logrus.Fields{"step": step.Name(), "elapsed": elapsed.String()}).
			Info("pipeline step finished")
	}
	p.log.Info(summarizeTimings(timings))
	return output, summary, nil
}

func summarizeTimings(timings []stepTiming) string {
	parts := make([]string, 0, len(timings))
	var total time.Duration
	for _, t := range timings {
		total += t.elapsed
		parts = append(parts, fmt.Sprintf("%s=%s", t.name, t.elapsed.Round(time.Millisecond)))
	}
	return fmt.Sprintf("pipeline finished in %s (%s)", total.Round(time.Millisecond), strings.Join(parts, ", "))
}
