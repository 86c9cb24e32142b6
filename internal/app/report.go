package app

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/dshills/gantry/internal/pipeline"
)

// Reporter prints task progress and run summaries.
type Reporter struct {
	mu  sync.Mutex
	out io.Writer

	start *color.Color
	ok    *color.Color
	fail  *color.Color
	dim   *color.Color
}

// NewReporter creates a reporter writing to out.
func NewReporter(out io.Writer) *Reporter {
	return &Reporter{
		out:   out,
		start: color.New(color.FgCyan),
		ok:    color.New(color.FgGreen),
		fail:  color.New(color.FgRed, color.Bold),
		dim:   color.New(color.Faint),
	}
}

// SetColor turns colored output on or off. Color stays off when the
// terminal does not support it.
func (r *Reporter) SetColor(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range []*color.Color{r.start, r.ok, r.fail, r.dim} {
		if on && !color.NoColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// OnTaskStarted implements pipeline.Listener.
func (r *Reporter) OnTaskStarted(rc *pipeline.Context, t *pipeline.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s %s\n", r.start.Sprint("▶"), label(rc, t))
}

// OnTaskSettled implements pipeline.Listener.
func (r *Reporter) OnTaskSettled(rc *pipeline.Context, t *pipeline.Task, err error, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	took := r.dim.Sprintf("(%s)", elapsed.Round(time.Millisecond))
	if err == nil {
		fmt.Fprintf(r.out, "%s %s %s\n", r.ok.Sprint("✔"), label(rc, t), took)
		return
	}
	// Report a failure once, at the task it came from.
	if origin := pipeline.Origin(err); origin != "" && origin != t.Name {
		fmt.Fprintf(r.out, "%s %s %s\n", r.fail.Sprint("✖"), label(rc, t), took)
		return
	}
	fmt.Fprintf(r.out, "%s %s %s: %s\n", r.fail.Sprint("✖"), label(rc, t), took, cause(err))
}

// OnContractViolation implements pipeline.Listener.
func (r *Reporter) OnContractViolation(*pipeline.Context, *pipeline.Task, pipeline.Violation) {}

// Summary prints the outcome of a whole run.
func (r *Reporter) Summary(targets []string, err error, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.Join(targets, ", ")
	took := elapsed.Round(time.Millisecond)
	if err == nil {
		fmt.Fprintf(r.out, "%s %s in %s\n", r.ok.Sprint("done"), name, took)
		return
	}
	origin := pipeline.Origin(err)
	if origin == "" {
		origin = name
	}
	fmt.Fprintf(r.out, "%s %s after %s (failed at %s)\n", r.fail.Sprint("failed"), name, took, origin)
}

// label renders the task with its enclosing chain path.
func label(rc *pipeline.Context, t *pipeline.Task) string {
	path := rc.Path()
	if len(path) <= 1 {
		return t.Name
	}
	return strings.Join(path, " › ")
}

// cause returns the innermost non-task error message.
func cause(err error) string {
	var te *pipeline.TaskError
	for errors.As(err, &te) {
		if te.Err == nil {
			return te.Kind.Error()
		}
		err = te.Err
	}
	return err.Error()
}
