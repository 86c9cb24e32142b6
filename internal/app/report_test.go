package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dshills/gantry/internal/pipeline"
)

func TestReporter_Lines(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf)
	r.SetColor(false)

	reg := pipeline.NewRegistry()
	_ = reg.Register("lint", pipeline.Func(func(*pipeline.Context) error { return errors.New("vet failed") }), pipeline.Options{})
	_ = reg.Register("fmt", pipeline.Func(func(*pipeline.Context) error { return nil }), pipeline.Options{})
	_ = reg.RegisterChain("check", []string{"fmt", "lint"}, pipeline.Options{})

	runner := pipeline.NewRunner(reg, pipeline.WithListener(r))
	rc := runner.NewContext(context.Background(), pipeline.RunOptions{})
	err := rc.Run("check")
	r.Summary([]string{"check"}, err, 1500*time.Millisecond)

	want := []string{
		"▶ check",
		"▶ check › fmt",
		"✔ check › fmt (",
		"▶ check › lint",
		"✖ check › lint (",
		"vet failed",
		"✖ check (",
		"failed check after 1.5s (failed at lint)",
	}
	got := buf.String()
	pos := 0
	for _, w := range want {
		i := strings.Index(got[pos:], w)
		if i < 0 {
			t.Fatalf("missing %q after offset %d in:\n%s", w, pos, got)
		}
		pos += i + len(w)
	}
	if strings.Count(got, "vet failed") != 1 {
		t.Errorf("failure cause printed more than once:\n%s", got)
	}
}
