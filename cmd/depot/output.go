package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/terassyi/depot/internal/diagnostic"
	"github.com/terassyi/depot/internal/transaction"
)

// outputStyle holds common output styling for CLI commands, grounded on
// cmd/toto/output.go's outputStyle.
type outputStyle struct {
	successMark string
	failMark    string
	warnMark    string
	success     *color.Color
	fail        *color.Color
}

func newOutputStyle() *outputStyle {
	return &outputStyle{
		successMark: color.New(color.FgGreen).Sprint("✓"),
		failMark:    color.New(color.FgRed).Sprint("✗"),
		warnMark:    color.New(color.FgYellow).Sprint("⚠"),
		success:     color.New(color.FgGreen, color.Bold),
		fail:        color.New(color.FgRed, color.Bold),
	}
}

// printResultSummary prints a one-line-per-failed-op summary and an
// overall verdict line, mirroring cmd/toto/progress.go's printApplySummary.
func printResultSummary(result transaction.Result) error {
	style := newOutputStyle()
	failed := result.Failed()
	if len(failed) == 0 {
		fmt.Fprintf(os.Stdout, "%s transaction complete\n", style.successMark)
		return nil
	}
	sink := diagnostic.Get()
	for _, rec := range failed {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", style.failMark, rec.Ref(), rec.Err())
		if sink != nil {
			sink.RecordFailure(rec.Ref(), rec.Kind(), rec.Err().Error())
		}
	}
	style.fail.Fprintf(os.Stderr, "%d operation(s) failed\n", len(failed))
	return fmt.Errorf("%d operation(s) failed", len(failed))
}
