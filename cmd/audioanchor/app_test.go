package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"

	"audioanchor/internal/reconcile"
)

func TestPrintReportListsAdvisoryErrors(t *testing.T) {
	report := &reconcile.Report{
		Counts:      reconcile.Counts{AlbumsCreated: 1, TracksCreated: 2},
		FailedPaths: []string{"/books/Dune/part 3.mp3"},
		Err: multierr.Combine(
			&reconcile.InsertError{Path: "/books/Dune/part 3.mp3", Err: errors.New("constraint")},
			errors.New("list /books/Emma: permission denied"),
		),
	}

	var out bytes.Buffer
	printReport(&out, report)

	assert.Equal(t, "albums: +1 ~0 -0  tracks: +2 ~0 -0\n"+
		"Could not add to library: /books/Dune/part 3.mp3\n"+
		"warning: list /books/Emma: permission denied\n", out.String())
}

func TestPrintReportQuietWhenClean(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, &reconcile.Report{})
	assert.Equal(t, "albums: +0 ~0 -0  tracks: +0 ~0 -0\n", out.String())
}
