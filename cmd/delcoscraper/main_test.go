package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecuteSyncsLoggerOnFailure(t *testing.T) {
	var syncs int
	orig := syncLogger
	syncLogger = func() error {
		syncs++
		return nil
	}
	t.Cleanup(func() {
		syncLogger = orig
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs([]string{"inspect", filepath.Join(t.TempDir(), "missing.pdf")})
	err := execute(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, syncs)
}
