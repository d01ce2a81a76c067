package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWorkflows(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, pipelineYAML, 0o644))
	require.NoError(t, os.WriteFile(bad, []byte(`
name: broken
jobs:
  package:
    needs: [missing]
    steps:
      - run: tar czf out.tgz dist/
      - uses: printer
        run: echo both
`), 0o644))

	t.Run("all valid", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, validateWorkflows(context.Background(), &buf, []string{good}))
		assert.Contains(t, buf.String(), "good.yaml: ok (3 jobs, 2 stages)")
	})

	t.Run("mixed", func(t *testing.T) {
		var buf bytes.Buffer
		err := validateWorkflows(context.Background(), &buf, []string{good, bad})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2 workflows invalid")
		assert.Contains(t, buf.String(), "good.yaml: ok")
		// only the first problem in a document is reported
		assert.Contains(t, buf.String(), "bad.yaml: job package needs unknown job missing")
	})

	t.Run("missing file", func(t *testing.T) {
		var buf bytes.Buffer
		err := validateWorkflows(context.Background(), &buf, []string{filepath.Join(dir, "absent.yaml")})
		require.Error(t, err)
	})
}
