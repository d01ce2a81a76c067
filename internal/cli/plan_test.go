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

var pipelineYAML = []byte(`
name: pipeline
on: [push]
jobs:
  build:
    steps:
      - uses: printer
        with:
          message: building
  test:
    needs: [build]
    steps:
      - run: echo test
  lint:
    needs: [build]
    steps:
      - run: echo lint
`)

func TestPlanWorkflow(t *testing.T) {
	location := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(location, pipelineYAML, 0o644))

	var buf bytes.Buffer
	require.NoError(t, planWorkflow(context.Background(), &buf, location))

	expect := "pipeline: 3 jobs in 2 stages\n" +
		"  stage 1: build\n" +
		"  stage 2: test, lint\n"
	assert.Equal(t, expect, buf.String())
}

func TestPlanWorkflow_CyclicNeeds(t *testing.T) {
	location := filepath.Join(t.TempDir(), "cycle.yaml")
	document := []byte(`
name: cycle
jobs:
  a:
    needs: [b]
    steps:
      - run: echo a
  b:
    needs: [a]
    steps:
      - run: echo b
`)
	require.NoError(t, os.WriteFile(location, document, 0o644))

	var buf bytes.Buffer
	err := planWorkflow(context.Background(), &buf, location)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")
}
