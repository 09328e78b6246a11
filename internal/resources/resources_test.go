package resources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	return []float64{1, 2, 3}, nil
}

func writeConfig(t *testing.T, yamlText string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(yamlText), 0o644); err != nil {
		t.Fatalf("unexpected error writing config: %v", err)
	}
	return path
}

const sampleConfig = `
resources:
  writer_model:
    category: llm
    type: mock
    script:
      - "first reply"
      - "second reply"
  writer_prompt:
    category: sysprompt
    type: txt
    text: "You are a concise technical writer."
  writer_aligner:
    category: tool_aligner
    type: default

users:
  writer:
    resources:
      model: writer_model
      sysprompt: writer_prompt
      aligner: writer_aligner
`

func TestInitializeUserWiresAllDeclaredFields(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	p, err := Load(path, stubEmbedder{})
	require.NoError(t, err)

	wired, err := p.InitializeUser(context.Background(), "writer")
	require.NoError(t, err)
	require.NotNil(t, wired.Model)
	require.Equal(t, "You are a concise technical writer.", wired.SysPrompt)
	require.NotNil(t, wired.Aligner)
}

func TestInitializeUserRejectsCategoryMismatch(t *testing.T) {
	badConfig := `
resources:
  not_an_llm:
    category: sysprompt
    type: txt
    text: "oops"

users:
  broken:
    resources:
      model: not_an_llm
`
	path := writeConfig(t, badConfig)
	p, err := Load(path, stubEmbedder{})
	require.NoError(t, err)

	_, err = p.InitializeUser(context.Background(), "broken")
	require.Error(t, err)
}

func TestInitializeUserRejectsUnknownUser(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	p, err := Load(path, stubEmbedder{})
	require.NoError(t, err)

	_, err = p.InitializeUser(context.Background(), "ghost")
	require.Error(t, err)
}

func TestBuildLLMCachesSameResource(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	p, err := Load(path, stubEmbedder{})
	require.NoError(t, err)

	m1, err := p.BuildLLM(context.Background(), "writer_model")
	require.NoError(t, err)
	m2, err := p.BuildLLM(context.Background(), "writer_model")
	require.NoError(t, err)
	require.True(t, m1 == m2, "expected cached resource to be returned on second build")
}
