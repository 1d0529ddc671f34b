package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRegistryYAML = `
version: "2.3.0"
copilot_name: CopilotOS
org_name: Saptiva
models:
  "Saptiva Cortex":
    system_base: |
      Eres {CopilotOS}, el asistente de {Saptiva}.

      Herramientas disponibles
      {TOOLS}
    addendum: "Responde siempre en español."
    params:
      temperature: 0.7
      top_p: 0.9
      presence_penalty: 0.0
      frequency_penalty: 0.1
  "Saptiva Turbo":
    system_base: "Eres {CopilotOS}. Sé breve."
    params:
      temperature: 0.3
      top_p: 1.0
  broken:
    addendum: "sin system_base"
  default:
    system_base: "Eres {CopilotOS}, un asistente de {Saptiva}."
    params:
      temperature: 0.5
      top_p: 0.95
`

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Parse([]byte(testRegistryYAML))
	require.NoError(t, err)
	return r
}

func TestParse(t *testing.T) {
	t.Run("loads models and skips entries without system_base", func(t *testing.T) {
		r := loadTestRegistry(t)
		assert.Equal(t, "2.3.0", r.Version)
		assert.True(t, r.HasModel("Saptiva Cortex"))
		assert.True(t, r.HasModel("default"))
		assert.False(t, r.HasModel("broken"))
	})

	t.Run("empty file fails", func(t *testing.T) {
		_, err := Parse(nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("registry without default fails validation", func(t *testing.T) {
		_, err := Parse([]byte(`
version: "1"
models:
  only:
    system_base: "hola"
`))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("entries with out-of-range params are skipped", func(t *testing.T) {
		_, err := Parse([]byte(`
version: "1"
models:
  hot:
    system_base: "hola"
    params: { temperature: 3.0 }
`))
		// The only entry is invalid, so the registry is unusable.
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestResolve(t *testing.T) {
	r := loadTestRegistry(t)

	t.Run("substitutes names and tools markdown", func(t *testing.T) {
		resolved, err := r.Resolve("Saptiva Cortex", "- audit_file: audita documentos", ChannelChat)
		require.NoError(t, err)

		assert.Contains(t, resolved.System, "Eres CopilotOS, el asistente de Saptiva.")
		assert.Contains(t, resolved.System, "- audit_file: audita documentos")
		assert.NotContains(t, resolved.System, "{TOOLS}")
		assert.True(t, resolved.Metadata.HasTools)
	})

	t.Run("no tools replaces the tools block", func(t *testing.T) {
		resolved, err := r.Resolve("Saptiva Cortex", "", ChannelChat)
		require.NoError(t, err)

		assert.Contains(t, resolved.System, noToolsSentence)
		assert.NotContains(t, resolved.System, "Herramientas disponibles")
		assert.NotContains(t, resolved.System, "{TOOLS}")
		assert.False(t, resolved.Metadata.HasTools)
	})

	t.Run("addendum is appended after the separator", func(t *testing.T) {
		resolved, err := r.Resolve("Saptiva Cortex", "", ChannelChat)
		require.NoError(t, err)

		assert.Contains(t, resolved.System, addendumSeparator+"Responde siempre en español.")
		assert.True(t, resolved.Metadata.HasAddendum)
	})

	t.Run("unknown model falls back to default", func(t *testing.T) {
		resolved, err := r.Resolve("Modelo Fantasma", "", ChannelChat)
		require.NoError(t, err)
		assert.Contains(t, resolved.System, "Eres CopilotOS, un asistente de Saptiva.")
	})

	t.Run("channel budgets", func(t *testing.T) {
		tests := []struct {
			channel string
			want    int
		}{
			{ChannelChat, 1200},
			{ChannelReport, 3500},
			{ChannelTitle, 64},
			{ChannelSummary, 256},
			{ChannelCode, 2048},
			{"desconocido", 1200},
		}
		for _, tt := range tests {
			t.Run(tt.channel, func(t *testing.T) {
				resolved, err := r.Resolve("Saptiva Turbo", "", tt.channel)
				require.NoError(t, err)
				assert.Equal(t, tt.want, resolved.Params.MaxTokens)
			})
		}
	})
}

func TestResolveDeterminism(t *testing.T) {
	r := loadTestRegistry(t)

	t.Run("identical inputs produce identical hash", func(t *testing.T) {
		a, err := r.Resolve("Saptiva Cortex", "- audit_file", ChannelChat)
		require.NoError(t, err)
		b, err := r.Resolve("Saptiva Cortex", "- audit_file", ChannelChat)
		require.NoError(t, err)

		assert.Equal(t, a.Metadata.SystemHash, b.Metadata.SystemHash)
		assert.Equal(t, a.System, b.System)
		assert.Len(t, a.Metadata.SystemHash, 16)
	})

	t.Run("distinct models produce distinct hashes", func(t *testing.T) {
		a, err := r.Resolve("Saptiva Cortex", "", ChannelChat)
		require.NoError(t, err)
		b, err := r.Resolve("Saptiva Turbo", "", ChannelChat)
		require.NoError(t, err)

		assert.NotEqual(t, a.Metadata.SystemHash, b.Metadata.SystemHash)
	})

	t.Run("distinct tools markdown produces distinct hashes", func(t *testing.T) {
		a, err := r.Resolve("Saptiva Cortex", "- audit_file", ChannelChat)
		require.NoError(t, err)
		b, err := r.Resolve("Saptiva Cortex", "- excel_analyzer", ChannelChat)
		require.NoError(t, err)

		assert.NotEqual(t, a.Metadata.SystemHash, b.Metadata.SystemHash)
	})
}

func TestModelParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  ModelParams
		wantErr bool
	}{
		{"valid", ModelParams{Temperature: 0.7, TopP: 0.9}, false},
		{"temperature too high", ModelParams{Temperature: 2.1}, true},
		{"top_p negative", ModelParams{TopP: -0.1}, true},
		{"presence penalty out of range", ModelParams{PresencePenalty: 2.5}, true},
		{"frequency penalty out of range", ModelParams{FrequencyPenalty: -2.5}, true},
		{"max_tokens negative", ModelParams{MaxTokens: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
