package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "substitutes template references",
			input: "api_key: {{.SAPTIVA_API_KEY}}",
			env:   map[string]string{"SAPTIVA_API_KEY": "sk-123"},
			want:  "api_key: sk-123",
		},
		{
			name:  "multiple references in one line",
			input: "url: {{.PROTO}}://{{.HOST}}",
			env:   map[string]string{"PROTO": "https", "HOST": "api.saptiva.com"},
			want:  "url: https://api.saptiva.com",
		},
		{
			name:  "missing variable expands to empty",
			input: "endpoint: {{.NO_EXISTE}}",
			env:   map[string]string{},
			want:  "endpoint: ",
		},
		{
			name:  "dollar syntax is left alone",
			input: "pattern: ^secret_${USER_ID}.*$",
			env:   map[string]string{"USER_ID": "123"},
			want:  "pattern: ^secret_${USER_ID}.*$",
		},
		{
			name:  "plain yaml untouched",
			input: "models:\n  default:\n    system_base: hola",
			env:   map[string]string{},
			want:  "models:\n  default:\n    system_base: hola",
		},
		{
			name:  "malformed template passes through",
			input: "api_key: {{.SIN_CERRAR",
			env:   map[string]string{"SIN_CERRAR": "no-debe-aparecer"},
			want:  "api_key: {{.SIN_CERRAR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}
