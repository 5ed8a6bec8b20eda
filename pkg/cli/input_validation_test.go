package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain relative path", "configs/tradebot.yaml", false},
		{"absolute path", "/var/data/candles", false},
		{"empty", "", false},
		{"path with spaces", "my configs/bot.yaml", false},
		{"command chaining", "config.yaml; rm -rf /", true},
		{"pipe", "config.yaml | tee out", true},
		{"subshell", "$(whoami).yaml", true},
		{"backtick", "`id`.yaml", true},
		{"parent traversal", "../../../etc/passwd", true},
		{"windows traversal", "..\\..\\secrets", true},
		{"control character", "config\x00.yaml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInput(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
