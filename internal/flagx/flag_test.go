package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "separate value",
			args:         []string{"-c", "conf.json", "-a", "localhost"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c", "conf.json"},
		},
		{
			name:         "equals form",
			args:         []string{"-f=false", "-a", ":8080"},
			allowedFlags: []string{"-f"},
			want:         []string{"-f=false"},
		},
		{
			name:         "subcommand names are ignored",
			args:         []string{"serve", "-d", "postgres://x", "extra"},
			allowedFlags: []string{"-d"},
			want:         []string{"-d", "postgres://x"},
		},
		{
			name:         "flag followed by another flag keeps no value",
			args:         []string{"-c", "-notvalue"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c"},
		},
		{
			name:         "repeated flags preserve order",
			args:         []string{"-b", "one", "-b", "two"},
			allowedFlags: []string{"-b"},
			want:         []string{"-b", "one", "-b", "two"},
		},
		{
			name:         "empty",
			args:         []string{},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowedFlags))
		})
	}
}

func TestConfigFileFlag(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"devsync", "serve", "-c", "/etc/devsync.yaml"}
	assert.Equal(t, "/etc/devsync.yaml", ConfigFileFlag())

	os.Args = []string{"devsync", "-config", "/etc/devsync.json"}
	assert.Equal(t, "/etc/devsync.json", ConfigFileFlag())

	os.Args = []string{"devsync", "-a", ":1"}
	assert.Empty(t, ConfigFileFlag())
}
