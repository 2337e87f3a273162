package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "separate value kept, foreign flag dropped",
			args:    []string{"-a", ":8080", "-w", "45"},
			allowed: []string{"-a"},
			want:    []string{"-a", ":8080"},
		},
		{
			name:    "equals form kept whole",
			args:    []string{"--blob=s3", "-a", ":8080"},
			allowed: []string{"--blob"},
			want:    []string{"--blob=s3"},
		},
		{
			name:    "order preserved across multiple allowed flags",
			args:    []string{"-d", "postgres://db", "-x", "1", "-a", ":8080"},
			allowed: []string{"-a", "-d"},
			want:    []string{"-d", "postgres://db", "-a", ":8080"},
		},
		{
			name:    "trailing flag without value survives",
			args:    []string{"-a"},
			allowed: []string{"-a"},
			want:    []string{"-a"},
		},
		{
			name:    "next dash token is not consumed as a value",
			args:    []string{"-a", "-d"},
			allowed: []string{"-a"},
			want:    []string{"-a"},
		},
		{
			name:    "dash-prefixed value allowed through equals form",
			args:    []string{"--staging=-tmp"},
			allowed: []string{"--staging"},
			want:    []string{"--staging=-tmp"},
		},
		{
			name:    "nothing allowed yields empty non-nil slice",
			args:    []string{"-x", "1", "positional"},
			allowed: []string{"-a"},
			want:    []string{},
		},
		{
			name:    "repeated flag kept both times",
			args:    []string{"-a", ":8080", "-a", ":9090"},
			allowed: []string{"-a"},
			want:    []string{"-a", ":8080", "-a", ":9090"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestJsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short form", func(t *testing.T) {
		os.Args = []string{"syncengine", "-c", "/etc/sync/conf.json"}
		assert.Equal(t, "/etc/sync/conf.json", JsonConfigFlags())
	})

	t.Run("long form", func(t *testing.T) {
		os.Args = []string{"syncengine", "-config", "/etc/sync/alt.json"}
		assert.Equal(t, "/etc/sync/alt.json", JsonConfigFlags())
	})

	t.Run("other flags ignored", func(t *testing.T) {
		os.Args = []string{"syncengine", "-a", ":8080", "-w", "45"}
		assert.Empty(t, JsonConfigFlags())
	})

	t.Run("last occurrence wins", func(t *testing.T) {
		os.Args = []string{"syncengine", "-c", "/one.json", "-config", "/two.json"}
		assert.Equal(t, "/two.json", JsonConfigFlags())
	})
}
