package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSitesCmd(t *testing.T) {
	t.Run("lists profiles", func(t *testing.T) {
		env := newTestEnv(t, "", "a8m", "j8i")
		out, err := env.execute(t, &fakeFactory{}, "sites")
		require.NoError(t, err)
		for _, want := range []string{"a8m", "A8M", "j8i", "https://j8i.example/en", "option"} {
			assert.Contains(t, out, want)
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		env := newTestEnv(t, "")
		out, err := env.execute(t, &fakeFactory{}, "sites")
		require.NoError(t, err)
		assert.Contains(t, out, "No site profiles")
	})

	t.Run("invalid profile", func(t *testing.T) {
		env := newTestEnv(t, "", "a8m")
		require.NoError(t, os.WriteFile(filepath.Join(env.sitesDir, "bad.yaml"), []byte("name: bad\n"), 0o644))
		_, err := env.execute(t, &fakeFactory{}, "sites")
		assert.ErrorContains(t, err, "url is required")
	})
}
