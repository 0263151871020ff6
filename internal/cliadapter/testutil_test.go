package cliadapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeFakeVibe drops an executable shell script named vibe into dir.
func writeFakeVibe(t *testing.T, dir, script string) {
	t.Helper()
	path := filepath.Join(dir, "vibe")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
}

func envPath() string {
	return os.Getenv("PATH")
}
