package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, ".env", `
# comment
PAYMENTS_ENV_TEST_A=base
export PAYMENTS_ENV_TEST_B="quoted # not a comment"
PAYMENTS_ENV_TEST_C=plain # trailing
PAYMENTS_ENV_TEST_PRESET=from-file
not a pair
`)
	local := writeFile(t, dir, ".env.local", "PAYMENTS_ENV_TEST_A=local\n")

	t.Setenv("PAYMENTS_ENV_TEST_PRESET", "from-process")
	for _, k := range []string{"PAYMENTS_ENV_TEST_A", "PAYMENTS_ENV_TEST_B", "PAYMENTS_ENV_TEST_C"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	_, err := Load(base, local, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "local", os.Getenv("PAYMENTS_ENV_TEST_A"))
	assert.Equal(t, "quoted # not a comment", os.Getenv("PAYMENTS_ENV_TEST_B"))
	assert.Equal(t, "plain", os.Getenv("PAYMENTS_ENV_TEST_C"))
	assert.Equal(t, "from-process", os.Getenv("PAYMENTS_ENV_TEST_PRESET"))
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		k, v string
		ok   bool
	}{
		{"A=1", "A", "1", true},
		{"  export B = 'two' ", "B", "two", true},
		{"# C=3", "", "", false},
		{"=value", "", "", false},
		{"D=", "D", "", true},
		{"noequals", "", "", false},
	}
	for _, tt := range tests {
		k, v, ok := parseLine(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.k, k, tt.line)
		assert.Equal(t, tt.v, v, tt.line)
	}
}
