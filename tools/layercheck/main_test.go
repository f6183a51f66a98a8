package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryLayering(t *testing.T) {
	var out bytes.Buffer
	code := run(filepath.Join("..", ".."), &out, &out)
	assert.Equal(t, 0, code, out.String())
}

func TestCheck_ReportsUpwardImport(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "pkg", "budget")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	src := `package budget

import (
	"fmt"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/governance"
)

var _ = fmt.Sprint
var _ = contracts.ErrInvalidAmount
var _ = governance.SourceChain
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.go"), []byte(src), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad_test.go"), []byte("package budget\n\nimport _ \"github.com/Mindburn-Labs/vault/pkg/api\"\n"), 0o600))

	violations, err := check(root, rules)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "github.com/Mindburn-Labs/vault/pkg/governance", violations[0].importPath)
	assert.Equal(t, 7, violations[0].line)
	assert.Equal(t, "pkg/budget", violations[0].rule)
}

func TestMatches(t *testing.T) {
	assert.True(t, matches("github.com/Mindburn-Labs/vault/pkg/api", "pkg/api"))
	assert.False(t, matches("github.com/Mindburn-Labs/vault/pkg/apix", "pkg/api"))
	assert.True(t, matches("github.com/Mindburn-Labs/vault/pkg/store", "pkg"))
	assert.False(t, matches("github.com/other/pkg/store", "pkg"))
}
