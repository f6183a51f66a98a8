package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vault/pkg/auth"
)

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"vaultd"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func sqliteEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:"+filepath.Join(t.TempDir(), "vault.db"))
	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("OTEL_ENABLED", "false")
}

func TestRun_VersionAndHelp(t *testing.T) {
	code, out, _ := run("version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "vaultd "+Version+"\n", out)

	code, out, _ = run("help")
	assert.Equal(t, 0, code)
	for _, c := range []string{"serve", "init", "sweep", "token"} {
		assert.Contains(t, out, c)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, errOut := run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")
}

func TestRun_InitThenSweep(t *testing.T) {
	sqliteEnv(t)

	code, out, errOut := run("init", "--config", "../../vault.example.yaml")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "3 signers, threshold 2, admin GADMIN")

	code, _, errOut = run("init", "--config", "../../vault.example.yaml", "--admin", "GOTHER")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already initialized")

	code, out, errOut = run("sweep", "--json")
	require.Equal(t, 0, code, errOut)
	var res sweepResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Empty(t, res.Expired)
	assert.Empty(t, res.Paid)
}

func TestRun_SweepBeforeInit(t *testing.T) {
	sqliteEnv(t)

	code, _, errOut := run("sweep")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not initialized")
}

func TestRun_InitMissingFile(t *testing.T) {
	sqliteEnv(t)

	code, _, errOut := run("init", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Error:")
}

func TestRun_Token(t *testing.T) {
	t.Setenv("JWT_SECRET", "cmd-test-secret")
	t.Setenv("JWT_ISSUER", "")

	code, out, errOut := run("token", "--sub", "GALICE", "--ttl", "5m")
	require.Equal(t, 0, code, errOut)

	claims, err := auth.NewValidator("cmd-test-secret", "vaultd").Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "GALICE", claims.Subject)

	code, _, _ = run("token")
	assert.Equal(t, 2, code)

	t.Setenv("JWT_SECRET", "")
	code, _, _ = run("token", "--sub", "GALICE")
	assert.Equal(t, 1, code)
}
