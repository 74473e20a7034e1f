package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-safety/pkg/domain"
)

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func decodeLines(t *testing.T, out string) []outputLine {
	t.Helper()
	var lines []outputLine
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var line outputLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line), scanner.Text())
		lines = append(lines, line)
	}
	return lines
}

func TestPoliciesCommand(t *testing.T) {
	code, out, _ := runCLI(t, "", "policies")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "CryptoReplace")
	assert.Contains(t, out, "AnonymizePhoneNumbersPolicy_LLM_Finder")
	assert.Contains(t, out, "finder")
}

func TestRunReplacesText(t *testing.T) {
	code, out, stderr := runCLI(t, "", "run", "--policy", "CryptoReplace", "--text", "Send me bitcoin", "--text", "hello")
	require.Equal(t, 0, code, stderr)

	lines := decodeLines(t, out)
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"Send me [CRYPTO_REDACTED]"}, lines[0].OutputTexts)
	require.Len(t, lines[0].Stages, 1)
	assert.Equal(t, domain.ActionReplace, lines[0].Stages[0].Action.ActionTaken)
	assert.Equal(t, []string{"hello"}, lines[1].OutputTexts)
	assert.Equal(t, domain.ActionAllow, lines[1].Stages[0].Action.ActionTaken)
}

func TestRunExitsTwoWhenBlocked(t *testing.T) {
	stdin := "a quiet afternoon\nbitcoin, ethereum and dogecoin on the blockchain\n"
	code, out, _ := runCLI(t, stdin, "run", "--policy", "CryptoBlockPolicy")
	assert.Equal(t, exitStopped, code)

	lines := decodeLines(t, out)
	require.Len(t, lines, 2)
	assert.Nil(t, lines[0].Error)
	require.NotNil(t, lines[1].Error)
	assert.Equal(t, domain.CodeDisallowedOperation, lines[1].Error.Code)
	assert.Equal(t, "CryptoBlockPolicy", lines[1].Stage)
	assert.Empty(t, lines[1].OutputTexts)
	assert.NotContains(t, out, "dogecoin on the blockchain")
}

func TestRunStoresMapsForRestore(t *testing.T) {
	vaultDir := t.TempDir()
	code, out, stderr := runCLI(t, "", "run", "--policy", "CryptoReplace", "--vault-dir", vaultDir, "--text", "sell ethereum now")
	require.Equal(t, 0, code, stderr)

	lines := decodeLines(t, out)
	require.Len(t, lines, 1)
	id := lines[0].Stages[0].VaultID
	require.NotEmpty(t, id)

	code, out, stderr = runCLI(t, lines[0].OutputTexts[0]+"\n", "restore", "--vault-dir", vaultDir, "--id", id)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "sell ethereum now\n", out)
}

func TestRestoreFromMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"1":{"555-123-4567":"804-991-2230"}}`), 0o600))

	code, out, stderr := runCLI(t, "call 804-991-2230", "restore", "--map", path, "--index", "1")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "call 555-123-4567\n", out)

	code, _, stderr = runCLI(t, "x", "restore")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--map")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
policies:
  - builtin: CryptoReplace
  - name: names
    rule: {type: keyword, content_type: NAME, keywords: {en: [alice]}}
    action: {type: anonymize, threshold: 0.3}
`), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("policies:\n  - builtin: Nope\n"), 0o600))

	code, out, stderr := runCLI(t, "", "validate", "--config", good)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "ok: 2 policies\n", out)

	code, _, stderr = runCLI(t, "", "validate", "--config", bad)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Nope")
}

func TestRunRequiresPolicies(t *testing.T) {
	code, _, stderr := runCLI(t, "", "run", "--text", "hi")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no policies configured")

	code, _, stderr = runCLI(t, "", "run", "--policy", "CryptoReplace", "--watch")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--watch requires --config")
}
