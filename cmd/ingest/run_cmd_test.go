package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/ingest"
)

const rowsJSON = `[
  {"firstname":"Ann","email":"a@x.com","phone":"555","agent":"Bob","account_name":"Acme",
   "category_name":"Auto","company_name":"InsCo","policy_number":"P-1","premium_amount":100},
  {"firstname":"Ann","email":"a@x.com","phone":"555","agent":"Bob","account_name":"Acme",
   "category_name":"Auto","company_name":"InsCo","policy_number":"P-2","premium_amount":"200"}
]`

func executeCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func parseEvents(t *testing.T, out string) []ingest.Event {
	t.Helper()
	var events []ingest.Event
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var e ingest.Event
		require.NoError(t, json.Unmarshal([]byte(line), &e), line)
		events = append(events, e)
	}
	return events
}

func TestRunCmd_MemoryBackendFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(rowsJSON), 0o644))

	out, err := executeCmd(t, "", "run", "--input", path, "--backend", "memory")
	require.NoError(t, err)

	events := parseEvents(t, out)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, ingest.EventComplete, last.Type)
	require.Equal(t, 100, last.Percent)
	require.NotNil(t, last.Summary)
	require.Equal(t, 1, last.Summary.Agents)
	require.Equal(t, 1, last.Summary.Subjects)
	require.Equal(t, 2, last.Summary.Facts)

	for i := 1; i < len(events); i++ {
		require.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent)
	}
}

func TestRunCmd_StdinSubmitBody(t *testing.T) {
	out, err := executeCmd(t, `{"rows":`+rowsJSON+`}`, "run", "--input", "-", "--backend", "memory")
	require.NoError(t, err)
	events := parseEvents(t, out)
	require.Equal(t, ingest.EventComplete, events[len(events)-1].Type)
}

func TestRunCmd_ExitCodes(t *testing.T) {
	_, err := executeCmd(t, "", "run", "--input", "-", "--backend", "mongo")
	require.Equal(t, exitUsage, exitCode(err))

	_, err = executeCmd(t, "[]", "run", "--input", "-", "--backend", "memory")
	require.Equal(t, exitValidation, exitCode(err))

	_, err = executeCmd(t, "{not json", "run", "--input", "-", "--backend", "memory")
	require.Equal(t, exitValidation, exitCode(err))

	_, err = executeCmd(t, "", "run", "--input", filepath.Join(t.TempDir(), "missing.json"), "--backend", "memory")
	require.Equal(t, exitUsage, exitCode(err))
}

func TestExitCode(t *testing.T) {
	require.Equal(t, exitOK, exitCode(nil))
	require.Equal(t, 1, exitCode(errors.New("plain")))
	require.Equal(t, exitDB, exitCode(withCode(exitDB, errors.New("db"))))
	require.NoError(t, withCode(exitDB, nil))
}
