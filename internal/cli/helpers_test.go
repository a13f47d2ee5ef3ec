package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout, stderr and
// the command error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeFile writes content to dir/name and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const todoScenario = `name: todo_list
description: "Two list items added by two sessions"
generator: todo
sessions:
  - id: s1
    state: two-items
    window: { start: 1000, end: 2000 }
    repeat: 2
    events:
      - { at: 0, do: reset, url: "https://todo.test/", html: "<ul></ul>" }
      - { at: 1500, do: insert, xpath: /html/body/ul, html: "<li>a</li><li>b</li>" }
      - { at: 1600, do: storage, storage: localStorage, origin: "https://todo.test", key: n, value: "2" }
      - { at: 1700, do: resource, url: "https://todo.test/api", method: post, resource_type: Fetch }
  - id: e1
    state: empty
    window: { start: 1000, end: 2000 }
    events:
      - { at: 0, do: reset, url: "https://todo.test/", html: "<ul></ul>" }
expect:
  - state: two-items
    sessions: [s1-1, s1-2]
    count: 5
`

const todoTwoItems = `{"assertions":[[1,"resource",[{"method":"POST","type":"Fetch","url":"https://todo.test/api"}],true],[1,"storage",[{"key":"n","securityOrigin":"https://todo.test","type":"localStorage"}],"2"],[1,"xpath",["count(//LI[text()=\"a\"])"],1],[1,"xpath",["count(//LI[text()=\"b\"])"],1],[1,"xpath",["count(/HTML/BODY/UL/LI)"],2]],"id":"f4de78fb24d739640a1a790eb39098d2","sessions":["s1-1","s1-2"]}`

// recordTodo records the todo scenario into dir and returns the database and
// plan paths.
func recordTodo(t *testing.T, dir string) (string, string) {
	t.Helper()
	scenario := writeFile(t, dir, "todo.yaml", todoScenario)
	db := filepath.Join(dir, "sessions.db")
	plan := filepath.Join(dir, "todo.cue")
	_, _, err := execute(t, "record", "--db", db, "--plan", plan, scenario)
	require.NoError(t, err)
	return db, plan
}
