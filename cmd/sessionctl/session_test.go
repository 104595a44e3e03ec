package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrEthical07/goSession/internal/mockbackend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type cli struct {
	t      *testing.T
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	backend, err := mockbackend.NewDemo(mockbackend.Config{})
	require.NoError(t, err)
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := map[string]any{
		"base_url":  srv.URL,
		"store":     "bolt",
		"bolt_path": filepath.Join(dir, "session.db"),
	}
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return &cli{t: t, config: path}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", c.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoginWhoamiLogout(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("login", "--email", "admin@example.com", "--password", mockbackend.DefaultPassword)
	require.NoError(t, err)
	assert.Contains(t, out, "Ada Admin <admin@example.com>")
	assert.Contains(t, out, "authenticated")

	out, err = c.run("whoami", "-o", "yaml")
	require.NoError(t, err)
	var view sessionView
	require.NoError(t, yaml.Unmarshal([]byte(out), &view))
	assert.Equal(t, "admin@example.com", view.Email)
	assert.Equal(t, 1, view.RoleID)
	assert.Contains(t, view.Privileges, "add_role")
	assert.Contains(t, []string{"remote", "cache"}, view.PrivilegeSource)

	out, err = c.run("logout")
	require.NoError(t, err)
	assert.Contains(t, out, "logged out")

	_, err = c.run("whoami")
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestLoginRejected(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("login", "--email", "admin@example.com", "--password", "wrong")
	assert.Error(t, err)

	_, err = c.run("login", "--email", "admin@example.com")
	assert.Error(t, err)
}

func TestCan(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("login", "--email", "planner@example.com", "--password", mockbackend.DefaultPassword)
	require.NoError(t, err)

	out, err := c.run("can", "view_dashboard", "--module", "1", "--route", "/dashboard")
	require.NoError(t, err)
	assert.Contains(t, out, "view_dashboard")
	assert.NotContains(t, out, "denied")

	out, err = c.run("can", "delete_role", "--route", "/roles/new")
	assert.Error(t, err)
	assert.Contains(t, out, "denied")

	_, err = c.run("can")
	assert.Error(t, err)
}
