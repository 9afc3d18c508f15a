package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, Version+"\n", out.String())
}

func TestVersionFromBuild(t *testing.T) {
	release := &debug.BuildInfo{Main: debug.Module{Path: "cligate", Version: "v1.4.0"}}
	devel := &debug.BuildInfo{Main: debug.Module{Path: "cligate", Version: "(devel)"}}

	assert.Equal(t, "v1.4.0", versionFromBuild("dev", release, true))
	assert.Equal(t, "v2.0.0", versionFromBuild("v2.0.0", release, true), "an ldflags stamp wins")
	assert.Equal(t, "dev", versionFromBuild("dev", devel, true))
	assert.Equal(t, "dev", versionFromBuild("dev", nil, false))
}

func TestUnknownCommand(t *testing.T) {
	err := Execute(context.Background(), []string{"bogus"})
	assert.ErrorContains(t, err, `unknown command "bogus"`)
}

func TestServeRejectsExtraArgs(t *testing.T) {
	err := Execute(context.Background(), []string{"serve", "extra"})
	assert.Error(t, err)
}

func TestLoadServeConfigPortOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))
	t.Setenv("PORT", "")

	cfg, err := loadServeConfig(&serveOptions{configPath: path})
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)

	cfg, err = loadServeConfig(&serveOptions{configPath: path, overridePort: 8081})
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Server.Port)

	_, err = loadServeConfig(&serveOptions{configPath: path, overridePort: 70000})
	assert.Error(t, err)
}

func TestLoadServeConfigMissingFile(t *testing.T) {
	_, err := loadServeConfig(&serveOptions{configPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}
