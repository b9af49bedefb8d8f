// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/orchestrator"
	"github.com/xkilldash9x/gatewatch/internal/runner"
	"github.com/xkilldash9x/gatewatch/internal/service"
)

const profileTemplate = `name: %s
team: %s
url: https://%s.example/en
menu:
  levels:
    - role: option
      item: {css: ".deposit-options li"}
leaf:
  amount:
    input: {css: "input[name=amount]"}
    default: "100"
  submit: {css: "button[type=submit]"}
`

// testEnv is a temporary working directory with a config file and a sites
// directory holding the named profiles.
type testEnv struct {
	dir      string
	cfgPath  string
	sitesDir string
}

func newTestEnv(t *testing.T, extraConfig string, sites ...string) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:      dir,
		cfgPath:  filepath.Join(dir, "config.yaml"),
		sitesDir: filepath.Join(dir, "sites"),
	}
	require.NoError(t, os.Mkdir(env.sitesDir, 0o755))
	for _, name := range sites {
		body := fmt.Sprintf(profileTemplate, name, strings.ToUpper(name), name)
		require.NoError(t, os.WriteFile(filepath.Join(env.sitesDir, name+".yaml"), []byte(body), 0o644))
	}

	cfg := fmt.Sprintf(`logger:
  level: error
  log_file: ""
sites_dir: %q
notify:
  enabled: false
sheet:
  enabled: false
%s`, env.sitesDir, extraConfig)
	require.NoError(t, os.WriteFile(env.cfgPath, []byte(cfg), 0o644))
	return env
}

// execute runs a fresh command tree and returns its combined output.
func (e testEnv) execute(t *testing.T, factory service.ComponentFactory, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(factory)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.cfgPath, "--env-file", filepath.Join(e.dir, ".env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// siteRunner is a scripted orchestrator.SiteRunner.
type siteRunner struct {
	mu   sync.Mutex
	ran  []string
	fail map[string]error
}

func (s *siteRunner) Run(_ context.Context, site *config.SiteProfile) (runner.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ran = append(s.ran, site.Name)
	if err := s.fail[site.Name]; err != nil {
		return runner.Outcome{Site: site.Name, Attempts: 3}, err
	}
	return runner.Outcome{Site: site.Name, Attempts: 1, Complete: true}, nil
}

// fakeFactory builds components around a siteRunner and records the
// configuration it was handed.
type fakeFactory struct {
	runner *siteRunner
	err    error

	cfg      *config.Config
	opts     service.Options
	shutdown bool
}

func (f *fakeFactory) Create(_ context.Context, cfg *config.Config, opts service.Options, logger *zap.Logger) (*service.Components, error) {
	f.cfg, f.opts = cfg, opts
	if f.err != nil {
		return nil, f.err
	}
	orch, err := orchestrator.New(f.runner, cfg.Run.Concurrency, logger)
	if err != nil {
		return nil, err
	}
	return &service.Components{Orchestrator: orch}, nil
}
