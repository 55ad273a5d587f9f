package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

type mockApp struct {
	opts      AppOptions
	called    map[string]bool
	serve     ServeOptions
	register  RegisterOptions
	autoAlign AutoAlignOptions
	stats     StatsOptions
	profile   ProfileOptions
	render    RenderOptions
	applyErr  error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) error { m.opts = opts; return m.applyErr }
func (m *mockApp) RunServe(_ context.Context, o ServeOptions) error {
	m.called["RunServe"] = true
	m.serve = o
	return nil
}
func (m *mockApp) RunRegister(_ context.Context, o RegisterOptions) error {
	m.called["RunRegister"] = true
	m.register = o
	return nil
}
func (m *mockApp) RunAutoAlign(_ context.Context, o AutoAlignOptions) error {
	m.called["RunAutoAlign"] = true
	m.autoAlign = o
	return nil
}
func (m *mockApp) RunStats(_ context.Context, o StatsOptions) error {
	m.called["RunStats"] = true
	m.stats = o
	return nil
}
func (m *mockApp) RunProfile(_ context.Context, o ProfileOptions) error {
	m.called["RunProfile"] = true
	m.profile = o
	return nil
}
func (m *mockApp) RunRender(_ context.Context, o RenderOptions) error {
	m.called["RunRender"] = true
	m.render = o
	return nil
}

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verify         func(*testing.T, *mockApp)
	}{
		{
			name:           "Serve",
			args:           []string{"serve", "--port", "9090", "--config", "/etc/scanalign.yaml"},
			expectedCalled: "RunServe",
			verify: func(t *testing.T, m *mockApp) {
				if m.serve.Port != 9090 {
					t.Errorf("expected port 9090, got %d", m.serve.Port)
				}
				if m.opts.ConfigFile != "/etc/scanalign.yaml" || !m.opts.ConfigSet {
					t.Errorf("expected explicit config, got %+v", m.opts)
				}
			},
		},
		{
			name:           "RegisterDefaults",
			args:           []string{"register", "--width", "10", "--depth", "7"},
			expectedCalled: "RunRegister",
			verify: func(t *testing.T, m *mockApp) {
				o := m.register
				if o.Width != 10 || o.Depth != 7 {
					t.Errorf("expected 10x7, got %vx%v", o.Width, o.Depth)
				}
				if o.Coarse != -1 || o.Fine != -1 {
					t.Errorf("expected config defaults (-1), got %d/%d", o.Coarse, o.Fine)
				}
				if o.Eps != nil {
					t.Errorf("expected nil eps, got %v", *o.Eps)
				}
				if m.opts.ConfigSet {
					t.Error("config should not be marked explicit")
				}
			},
		},
		{
			name:           "RegisterFull",
			args:           []string{"register", "-m", "scan.obj", "--area", "750", "--coarse", "2", "--fine", "5", "--eps", "0", "--house", "--scan", "living", "--save", "-v"},
			expectedCalled: "RunRegister",
			verify: func(t *testing.T, m *mockApp) {
				o := m.register
				if o.Mesh != "scan.obj" || o.AreaFt2 != 750 || !o.House || o.Scan != "living" || !o.Save {
					t.Errorf("unexpected options %+v", o)
				}
				if o.Coarse != 2 || o.Fine != 5 {
					t.Errorf("expected 2/5, got %d/%d", o.Coarse, o.Fine)
				}
				if o.Eps == nil || *o.Eps != 0 {
					t.Errorf("expected explicit eps 0, got %v", o.Eps)
				}
				if !m.opts.Verbose {
					t.Error("expected verbose")
				}
			},
		},
		{
			name:           "AutoAlign",
			args:           []string{"autoalign", "--mesh", "https://example.com/scan.obj", "--area", "800", "--scan", "den"},
			expectedCalled: "RunAutoAlign",
			verify: func(t *testing.T, m *mockApp) {
				if m.autoAlign.Mesh != "https://example.com/scan.obj" || m.autoAlign.AreaFt2 != 800 || m.autoAlign.Scan != "den" {
					t.Errorf("unexpected options %+v", m.autoAlign)
				}
			},
		},
		{
			name:           "Stats",
			args:           []string{"stats", "scan.obj", "--stride", "5"},
			expectedCalled: "RunStats",
			verify: func(t *testing.T, m *mockApp) {
				if m.stats.Mesh != "scan.obj" || m.stats.Stride != 5 {
					t.Errorf("unexpected options %+v", m.stats)
				}
			},
		},
		{
			name:           "Profile",
			args:           []string{"profile", "--kind", "house", "--width", "12", "--depth", "8", "--count", "100", "--samples"},
			expectedCalled: "RunProfile",
			verify: func(t *testing.T, m *mockApp) {
				o := m.profile
				if o.Kind != "house" || o.Width != 12 || o.Depth != 8 || o.Count != 100 || !o.Samples || o.Output != "-" {
					t.Errorf("unexpected options %+v", o)
				}
			},
		},
		{
			name:           "Render",
			args:           []string{"render", "--width", "4", "--depth", "3", "-f", "png", "-o", "out.png"},
			expectedCalled: "RunRender",
			verify: func(t *testing.T, m *mockApp) {
				o := m.render
				if o.Format != "png" || o.Output != "out.png" || o.Width != 4 {
					t.Errorf("unexpected options %+v", o)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out, errOut bytes.Buffer
			if err := run(context.Background(), tt.args, &out, &errOut, app); err != nil {
				t.Fatalf("run failed: %v (stderr: %s)", err, errOut.String())
			}
			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if app.opts.Out != &out {
				t.Error("expected command output writer to be passed through")
			}
			if tt.verify != nil {
				tt.verify(t, app)
			}
		})
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"UnknownCommand", []string{"calibrate"}},
		{"UnknownRenderFormat", []string{"render", "--format", "tiff"}},
		{"AutoAlignMissingArea", []string{"autoalign", "--mesh", "scan.obj"}},
		{"StatsMissingMesh", []string{"stats"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out, errOut bytes.Buffer
			if err := run(context.Background(), tt.args, &out, &errOut, app); err == nil {
				t.Error("expected an error")
			}
			if app.called["RunRender"] || app.called["RunAutoAlign"] || app.called["RunStats"] {
				t.Errorf("no command should run, called %v", app.called)
			}
		})
	}
}

func TestRun_ApplyOptionsError(t *testing.T) {
	app := newMockApp()
	app.applyErr = errors.New("bad config")
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"register", "--width", "1", "--depth", "1"}, &out, &errOut, app)
	if err == nil || !strings.Contains(err.Error(), "bad config") {
		t.Fatalf("expected config error, got %v", err)
	}
	if app.called["RunRegister"] {
		t.Error("register must not run when options fail")
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out, errOut bytes.Buffer
	if err := run(context.Background(), []string{"--help"}, &out, &errOut, app); err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, cmd := range []string{"serve", "register", "autoalign", "stats", "profile", "render"} {
		if !strings.Contains(out.String(), cmd) {
			t.Errorf("expected %q in help output, got: %s", cmd, out.String())
		}
	}
}

func TestRun_Version(t *testing.T) {
	app := newMockApp()
	var out, errOut bytes.Buffer
	if err := run(context.Background(), []string{"--version"}, &out, &errOut, app); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out.String(), Version) {
		t.Errorf("expected version in output, got: %s", out.String())
	}
}
