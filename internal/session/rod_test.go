package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/linkdeck/internal/isolation"
)

func stubFactory(cfg RuntimeConfig, system string, bundled error) *RodFactory {
	f := NewRodFactory(cfg)
	f.lookPath = func() (string, bool) { return system, system != "" }
	f.download = func() (string, error) {
		if bundled != nil {
			return "", bundled
		}
		return "/cache/chromium", nil
	}
	return f
}

func TestResolveBin(t *testing.T) {
	errOffline := errors.New("offline")

	tests := []struct {
		name     string
		cfgBin   string
		system   string
		bundled  error
		mode     ExecResolution
		want     string
		wantErr  bool
		noBrowse bool
	}{
		{name: "auto prefers configured", cfgBin: "/opt/chrome", system: "/usr/bin/chrome", mode: ExecAuto, want: "/opt/chrome"},
		{name: "auto falls back to system", system: "/usr/bin/chrome", mode: ExecAuto, want: "/usr/bin/chrome"},
		{name: "auto falls back to bundled", mode: ExecAuto, want: "/cache/chromium"},
		{name: "auto with nothing", mode: ExecAuto, bundled: errOffline, wantErr: true, noBrowse: true},
		{name: "system without browser", mode: ExecSystem, wantErr: true, noBrowse: true},
		{name: "system uses lookup", system: "/usr/bin/chrome", mode: ExecSystem, want: "/usr/bin/chrome"},
		{name: "bundled ignores system", system: "/usr/bin/chrome", mode: ExecBundled, want: "/cache/chromium"},
		{name: "bundled download fails", mode: ExecBundled, bundled: errOffline, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := stubFactory(RuntimeConfig{ChromeBin: tt.cfgBin}, tt.system, tt.bundled)
			got, err := f.resolveBin(tt.mode)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.noBrowse, errors.Is(err, ErrNoBrowser))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildLauncherBindsNamespaces(t *testing.T) {
	paths := isolation.Paths{Credentials: "/data/credentials/a1-x", Profile: "/data/profiles/a1-x"}
	s := DefaultCascade()[0]

	l := buildLauncher(context.Background(), "/usr/bin/chrome", s, paths)

	assert.Equal(t, paths.Profile, l.Get(flags.UserDataDir))
	assert.Equal(t, filepath.Join(paths.Credentials, "cache"), l.Get(flags.Flag("disk-cache-dir")))
	assert.True(t, l.Has(flags.Flag("disable-dev-shm-usage")))
	assert.Equal(t, "Translate,MediaRouter", l.Get(flags.Flag("disable-features")))
	assert.True(t, l.Has(flags.Headless))
}

func TestBuildLauncherVisibleStrategy(t *testing.T) {
	paths := isolation.Paths{Credentials: "/c", Profile: "/p"}
	l := buildLauncher(context.Background(), "/usr/bin/chrome", DefaultCascade()[2], paths)
	assert.False(t, l.Has(flags.Headless))
}

func TestCreateRequiresBinding(t *testing.T) {
	f := stubFactory(RuntimeConfig{}, "/usr/bin/chrome", nil)
	_, err := f.Create(context.Background(), "", isolation.Paths{Credentials: "/c", Profile: "/p"}, DefaultCascade()[0])
	assert.Error(t, err)
	_, err = f.Create(context.Background(), "a1", isolation.Paths{}, DefaultCascade()[0])
	assert.Error(t, err)
}

func TestCreateWithoutBrowser(t *testing.T) {
	f := stubFactory(RuntimeConfig{}, "", nil)
	s := DefaultCascade()[2]
	_, err := f.Create(context.Background(), "a1", isolation.Paths{Credentials: "/c", Profile: "/p"}, s)
	assert.ErrorIs(t, err, ErrNoBrowser)
}

func TestRuntimeDefaults(t *testing.T) {
	cfg := RuntimeConfig{RemoteURL: "https://example.test"}.withDefaults()
	assert.Equal(t, "https://example.test", cfg.RemoteURL)
	assert.Positive(t, cfg.PollInterval)
	assert.Equal(t, DefaultSelectors().Code, cfg.Selectors.Code)
}
