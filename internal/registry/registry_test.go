package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/listenify/providerhost/internal/loader"
	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/provider"
	"norelock.dev/listenify/providerhost/internal/utils"
)

const testDir = "/providers"

type builtinUnit struct {
	provider.Base
	platform string
}

func (b builtinUnit) Info() models.ProviderInfo {
	return models.ProviderInfo{Platform: b.platform, Version: "1.0.0"}
}

func (b builtinUnit) Capabilities() provider.Capabilities {
	return 0
}

// flakyStore fails writes on demand.
type flakyStore struct {
	*MemoryStore
	failSet bool
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failSet {
		return errors.New("disk full")
	}
	return s.MemoryStore.Set(ctx, key, value)
}

type recordingMetrics struct {
	outcomes []string
}

func (m *recordingMetrics) RecordInstall(outcome string) {
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) SetProviderCounts(int, int) {}

type fixture struct {
	reg     *Registry
	fs      afero.Fs
	storage *SourceStorage
	store   *flakyStore
	metrics *recordingMetrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	fsys := afero.NewMemMapFs()
	storage, err := NewSourceStorage(fsys, testDir)
	require.NoError(t, err)
	return newFixtureWith(t, fsys, storage, &flakyStore{MemoryStore: NewMemoryStore()}, opts...)
}

func newFixtureWith(t *testing.T, fsys afero.Fs, storage *SourceStorage, store *flakyStore, opts ...Option) *fixture {
	t.Helper()
	ld, err := loader.New(loader.Options{HostVersion: "1.0.0"}, utils.NewNopLogger())
	require.NoError(t, err)
	m := &recordingMetrics{}
	opts = append([]Option{WithBuiltins(builtinUnit{platform: "local"}), WithMetrics(m)}, opts...)
	reg := New(ld, storage, store, utils.NewNopLogger(), opts...)
	require.NoError(t, reg.Init(context.Background()))
	return &fixture{reg: reg, fs: fsys, storage: storage, store: store, metrics: m}
}

func source(platform, version string) string {
	return fmt.Sprintf(`module.exports = {
	platform: %q,
	version: %q,
	search: function (q) { return { data: [{ id: q, title: q }], isEnd: true }; },
};`, platform, version)
}

func platforms(snaps []Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.Info.Platform
	}
	return out
}

func TestInstall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.reg.Install(ctx, source("alpha", "1.0.0"), "alpha.js", InstallOptions{})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "alpha", res.Platform)
	assert.NotEmpty(t, res.Hash)
	assert.NoError(t, res.Err)

	snap, ok := f.reg.Get("alpha")
	require.True(t, ok)
	assert.True(t, snap.Enabled)
	assert.Empty(t, snap.UserVariables)
	assert.Equal(t, filepath.Join(testDir, res.Hash+".js"), snap.SourcePath)
	assert.Equal(t, []string{"search"}, snap.Capabilities)

	exists, err := afero.Exists(f.fs, snap.SourcePath)
	require.NoError(t, err)
	assert.True(t, exists)

	raw, ok, err := f.store.Get(ctx, ConfigKey("alpha"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"enabled":true,"userVariables":{},"order":0}`, string(raw))
}

func TestInstallSameSourceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := source("alpha", "1.0.0")

	first := f.reg.Install(ctx, src, "alpha.js", InstallOptions{})
	require.True(t, first.Success)

	second := f.reg.Install(ctx, src, "alpha.js", InstallOptions{})
	assert.True(t, second.Success)
	assert.Equal(t, "already installed", second.Message)
	assert.ErrorIs(t, second.Err, models.ErrAlreadyInstalled)
	assert.Equal(t, first.Hash, second.Hash)

	assert.Equal(t, []string{"local", "alpha"}, platforms(f.reg.List()))
	files, err := f.storage.List()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestInstallFromStoredCopyReportsAlreadyInstalled(t *testing.T) {
	fsys := afero.NewMemMapFs()
	storage, err := NewSourceStorage(fsys, testDir)
	require.NoError(t, err)
	src := source("alpha", "1.0.0")
	_, err = storage.Write(hashSource(src), src)
	require.NoError(t, err)

	f := newFixtureWith(t, fsys, storage, &flakyStore{MemoryStore: NewMemoryStore()})
	for i := 0; i < 2; i++ {
		res := f.reg.Install(context.Background(), src, "alpha.js", InstallOptions{})
		assert.True(t, res.Success)
		assert.Equal(t, "already installed", res.Message)
	}
	assert.Equal(t, []string{"local", "alpha"}, platforms(f.reg.List()))
}

func TestInstallRejectsDowngrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.reg.Install(ctx, source("alpha", "3.0.0"), "v3.js", InstallOptions{}).Success)

	res := f.reg.Install(ctx, source("alpha", "2.0.0"), "v2.js", InstallOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, "newer version already installed", res.Message)
	assert.ErrorIs(t, res.Err, models.ErrNewerVersionPresent)

	snap, ok := f.reg.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "3.0.0", snap.Info.Version)

	files, err := f.storage.List()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestInstallDowngradeWithSkipVersionCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.reg.Install(ctx, source("alpha", "3.0.0"), "v3.js", InstallOptions{}).Success)
	res := f.reg.Install(ctx, source("alpha", "2.0.0"), "v2.js", InstallOptions{SkipVersionCheck: true})
	require.True(t, res.Success)

	snap, _ := f.reg.Get("alpha")
	assert.Equal(t, "2.0.0", snap.Info.Version)
}

func TestUpgradePreservesOrderAndState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.reg.Install(ctx, source("alpha", "1.0.0"), "a.js", InstallOptions{})
	require.True(t, old.Success)
	require.True(t, f.reg.Install(ctx, source("beta", "1.0.0"), "b.js", InstallOptions{}).Success)
	require.NoError(t, f.reg.SetEnabled(ctx, "alpha", false))
	require.NoError(t, f.reg.SetUserVariable(ctx, "alpha", "token", "abc"))

	events, cancel := f.reg.Subscribe(4)
	defer cancel()

	res := f.reg.Install(ctx, source("alpha", "1.1.0"), "a2.js", InstallOptions{})
	require.True(t, res.Success)

	assert.Equal(t, []string{"local", "alpha", "beta"}, platforms(f.reg.List()))

	snap, _ := f.reg.Get("alpha")
	assert.Equal(t, "1.1.0", snap.Info.Version)
	assert.Equal(t, 0, snap.Order)
	assert.False(t, snap.Enabled)
	assert.Equal(t, map[string]string{"token": "abc"}, snap.UserVariables)

	exists, err := afero.Exists(f.fs, filepath.Join(testDir, old.Hash+".js"))
	require.NoError(t, err)
	assert.False(t, exists, "replaced source should be deleted")

	select {
	case e := <-events:
		assert.Equal(t, EventUpdated, e.Type)
		assert.Equal(t, "alpha", e.Platform)
		assert.Equal(t, "1.1.0", e.Version)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestInstallLoadFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.reg.Install(ctx, "module.exports = {}", "empty.js", InstallOptions{})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, models.ErrCannotParse)
	assert.Contains(t, res.Message, "CannotParse")

	res = f.reg.Install(ctx, `module.exports = { platform: "x", appVersion: ">=9" }`, "x.js", InstallOptions{})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, models.ErrVersionIncompatible)
	assert.Equal(t, "x", res.Platform)

	res = f.reg.Install(ctx, source("local", "9.9.9"), "local.js", InstallOptions{})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, models.ErrBuiltinProvider)

	assert.Equal(t, []string{"local"}, platforms(f.reg.List()))
	assert.Equal(t, []string{OutcomeCannotParse, OutcomeVersionIncompatible, OutcomeFailed}, f.metrics.outcomes)
}

func TestInstallPersistFailureLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	f.store.failSet = true

	res := f.reg.Install(context.Background(), source("alpha", "1.0.0"), "a.js", InstallOptions{})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, models.ErrPersistFailed)

	_, ok := f.reg.Get("alpha")
	assert.False(t, ok)
	files, err := f.storage.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSetEnabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.reg.Install(ctx, source("alpha", "1.0.0"), "a.js", InstallOptions{}).Success)
	require.True(t, f.reg.Install(ctx, source("beta", "1.0.0"), "b.js", InstallOptions{}).Success)

	assert.Equal(t, []string{"local", "alpha", "beta"}, platforms(f.reg.Enabled()))

	require.NoError(t, f.reg.SetEnabled(ctx, "alpha", false))
	assert.Equal(t, []string{"local", "beta"}, platforms(f.reg.Enabled()))

	// the unit stays loaded
	snap, ok := f.reg.Get("alpha")
	require.True(t, ok)
	assert.NotNil(t, snap.Unit)

	require.NoError(t, f.reg.SetEnabled(ctx, "local", false))
	assert.Equal(t, []string{"beta"}, platforms(f.reg.Enabled()))

	assert.ErrorIs(t, f.reg.SetEnabled(ctx, "missing", true), models.ErrProviderNotFound)
}

func TestSetEnabledPersistFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.reg.Install(ctx, source("alpha", "1.0.0"), "a.js", InstallOptions{}).Success)

	f.store.failSet = true
	err := f.reg.SetEnabled(ctx, "alpha", false)
	assert.ErrorIs(t, err, models.ErrPersistFailed)

	snap, _ := f.reg.Get("alpha")
	assert.True(t, snap.Enabled)
}

func TestSetUserVariable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.reg.Install(ctx, source("alpha", "1.0.0"), "a.js", InstallOptions{}).Success)

	require.NoError(t, f.reg.SetUserVariable(ctx, "alpha", "token", "one"))
	require.NoError(t, f.reg.SetUserVariable(ctx, "alpha", "region", "eu"))
	assert.Equal(t, map[string]string{"token": "one", "region": "eu"}, f.reg.UserVariables("alpha"))

	raw, _, err := f.store.Get(ctx, ConfigKey("alpha"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled":true,"userVariables":{"token":"one","region":"eu"},"order":0}`, string(raw))

	t.Run("failed write keeps previous value", func(t *testing.T) {
		f.store.failSet = true
		defer func() { f.store.failSet = false }()

		err := f.reg.SetUserVariable(ctx, "alpha", "token", "two")
		assert.ErrorIs(t, err, models.ErrPersistFailed)
		assert.Equal(t, "one", f.reg.UserVariables("alpha")["token"])
	})

	t.Run("returned map is a copy", func(t *testing.T) {
		vars := f.reg.UserVariables("alpha")
		vars["token"] = "mutated"
		assert.Equal(t, "one", f.reg.UserVariables("alpha")["token"])
	})
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reg.Install(ctx, source("alpha", "1.0.0"), "a.js", InstallOptions{})
	require.True(t, res.Success)

	assert.ErrorIs(t, f.reg.Remove(ctx, "local"), models.ErrBuiltinProvider)
	assert.ErrorIs(t, f.reg.Remove(ctx, "missing"), models.ErrProviderNotFound)

	snap, _ := f.reg.Get("alpha")
	require.NoError(t, f.reg.Remove(ctx, "alpha"))

	_, ok := f.reg.Get("alpha")
	assert.False(t, ok)
	exists, err := afero.Exists(f.fs, snap.SourcePath)
	require.NoError(t, err)
	assert.False(t, exists)
	_, found, err := f.store.Get(ctx, ConfigKey("alpha"))
	require.NoError(t, err)
	assert.False(t, found)

	// removed units refuse further calls
	_, err = snap.Unit.Search(ctx, "q", 1, models.MediaTypeMusic)
	assert.ErrorIs(t, err, loader.ErrUnitClosed)

	// reinstalling the same source works again
	again := f.reg.Install(ctx, source("alpha", "1.0.0"), "a.js", InstallOptions{})
	assert.True(t, again.Success)
	assert.Equal(t, "installed", again.Message)
}

func TestInitRestoresState(t *testing.T) {
	fsys := afero.NewMemMapFs()
	storage, err := NewSourceStorage(fsys, testDir)
	require.NoError(t, err)
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	ctx := context.Background()

	first := newFixtureWith(t, fsys, storage, store)
	require.True(t, first.reg.Install(ctx, source("alpha", "1.0.0"), "a.js", InstallOptions{}).Success)
	require.True(t, first.reg.Install(ctx, source("beta", "1.0.0"), "b.js", InstallOptions{}).Success)
	require.NoError(t, first.reg.SetEnabled(ctx, "beta", false))
	require.NoError(t, first.reg.SetUserVariable(ctx, "alpha", "token", "abc"))

	// a newer copy and an older copy of alpha on disk, plus a broken file
	newer := source("alpha", "1.5.0")
	_, err = storage.Write(hashSource(newer), newer)
	require.NoError(t, err)
	older := source("alpha", "0.9.0")
	olderPath, err := storage.Write(hashSource(older), older)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(testDir, "broken.js"), []byte("module.exports = {"), 0o644))

	second := newFixtureWith(t, fsys, storage, store)

	list := second.reg.List()
	require.Len(t, list, 4)
	assert.Equal(t, []string{"local", "alpha", "beta", ""}, platforms(list))

	alpha := list[1]
	assert.Equal(t, "1.5.0", alpha.Info.Version)
	assert.Equal(t, map[string]string{"token": "abc"}, alpha.UserVariables)
	assert.False(t, list[2].Enabled)
	assert.Equal(t, "error", list[3].State)
	assert.NotEmpty(t, list[3].Error)
	assert.False(t, list[3].Enabled)

	for _, path := range []string{olderPath, filepath.Join(testDir, hashSource(source("alpha", "1.0.0"))+".js")} {
		exists, err := afero.Exists(fsys, path)
		require.NoError(t, err)
		assert.False(t, exists, "%s should have been removed", path)
	}

	require.NoError(t, second.reg.Remove(ctx, list[3].Hash))
	assert.Len(t, second.reg.List(), 3)
}

func TestInitReplacesCorruptedConfig(t *testing.T) {
	tests := []struct {
		stored  string
		enabled bool
	}{
		{"{not json", true},
		{"null", true},
		{"{}", true},
		{`{"enabled":false}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.stored, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			storage, err := NewSourceStorage(fsys, testDir)
			require.NoError(t, err)
			src := source("alpha", "1.0.0")
			_, err = storage.Write(hashSource(src), src)
			require.NoError(t, err)

			store := &flakyStore{MemoryStore: NewMemoryStore()}
			require.NoError(t, store.Set(context.Background(), ConfigKey("alpha"), []byte(tt.stored)))

			f := newFixtureWith(t, fsys, storage, store)
			snap, ok := f.reg.Get("alpha")
			require.True(t, ok)
			assert.Equal(t, tt.enabled, snap.Enabled)
			assert.Empty(t, snap.UserVariables)

			raw, _, err := store.Get(context.Background(), ConfigKey("alpha"))
			require.NoError(t, err)
			assert.JSONEq(t, fmt.Sprintf(`{"enabled":%t,"userVariables":{},"order":0}`, tt.enabled), string(raw))
		})
	}
}

func TestInitDefaultsMissingEnabledFlag(t *testing.T) {
	fsys := afero.NewMemMapFs()
	storage, err := NewSourceStorage(fsys, testDir)
	require.NoError(t, err)
	src := source("alpha", "1.0.0")
	_, err = storage.Write(hashSource(src), src)
	require.NoError(t, err)

	store := &flakyStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, store.Set(context.Background(), ConfigKey("alpha"), []byte(`{"userVariables":{"token":"abc"},"order":4}`)))

	f := newFixtureWith(t, fsys, storage, store)
	snap, ok := f.reg.Get("alpha")
	require.True(t, ok)
	assert.True(t, snap.Enabled)
	assert.Equal(t, 4, snap.Order)
	assert.Equal(t, map[string]string{"token": "abc"}, snap.UserVariables)
}

func TestInstallThrowingGetterFailsCleanly(t *testing.T) {
	f := newFixture(t)
	src := `module.exports = { get platform() { throw new Error("boom"); }, version: "1.0.0" };`

	var res InstallResult
	require.NotPanics(t, func() {
		res = f.reg.Install(context.Background(), src, "getter.js", InstallOptions{})
	})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, models.ErrCannotParse)
	assert.Equal(t, []string{"local"}, platforms(f.reg.List()))
}

func TestInitSurvivesThrowingGetter(t *testing.T) {
	fsys := afero.NewMemMapFs()
	storage, err := NewSourceStorage(fsys, testDir)
	require.NoError(t, err)
	src := `module.exports = { get platform() { throw new Error("boom"); } };`
	_, err = storage.Write(hashSource(src), src)
	require.NoError(t, err)

	var f *fixture
	require.NotPanics(t, func() {
		f = newFixtureWith(t, fsys, storage, &flakyStore{MemoryStore: NewMemoryStore()})
	})
	list := f.reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "error", list[1].State)
}

func TestInstallDropsBrokenCopiesOfPlatform(t *testing.T) {
	fsys := afero.NewMemMapFs()
	storage, err := NewSourceStorage(fsys, testDir)
	require.NoError(t, err)
	broken := `module.exports = { platform: "x", version: "0.5.0", appVersion: ">=9.0.0" };`
	brokenPath, err := storage.Write(hashSource(broken), broken)
	require.NoError(t, err)

	f := newFixtureWith(t, fsys, storage, &flakyStore{MemoryStore: NewMemoryStore()})
	list := f.reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "error", list[1].State)

	require.True(t, f.reg.Install(context.Background(), source("x", "1.0.0"), "x.js", InstallOptions{}).Success)

	list = f.reg.List()
	assert.Equal(t, []string{"local", "x"}, platforms(list))
	assert.Equal(t, "mounted", list[1].State)

	exists, err := afero.Exists(fsys, brokenPath)
	require.NoError(t, err)
	assert.False(t, exists)

	again := newFixtureWith(t, fsys, storage, f.store)
	assert.Equal(t, []string{"local", "x"}, platforms(again.reg.List()))
}

func TestInitDropsBrokenCopiesOfMountedPlatform(t *testing.T) {
	fsys := afero.NewMemMapFs()
	storage, err := NewSourceStorage(fsys, testDir)
	require.NoError(t, err)
	broken := `module.exports = { platform: "x", version: "2.0.0", appVersion: ">=9.0.0" };`
	brokenPath, err := storage.Write(hashSource(broken), broken)
	require.NoError(t, err)
	good := source("x", "1.0.0")
	_, err = storage.Write(hashSource(good), good)
	require.NoError(t, err)

	f := newFixtureWith(t, fsys, storage, &flakyStore{MemoryStore: NewMemoryStore()})

	list := f.reg.List()
	assert.Equal(t, []string{"local", "x"}, platforms(list))
	assert.Equal(t, "mounted", list[1].State)

	exists, err := afero.Exists(fsys, brokenPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInstallFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/alpha.js":
			fmt.Fprint(w, source("alpha", "1.0.0"))
		case "/big.js":
			fmt.Fprint(w, source("big", "1.0.0")+"\n// "+string(make([]byte, 256)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newFixture(t, WithHTTPClient(srv.Client()), WithMaxSourceSize(200))
	ctx := context.Background()

	res := f.reg.InstallFromURL(ctx, srv.URL+"/alpha.js", InstallOptions{})
	require.True(t, res.Success, res.Message)
	snap, ok := f.reg.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", snap.Info.Platform)

	res = f.reg.InstallFromURL(ctx, srv.URL+"/missing.js", InstallOptions{})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, models.ErrSourceUnavailable)

	res = f.reg.InstallFromURL(ctx, srv.URL+"/big.js", InstallOptions{})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, models.ErrSourceUnavailable)

	res = f.reg.InstallFromURL(ctx, "file:///etc/passwd", InstallOptions{})
	assert.False(t, res.Success)
}

func TestUserVariablesReachProviders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := `module.exports = {
	platform: "vars",
	search() { return { data: [{ id: env.getUserVariables().token || "none" }], isEnd: true }; },
};`
	require.True(t, f.reg.Install(ctx, src, "vars.js", InstallOptions{}).Success)
	require.NoError(t, f.reg.SetUserVariable(ctx, "vars", "token", "xyz"))

	snap, _ := f.reg.Get("vars")
	out, err := snap.Unit.Search(ctx, "q", 1, models.MediaTypeMusic)
	require.NoError(t, err)
	require.Len(t, out.Data, 1)
	assert.Equal(t, "xyz", out.Data[0].ID)
}

func TestCloseClosesSubscribers(t *testing.T) {
	f := newFixture(t)
	events, _ := f.reg.Subscribe(1)
	require.NoError(t, f.reg.Close())
	_, open := <-events
	assert.False(t, open)
}
