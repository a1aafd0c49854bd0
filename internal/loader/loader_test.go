package loader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/listenify/providerhost/internal/models"
	"norelock.dev/listenify/providerhost/internal/provider"
	"norelock.dev/listenify/providerhost/internal/utils"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := New(Options{HostVersion: "1.4.0", MaxRuntimes: 2}, utils.NewNopLogger())
	require.NoError(t, err)
	return l
}

const basicSource = `
module.exports = {
	platform: "demo",
	version: "1.0.0",
	author: "someone",
	primaryKey: ["id"],
	supportedSearchType: ["music", "album"],
	userVariables: [
		{ key: "token", name: "Token" },
		{ name: "no key" },
	],
	search: function (query, page, type) {
		return {
			isEnd: false,
			data: [
				{ id: 1, title: query + " " + page, platform: "spoofed", bitrate: 320 },
				{ id: "two", title: type },
			],
		};
	},
	getMediaSource: function (item, quality) {
		return { url: "https://cdn.example/" + item.id + "?q=" + quality };
	},
};
`

func TestLoadMounted(t *testing.T) {
	l := newTestLoader(t)
	res := l.Load(context.Background(), basicSource, "demo.js")

	require.True(t, res.Mounted(), "load error: %v", res.Err)
	assert.Equal(t, StateMounted, res.State)
	require.NotNil(t, res.Unit)

	info := res.Unit.Info()
	assert.Equal(t, "demo", info.Platform)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, []string{"id"}, info.PrimaryKey)
	assert.Equal(t, []models.MediaType{models.MediaTypeMusic, models.MediaTypeAlbum}, info.SupportedSearchType)
	require.Len(t, info.UserVariables, 1)
	assert.Equal(t, "token", info.UserVariables[0].Key)

	caps := res.Unit.Capabilities()
	assert.True(t, caps.Has(provider.CapSearch))
	assert.True(t, caps.Has(provider.CapMediaSource))
	assert.False(t, caps.Has(provider.CapLyric))
}

func TestScriptUnitCalls(t *testing.T) {
	l := newTestLoader(t)
	res := l.Load(context.Background(), basicSource, "demo.js")
	require.True(t, res.Mounted())
	ctx := context.Background()

	out, err := res.Unit.Search(ctx, "hello", 2, models.MediaTypeMusic)
	require.NoError(t, err)
	require.Len(t, out.Data, 2)
	assert.Equal(t, "1", out.Data[0].ID)
	assert.Equal(t, "hello 2", out.Data[0].Title)
	assert.EqualValues(t, 320, out.Data[0].Extra["bitrate"])
	assert.Equal(t, "music", out.Data[1].Title)
	require.NotNil(t, out.IsEnd)
	assert.False(t, *out.IsEnd)

	src, err := res.Unit.GetMediaSource(ctx, models.MediaItem{ID: "42"}, models.QualityHigh)
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, "https://cdn.example/42?q=high", src.URL)

	_, err = res.Unit.GetLyric(ctx, models.MediaItem{ID: "42"})
	assert.ErrorIs(t, err, provider.ErrUnsupported)
}

func TestLoadCannotParse(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"syntax error", "module.exports = {"},
		{"throws at top level", "throw new Error('boom')"},
		{"no platform", "module.exports = { version: '1.0.0' }"},
		{"empty platform", "module.exports = { platform: '' }"},
		{"platform not a string", "module.exports = { platform: 7 }"},
		{"exports not an object", "module.exports = 'demo'"},
		{"unknown module", "const fs = require('fs'); module.exports = { platform: 'x' }"},
	}

	l := newTestLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := l.Load(context.Background(), tt.source, "bad.js")

			assert.Equal(t, StateError, res.State)
			assert.Equal(t, models.ReasonCannotParse, res.Reason)
			assert.ErrorIs(t, res.Err, models.ErrCannotParse)

			require.NotNil(t, res.Unit)
			out, err := res.Unit.Search(context.Background(), "q", 1, models.MediaTypeMusic)
			require.NoError(t, err)
			assert.Empty(t, out.Data)
			require.NotNil(t, out.IsEnd)
			assert.True(t, *out.IsEnd)

			src, err := res.Unit.GetMediaSource(context.Background(), models.MediaItem{ID: "1"}, models.QualityStandard)
			assert.NoError(t, err)
			assert.Nil(t, src)
		})
	}
}

func TestLoadThrowingGetters(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"platform getter", `module.exports = { get platform() { throw new Error("boom"); }, version: "1.0.0" }`},
		{"metadata getter", `module.exports = { platform: "g", get userVariables() { throw new Error("boom"); } }`},
		{"method getter", `module.exports = { platform: "g", get search() { throw new Error("boom"); } }`},
	}

	l := newTestLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res *Result
			require.NotPanics(t, func() {
				res = l.Load(context.Background(), tt.source, "getter.js")
			})

			assert.Equal(t, StateError, res.State)
			assert.Equal(t, models.ReasonCannotParse, res.Reason)
			assert.ErrorIs(t, res.Err, models.ErrCannotParse)
			require.NotNil(t, res.Unit)
			assert.Equal(t, provider.Capabilities(0), res.Unit.Capabilities())
		})
	}
}

func TestLoadVersionIncompatible(t *testing.T) {
	l := newTestLoader(t)

	t.Run("range not satisfied", func(t *testing.T) {
		res := l.Load(context.Background(), `module.exports = { platform: "future", version: "1.0.0", appVersion: ">=2.0.0", search() { return { data: [] } } }`, "future.js")
		assert.Equal(t, StateError, res.State)
		assert.Equal(t, models.ReasonVersionIncompatible, res.Reason)
		assert.ErrorIs(t, res.Err, models.ErrVersionIncompatible)

		// the partially read identity stays inspectable
		assert.Equal(t, "future", res.Unit.Info().Platform)
		assert.Equal(t, ">=2.0.0", res.Unit.Info().AppVersion)
		assert.Equal(t, provider.Capabilities(0), res.Unit.Capabilities())
	})

	t.Run("range satisfied", func(t *testing.T) {
		res := l.Load(context.Background(), `module.exports = { platform: "now", appVersion: ">=1.2 <2" }`, "now.js")
		assert.True(t, res.Mounted())
	})

	t.Run("unparsable range", func(t *testing.T) {
		res := l.Load(context.Background(), `module.exports = { platform: "odd", appVersion: "not a range" }`, "odd.js")
		assert.Equal(t, models.ReasonVersionIncompatible, res.Reason)
	})
}

func TestNewRejectsInvalidHostVersion(t *testing.T) {
	_, err := New(Options{HostVersion: "latest"}, utils.NewNopLogger())
	assert.Error(t, err)
}

func TestAsyncProviderWithHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"items":[{"id":"a","title":%q}],"more":true}`, r.URL.Query().Get("q"))
	}))
	defer srv.Close()

	source := fmt.Sprintf(`
const http = require("http");
module.exports = {
	platform: "net",
	async search(query, page) {
		const res = await http.get(%q + "/search", { params: { q: query, page: page } });
		if (res.status !== 200) throw new Error("bad status");
		return { data: res.data.items, isEnd: !res.data.more };
	},
};`, srv.URL)

	l := newTestLoader(t)
	res := l.Load(context.Background(), source, "net.js")
	require.True(t, res.Mounted(), "load error: %v", res.Err)

	out, err := res.Unit.Search(context.Background(), "jazz", 1, models.MediaTypeMusic)
	require.NoError(t, err)
	require.Len(t, out.Data, 1)
	assert.Equal(t, "jazz", out.Data[0].Title)
	require.NotNil(t, out.IsEnd)
	assert.False(t, *out.IsEnd)
}

func TestRejectedPromiseIsAnError(t *testing.T) {
	l := newTestLoader(t)
	res := l.Load(context.Background(), `module.exports = { platform: "rej", async search() { throw new Error("nope") } }`, "rej.js")
	require.True(t, res.Mounted())

	out, err := res.Unit.Search(context.Background(), "q", 1, models.MediaTypeMusic)
	assert.Error(t, err)
	assert.Nil(t, out)
}

func TestHostModules(t *testing.T) {
	source := `
const crypto = require("crypto");
const html = require("html");
const qs = require("qs");
const date = require("date");
module.exports = {
	platform: "libs",
	getMusicInfo(item) {
		const links = html.select('<ul><li><a href="/x">First</a></li><li><a href="/y">Second</a></li></ul>', "a");
		const parsed = qs.parse("a=1&b=two");
		return {
			id: item.id,
			title: links[1].text,
			url: links[0].attrs.href,
			md5: crypto.md5("abc"),
			b64: crypto.base64Decode(crypto.base64Encode("hi")),
			query: qs.stringify({ b: 2, a: "x y" }),
			parsedB: parsed.b,
			day: date.format(0, "YYYY-MM-DD"),
			vars: env.getUserVariables().token,
		};
	},
};`

	l := newTestLoader(t)
	l.BindVariables(func(platform string) map[string]string {
		if platform == "libs" {
			return map[string]string{"token": "secret"}
		}
		return nil
	})
	res := l.Load(context.Background(), source, "libs.js")
	require.True(t, res.Mounted(), "load error: %v", res.Err)

	item, err := res.Unit.GetMusicInfo(context.Background(), models.MediaItem{ID: "9"})
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "9", item.ID)
	assert.Equal(t, "Second", item.Title)
	assert.Equal(t, "/x", item.URL)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", item.Extra["md5"])
	assert.Equal(t, "hi", item.Extra["b64"])
	assert.Equal(t, "a=x+y&b=2", item.Extra["query"])
	assert.Equal(t, "two", item.Extra["parsedB"])
	assert.Equal(t, "1970-01-01", item.Extra["day"])
	assert.Equal(t, "secret", item.Extra["vars"])
}

func TestCallCancelledByContext(t *testing.T) {
	l := newTestLoader(t)
	res := l.Load(context.Background(), `module.exports = { platform: "spin", search() { while (true) {} } }`, "spin.js")
	require.True(t, res.Mounted())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := res.Unit.Search(ctx, "q", 1, models.MediaTypeMusic)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRuntimeReusableAfterInterrupt(t *testing.T) {
	l, err := New(Options{HostVersion: "1.0.0", MaxRuntimes: 1}, utils.NewNopLogger())
	require.NoError(t, err)
	res := l.Load(context.Background(), `module.exports = {
		platform: "flaky",
		search(q) {
			if (q === "spin") { while (true) {} }
			return { data: [{ id: q }], isEnd: true };
		},
	}`, "flaky.js")
	require.True(t, res.Mounted())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = res.Unit.Search(ctx, "spin", 1, models.MediaTypeMusic)
	require.Error(t, err)

	out, err := res.Unit.Search(context.Background(), "ok", 1, models.MediaTypeMusic)
	require.NoError(t, err)
	require.Len(t, out.Data, 1)
	assert.Equal(t, "ok", out.Data[0].ID)
}

func TestConcurrentCallsShareBoundedPool(t *testing.T) {
	l := newTestLoader(t)
	res := l.Load(context.Background(), `
let counter = 0;
module.exports = {
	platform: "pool",
	search(q) { counter++; return { data: [{ id: q }], isEnd: true }; },
};`, "pool.js")
	require.True(t, res.Mounted())

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := res.Unit.Search(context.Background(), fmt.Sprint(i), 1, models.MediaTypeMusic)
			if err == nil && (len(out.Data) != 1 || out.Data[0].ID != fmt.Sprint(i)) {
				err = fmt.Errorf("unexpected result for %d", i)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	unit := res.Unit.(*ScriptUnit)
	assert.LessOrEqual(t, len(unit.pool.idle), 2)
}

func TestClosedUnitRefusesCalls(t *testing.T) {
	l := newTestLoader(t)
	res := l.Load(context.Background(), basicSource, "demo.js")
	require.True(t, res.Mounted())

	require.NoError(t, provider.Release(res.Unit))
	_, err := res.Unit.Search(context.Background(), "q", 1, models.MediaTypeMusic)
	assert.ErrorIs(t, err, ErrUnitClosed)
}
