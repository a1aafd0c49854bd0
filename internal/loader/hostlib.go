package loader

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"github.com/samber/lo"

	"norelock.dev/listenify/providerhost/internal/models"
)

// maxResponseBytes caps what a provider may read from one HTTP response.
const maxResponseBytes = 10 << 20

// dateLayout translates the provider date tokens into a Go layout.
var dateLayout = strings.NewReplacer(
	"YYYY", "2006",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

// installGlobals exposes the fixed capability table to a runtime.
// Nothing outside this table is reachable from provider code.
func (l *Loader) installGlobals(rt *jsRuntime, module *goja.Object) error {
	vm := rt.vm
	modules := map[string]func() *goja.Object{
		"crypto": func() *goja.Object { return cryptoModule(vm) },
		"http":   func() *goja.Object { return l.httpModule(rt) },
		"html":   func() *goja.Object { return htmlModule(vm) },
		"date":   func() *goja.Object { return dateModule(vm) },
		"qs":     func() *goja.Object { return qsModule(vm) },
	}
	cache := make(map[string]*goja.Object, len(modules))

	require := func(name string) (*goja.Object, error) {
		if m, ok := cache[name]; ok {
			return m, nil
		}
		build, ok := modules[name]
		if !ok {
			return nil, fmt.Errorf("module %q is not available", name)
		}
		cache[name] = build()
		return cache[name], nil
	}

	env := vm.NewObject()
	if err := env.Set("getUserVariables", func() map[string]string {
		return l.userVariables(rt.platform)
	}); err != nil {
		return err
	}
	_ = env.Set("appVersion", l.hostVersion.String())
	_ = env.Set("os", runtime.GOOS)
	_ = env.Set("lang", l.opts.Lang)

	globals := map[string]any{
		"module":  module,
		"exports": module.Get("exports"),
		"require": require,
		"console": consoleObject(rt),
		"env":     env,
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("set global %s: %w", name, err)
		}
	}
	return nil
}

func consoleObject(rt *jsRuntime) *goja.Object {
	console := rt.vm.NewObject()
	write := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			msg := strings.Join(parts, " ")
			switch level {
			case "error":
				rt.logger.Error("Provider console", nil, "message", msg)
			case "warn":
				rt.logger.Warn("Provider console", "message", msg)
			case "debug":
				rt.logger.Debug("Provider console", "message", msg)
			default:
				rt.logger.Info("Provider console", "message", msg)
			}
			return goja.Undefined()
		}
	}
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, write(level))
	}
	return console
}

func cryptoModule(vm *goja.Runtime) *goja.Object {
	m := vm.NewObject()
	_ = m.Set("md5", func(s string) string {
		sum := md5.Sum([]byte(s))
		return hex.EncodeToString(sum[:])
	})
	_ = m.Set("sha1", func(s string) string {
		sum := sha1.Sum([]byte(s))
		return hex.EncodeToString(sum[:])
	})
	_ = m.Set("sha256", func(s string) string {
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	})
	_ = m.Set("hmacSha256", func(key, msg string) string {
		mac := hmac.New(sha256.New, []byte(key))
		mac.Write([]byte(msg))
		return hex.EncodeToString(mac.Sum(nil))
	})
	_ = m.Set("base64Encode", func(s string) string {
		return base64.StdEncoding.EncodeToString([]byte(s))
	})
	_ = m.Set("base64Decode", func(s string) (string, error) {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(b), nil
	})
	return m
}

// httpRequest is the options object accepted by http.get and http.post.
type httpRequest struct {
	Headers map[string]string
	Params  map[string]any
}

func requestOptions(raw map[string]any) httpRequest {
	var opts httpRequest
	if h, ok := raw["headers"].(map[string]any); ok {
		opts.Headers = make(map[string]string, len(h))
		for k, v := range h {
			opts.Headers[k] = models.AnyToString(v)
		}
	}
	if p, ok := raw["params"].(map[string]any); ok {
		opts.Params = p
	}
	return opts
}

func (l *Loader) httpModule(rt *jsRuntime) *goja.Object {
	vm := rt.vm
	m := vm.NewObject()

	do := func(method string, call goja.FunctionCall, bodyArg int) goja.Value {
		promise, resolve, reject := vm.NewPromise()

		target := call.Argument(0).String()
		var opts httpRequest
		optArg := bodyArg + 1
		if bodyArg < 0 {
			optArg = 1
		}
		if raw, ok := call.Argument(optArg).Export().(map[string]any); ok {
			opts = requestOptions(raw)
		}

		var body io.Reader
		contentType := ""
		if bodyArg >= 0 {
			switch b := call.Argument(bodyArg).Export().(type) {
			case nil:
			case string:
				body = strings.NewReader(b)
				contentType = "application/x-www-form-urlencoded"
			default:
				raw, err := json.Marshal(b)
				if err != nil {
					reject(vm.NewGoError(err))
					return vm.ToValue(promise)
				}
				body = bytes.NewReader(raw)
				contentType = "application/json"
			}
		}

		res, err := l.fetch(rt.ctx, method, target, opts, body, contentType)
		if err != nil {
			reject(vm.NewGoError(err))
		} else {
			resolve(res)
		}
		return vm.ToValue(promise)
	}

	_ = m.Set("get", func(call goja.FunctionCall) goja.Value {
		return do(http.MethodGet, call, -1)
	})
	_ = m.Set("post", func(call goja.FunctionCall) goja.Value {
		return do(http.MethodPost, call, 1)
	})
	return m
}

// fetch performs one provider HTTP request on behalf of the running call.
func (l *Loader) fetch(ctx context.Context, method, target string, opts httpRequest, body io.Reader, contentType string) (map[string]any, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if len(opts.Params) > 0 {
		q := u.Query()
		for k, v := range opts.Params {
			q.Set(k, models.AnyToString(v))
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := l.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}

	var data any = string(raw)
	var decoded any
	if json.Unmarshal(raw, &decoded) == nil {
		data = decoded
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"data":    data,
	}, nil
}

func htmlModule(vm *goja.Runtime) *goja.Object {
	m := vm.NewObject()
	_ = m.Set("select", func(markup, selector string) ([]any, error) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
		if err != nil {
			return nil, err
		}
		out := make([]any, 0)
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			inner, _ := s.Html()
			attrs := make(map[string]any)
			for _, n := range s.Nodes {
				for _, a := range n.Attr {
					attrs[a.Key] = a.Val
				}
			}
			out = append(out, map[string]any{
				"text":  strings.TrimSpace(s.Text()),
				"html":  inner,
				"attrs": attrs,
			})
		})
		return out, nil
	})
	return m
}

func dateModule(vm *goja.Runtime) *goja.Object {
	m := vm.NewObject()
	_ = m.Set("now", func() int64 {
		return time.Now().UnixMilli()
	})
	_ = m.Set("format", func(call goja.FunctionCall) goja.Value {
		ms := call.Argument(0).ToInteger()
		layout := "YYYY-MM-DD HH:mm:ss"
		if v := call.Argument(1); !goja.IsUndefined(v) {
			layout = v.String()
		}
		return vm.ToValue(time.UnixMilli(ms).UTC().Format(dateLayout.Replace(layout)))
	})
	return m
}

func qsModule(vm *goja.Runtime) *goja.Object {
	m := vm.NewObject()
	_ = m.Set("stringify", func(obj map[string]any) string {
		values := url.Values{}
		for _, k := range lo.Keys(obj) {
			values.Set(k, models.AnyToString(obj[k]))
		}
		return values.Encode()
	})
	_ = m.Set("parse", func(s string) (map[string]any, error) {
		values, err := url.ParseQuery(strings.TrimPrefix(s, "?"))
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(values))
		for k := range maps.Keys(values) {
			out[k] = values.Get(k)
		}
		return out, nil
	})
	return m
}
