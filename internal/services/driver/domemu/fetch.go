package domemu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dop251/goja"

	"github.com/ternarybob/cohortprobe/internal/common"
)

// maxResponseBytes caps what a page fetch will buffer
const maxResponseBytes = 16 << 20

type fetchResult struct {
	status     int
	statusText string
	url        string
	redirected bool
	header     http.Header
	body       []byte
}

// fetch implements window.fetch. The request runs off the loop and the
// promise settles back on it.
func (p *page) fetch(call goja.FunctionCall) goja.Value {
	vm := p.vm
	promise, resolve, reject := vm.NewPromise()

	method := http.MethodGet
	headers := map[string]string{}
	var body []byte

	if opts, ok := call.Argument(1).(*goja.Object); ok {
		if m := opts.Get("method"); m != nil && !goja.IsUndefined(m) {
			method = strings.ToUpper(m.String())
		}
		if h, ok := opts.Get("headers").(*goja.Object); ok {
			for _, k := range h.Keys() {
				headers[k] = h.Get(k).String()
			}
		}
		if b := opts.Get("body"); b != nil && !goja.IsUndefined(b) && !goja.IsNull(b) {
			body = []byte(b.String())
		}
	}

	target, err := p.resolve(call.Argument(0).String())
	if err != nil {
		reject(vm.NewTypeError("Failed to fetch: " + err.Error()))
		return vm.ToValue(promise)
	}

	common.SafeGo(p.logger, "page fetch", func() {
		res, err := p.get(p.ctx, method, target, headers, body)
		p.loop.settle(func() {
			if err != nil {
				p.logger.Debug().Err(err).Str("url", target).Msg("Page fetch failed")
				reject(vm.NewTypeError("Failed to fetch: " + err.Error()))
			} else {
				resolve(p.newResponse(res))
			}
		})
	})

	return vm.ToValue(promise)
}

// get performs a request on behalf of the page. Safe off the loop.
func (p *page) get(ctx context.Context, method, target string, headers map[string]string, body []byte) (*fetchResult, error) {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &fetchResult{
		status:     resp.StatusCode,
		statusText: http.StatusText(resp.StatusCode),
		url:        finalURL,
		redirected: finalURL != target,
		header:     resp.Header,
		body:       data,
	}, nil
}

func (p *page) newResponse(res *fetchResult) *goja.Object {
	vm := p.vm
	obj := vm.NewObject()

	_ = obj.Set("ok", res.status >= 200 && res.status <= 299)
	_ = obj.Set("status", res.status)
	_ = obj.Set("statusText", res.statusText)
	_ = obj.Set("url", res.url)
	_ = obj.Set("redirected", res.redirected)

	headers := vm.NewObject()
	_ = headers.Set("get", func(call goja.FunctionCall) goja.Value {
		v := res.header.Get(call.Argument(0).String())
		if v == "" {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	_ = headers.Set("has", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(res.header.Get(call.Argument(0).String()) != "")
	})
	_ = obj.Set("headers", headers)

	_ = obj.Set("text", func(goja.FunctionCall) goja.Value {
		promise, resolve, _ := vm.NewPromise()
		resolve(string(res.body))
		return vm.ToValue(promise)
	})
	_ = obj.Set("json", func(goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()
		var decoded interface{}
		if err := json.Unmarshal(res.body, &decoded); err != nil {
			reject(vm.NewTypeError("Invalid JSON: " + err.Error()))
		} else {
			resolve(decoded)
		}
		return vm.ToValue(promise)
	})

	return obj
}
