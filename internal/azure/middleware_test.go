package azure

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// testLogger 返回一个丢弃输出的进程级日志记录器。
func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// serveEnveloped 用给定的中间件与处理器搭建路由并执行一次信封调用。
func serveEnveloped(t *testing.T, opts Options, mws []func(http.Handler) http.Handler, handler http.HandlerFunc, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	r := chi.NewRouter()
	r.Use(Envelope(opts, testLogger()))
	for _, mw := range mws {
		r.Use(mw)
	}
	r.Post("/fn", handler)

	req := httptest.NewRequest(http.MethodPost, "/fn", strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// TestEnvelopeMiddlewareRoundTrip 验证完整的信封往返：
// 处理器读到内层请求体，响应与日志被编码为出站信封。
func TestEnvelopeMiddlewareRoundTrip(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		inner, _ := io.ReadAll(r.Body)
		if string(inner) != "hello" {
			t.Errorf("handler saw body %q, want %q", inner, "hello")
		}
		Log(r.Context(), "handled: %s", inner)
		w.Write([]byte("done"))
	}

	w := serveEnveloped(t, Options{IDSource: IDSourceMetadata, ForceSuccessStatus: true}, nil, handler,
		`{"Data":{"req":{"Body":"hello"}},"Metadata":{"Id":"123"}}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("transport status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var env outputsEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not an envelope: %v", err)
	}
	if env.Outputs["res"].Body != "done" {
		t.Errorf("envelope body = %q, want %q", env.Outputs["res"].Body, "done")
	}
	if len(env.Logs) != 1 || env.Logs[0] != "123 handled: hello" {
		t.Errorf("Logs = %v, want single id-prefixed line", env.Logs)
	}
}

// TestEnvelopeMiddlewareMissingBodyDiagnostic 验证内层请求体缺失时：
// 恰好一条包含 not found 的诊断日志，且处理器读到外层请求体。
func TestEnvelopeMiddlewareMissingBodyDiagnostic(t *testing.T) {
	outer := `{"Metadata":{"Id":"9"}}`
	handler := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != outer {
			t.Errorf("handler saw %q, want the outer body", body)
		}
		w.Write([]byte("ok"))
	}

	w := serveEnveloped(t, Options{}, nil, handler, outer, nil)

	var env outputsEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if len(env.Logs) != 1 || !strings.Contains(env.Logs[0], "not found") {
		t.Errorf("Logs = %v, want exactly one diagnostic containing %q", env.Logs, "not found")
	}
}

// TestEnvelopeMiddlewareDecodeError 验证信封 JSON 无法解析时返回普通 500（非信封响应）。
func TestEnvelopeMiddlewareDecodeError(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run on a terminal decode error")
	}

	w := serveEnveloped(t, Options{ForceSuccessStatus: true}, nil, handler, "not json", nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var env outputsEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err == nil && env.Outputs != nil {
		t.Error("decode errors must not produce an enveloped response")
	}
}

// TestEnvelopeMiddlewareRunOnce 验证适配层双重挂载时只包裹一次信封、只产生一份 Logs。
func TestEnvelopeMiddlewareRunOnce(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		Log(r.Context(), "once")
		w.Write([]byte("inner"))
	}

	// 第二次挂载模拟嵌套子应用中重复安装的适配层
	w := serveEnveloped(t, Options{ForceSuccessStatus: true},
		[]func(http.Handler) http.Handler{Envelope(Options{ForceSuccessStatus: true}, testLogger())},
		handler, `{"Data":{"req":{"Body":"x"}}}`, nil)

	var env outputsEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	// 内层 body 必须是处理器的原始输出，而不是再套一层信封
	if env.Outputs["res"].Body != "inner" {
		t.Errorf("envelope body = %q; nested mounting must not double-wrap", env.Outputs["res"].Body)
	}
	if len(env.Logs) != 1 {
		t.Errorf("Logs = %v, want exactly one line", env.Logs)
	}
}

// TestEnvelopeMiddlewareStatusOverride 验证状态覆写策略：
// 下游 404 在传输层以 200 返回，真实状态码记录在信封体内。
func TestEnvelopeMiddlewareStatusOverride(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such member", http.StatusNotFound)
	}

	w := serveEnveloped(t, Options{ForceSuccessStatus: true}, nil, handler,
		`{"Data":{"req":{"Body":"x"}}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transport status = %d, want 200 with override enabled", w.Code)
	}
	var env outputsEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Outputs["res"].StatusCode != http.StatusNotFound {
		t.Errorf("inner statusCode = %d, want 404", env.Outputs["res"].StatusCode)
	}

	// 关闭覆写时真实状态码直达传输层
	w = serveEnveloped(t, Options{}, nil, handler, `{"Data":{"req":{"Body":"x"}}}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("transport status = %d, want 404 with override disabled", w.Code)
	}
}

// TestLogObserverErrorClasses 验证观察中间件对 4xx/5xx 追加诊断日志且不改写响应。
func TestLogObserverErrorClasses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		setErr    bool
		wantClass string
		wantInLog []string
	}{
		{
			name:      "client error with structured error",
			status:    http.StatusNotFound,
			setErr:    true,
			wantClass: "Client error.",
			wantInLog: []string{`"boom"`, "error_type: mailchimp", "404"},
		},
		{
			name:      "server error without structured error",
			status:    http.StatusInternalServerError,
			wantClass: "Internal error.",
			wantInLog: []string{"500"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := func(w http.ResponseWriter, r *http.Request) {
				if tt.setErr {
					SetHandlerError(r.Context(), &HandlerError{Status: tt.status, Type: "mailchimp", Message: "boom"})
				}
				w.WriteHeader(tt.status)
				w.Write([]byte("body"))
			}

			w := serveEnveloped(t, Options{ForceSuccessStatus: true},
				[]func(http.Handler) http.Handler{LogObserver()},
				handler, `{"Data":{"req":{"Body":"x"}}}`, nil)

			var env outputsEnvelope
			if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
				t.Fatal(err)
			}
			if env.Outputs["res"].StatusCode != tt.status {
				t.Errorf("inner statusCode = %d, want %d", env.Outputs["res"].StatusCode, tt.status)
			}
			if env.Outputs["res"].Body != "body" {
				t.Errorf("observer must not mutate the response body, got %q", env.Outputs["res"].Body)
			}
			if len(env.Logs) != 1 {
				t.Fatalf("Logs = %v, want exactly one diagnostic line", env.Logs)
			}
			line := env.Logs[0]
			if !strings.Contains(line, tt.wantClass) {
				t.Errorf("log %q missing class %q", line, tt.wantClass)
			}
			for _, frag := range tt.wantInLog {
				if !strings.Contains(line, frag) {
					t.Errorf("log %q missing %q", line, frag)
				}
			}
			if !strings.Contains(line, "duration:") {
				t.Errorf("log %q missing elapsed duration", line)
			}
		})
	}
}

// TestLogObserverSuccessNoop 验证成功状态下观察中间件不产生任何日志。
func TestLogObserverSuccessNoop(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}

	w := serveEnveloped(t, Options{ForceSuccessStatus: true},
		[]func(http.Handler) http.Handler{LogObserver()},
		handler, `{"Data":{"req":{"Body":"x"}}}`, nil)

	var env outputsEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if len(env.Logs) != 0 {
		t.Errorf("Logs = %v, want none on success", env.Logs)
	}
}

// TestEnvelopeMiddlewareRetainedHandleIsFatal 验证处理器越过请求生命周期保留句柄时，
// 信封编码阶段的独占排空以 panic 终止请求。
func TestEnvelopeMiddlewareRetainedHandleIsFatal(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		// 故意保留句柄不释放，模拟资源泄漏类缺陷
		StateFrom(r.Context()).Logs.Handle()
		w.Write([]byte("ok"))
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("a retained handle must make the encode stage panic")
		}
	}()
	serveEnveloped(t, Options{}, nil, handler, `{"Data":{"req":{"Body":"x"}}}`, nil)
}
