package azure

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Envelope 返回调用信封适配中间件。
//
// 该中间件是自定义处理程序与 Azure 宿主之间的边界：
//  1. 解码宿主送来的调用信封，提取调用 ID 与内层请求体
//  2. 创建本次调用的日志收集器并挂到请求 context 上
//  3. 以内层请求体驱动下游处理链，且保证整条链只被适配一次
//  4. 处理链返回后独占排空收集器，把响应与日志重新编码为出站信封
//
// 宿主侧要求 function.json 的 in/out 绑定分别命名为 req 与 res，
// 与信封 JSON 路径中的名称一一对应：
//
//	{
//	    "bindings": [
//	        { "name": "req", "type": "httpTrigger", "direction": "in", "methods": ["post"] },
//	        { "name": "res", "type": "http", "direction": "out" }
//	    ]
//	}
//
// 信封 JSON 无法解析时请求终止，向宿主返回普通 500：
// 此时既没有调用 ID 也没有收集器，无从构造信封化的错误响应。
func Envelope(opts Options, logger *logrus.Logger) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 运行一次守卫：适配层在嵌套管线中被重复挂载时，内层挂载退化为透传，
			// 避免信封被二次包裹、日志被重复计入
			if st := StateFrom(r.Context()); st != nil && st.envelopeApplied {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				logger.WithError(err).Error("Failed to read invocation envelope body")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			r.Body.Close()

			dec, err := decodeEnvelope(body, r.Header, opts)
			if err != nil {
				// 终止性解码错误：无法恢复内层请求
				logger.WithError(err).Error("Failed to decode invocation envelope")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			collector := NewCollector(dec.invocationID)
			for _, line := range dec.diagnostics {
				collector.Append(line)
			}

			// 内层请求体可用时重写请求体；否则容忍宿主配置漂移，沿用外层请求体
			if dec.innerBody != nil {
				r.Body = io.NopCloser(strings.NewReader(*dec.innerBody))
				r.ContentLength = int64(len(*dec.innerBody))
			} else {
				r.Body = io.NopCloser(bytes.NewReader(body))
				r.ContentLength = int64(len(body))
			}

			state := &RequestState{Logs: collector, envelopeApplied: true}
			r = r.WithContext(WithRequestState(r.Context(), state))

			rec := newResponseRecorder()
			next.ServeHTTP(rec, r) // 继续下游处理链

			// 独占排空收集器。此时残留任何克隆句柄都是所有权违规，
			// Finalize 会以 panic 终止请求而不是带着可能缺失的日志继续
			logs := collector.Finalize()

			out, err := encodeEnvelope(rec, logs, opts)
			if err != nil {
				logger.WithError(err).Error("Failed to encode outbound envelope")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			status := rec.status
			if opts.ForceSuccessStatus {
				// 宿主只在传输层状态为 200 时保留 Logs，真实状态码已记录在信封体内
				status = http.StatusOK
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			if _, err := w.Write(out); err != nil {
				logger.WithError(err).Warn("Failed to write outbound envelope")
			}
		})
	}
}
