package azure

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// LogObserver 返回错误观察中间件。
//
// 该中间件必须与 Envelope 搭配使用，挂载在其后：它包裹下游处理链，
// 统计耗时，并在最终状态落在客户端错误或服务端错误区间时向日志收集器
// 追加一行诊断日志（包含状态码、耗时以及处理器记录的结构化错误），
// 对响应本身不做任何修改。成功状态下完全不产生日志。
//
// 中间件通过克隆句柄跨越等待下游完成的挂起点持有收集器，
// 并在返回前释放，不影响信封编码阶段的独占排空。
func LogObserver() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := mustState(r.Context())

			// 运行一次守卫，与信封适配层同样支持嵌套挂载
			if state.logObserverApplied {
				next.ServeHTTP(w, r)
				return
			}
			state.logObserverApplied = true

			logs := state.Logs.Handle()
			defer logs.Release()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			start := time.Now()
			next.ServeHTTP(ww, r) // 继续下游处理链
			elapsed := time.Since(start)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			var class string
			switch {
			case status >= 500:
				class = "Internal error."
			case status >= 400:
				class = "Client error."
			default:
				return
			}

			if herr := state.HandlerError(); herr != nil {
				logs.Appendf("%s message: %q, error_type: %s, status: %d - %s, duration: %s",
					class, herr.Message, herr.Type, status, http.StatusText(status), elapsed)
			} else {
				logs.Appendf("%s status: %d - %s, duration: %s",
					class, status, http.StatusText(status), elapsed)
			}
		})
	}
}
