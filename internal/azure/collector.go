// Package azure 实现了 Azure Functions 自定义处理程序的调用信封适配层。
// Azure 宿主不会把原始 HTTP 请求直接转发给自定义处理程序，而是通过本地 HTTP
// 传递一个 JSON 格式的"调用信封"，并要求响应也按信封格式返回。
// 该包负责信封的解码/编码、单次调用的日志收集以及相关的中间件。
package azure

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Collector 是单次调用的有序日志槽。
// 自定义处理程序唯一的日志通道是出站信封中的 Logs 字段，
// 因此处理链路上所有想让宿主看到的日志都必须写入 Collector。
//
// 并发模型：
//   - 每个 Collector 仅属于一次调用，绝不跨请求共享
//   - 同一调用的各个异步环节可以并发 Append，由读写锁串行化
//   - Finalize 是唯一的消费操作，要求独占所有权（见 Handle）
type Collector struct {
	mu           sync.RWMutex
	invocationID string
	lines        []string
	finalized    bool
	// handles 记录尚未释放的克隆句柄数量，Finalize 时必须为 0
	handles int32
}

// NewCollector 创建一个绑定到指定调用 ID 的日志收集器。
func NewCollector(invocationID string) *Collector {
	return &Collector{invocationID: invocationID}
}

// InvocationID 返回该收集器绑定的调用 ID。
func (c *Collector) InvocationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.invocationID
}

// Append 追加一行日志，自动以调用 ID 作为前缀。
// 追加顺序即 Finalize 返回的顺序。
// 在 Finalize 之后调用属于逻辑错误，会直接 panic。
func (c *Collector) Append(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		panic("azure: Append called on a finalized log collector")
	}
	c.lines = append(c.lines, c.invocationID+" "+line)
}

// Len 返回当前已收集的日志行数。
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lines)
}

// Handle 克隆一个可跨异步环节持有的日志句柄。
// 持有方必须在把控制权交还给信封编码阶段之前调用 Release，
// 否则 Finalize 会以 panic 报告所有权违规。
func (c *Collector) Handle() *Handle {
	atomic.AddInt32(&c.handles, 1)
	return &Handle{c: c}
}

// Finalize 消费收集器并返回按追加顺序排列的全部日志行。
//
// 所有权约束：调用时不允许存在任何未释放的句柄。残留句柄意味着
// 某个组件可能在排空之后继续追加日志，造成日志丢失或乱序，
// 这是资源泄漏级别的程序缺陷而不是可恢复的运行时错误，因此直接 panic。
// Finalize 只能调用一次，此后收集器不再可用。
func (c *Collector) Finalize() []string {
	if n := atomic.LoadInt32(&c.handles); n != 0 {
		panic(fmt.Sprintf("azure: Finalize called with %d outstanding log handle(s); a handle was retained past the request lifetime", n))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		panic("azure: Finalize called twice on the same log collector")
	}
	c.finalized = true
	lines := c.lines
	c.lines = nil
	return lines
}

// Handle 是 Collector 的引用计数句柄。
// 下游中间件通过句柄在挂起点（等待处理器完成等）之间追加日志，
// 并在返回前释放，保证编码阶段对收集器的独占所有权。
type Handle struct {
	c        *Collector
	released int32
}

// Append 通过句柄追加一行日志。
func (h *Handle) Append(line string) {
	if atomic.LoadInt32(&h.released) != 0 {
		panic("azure: Append called on a released log handle")
	}
	h.c.Append(line)
}

// Appendf 按格式化字符串追加一行日志。
func (h *Handle) Appendf(format string, args ...interface{}) {
	h.Append(fmt.Sprintf(format, args...))
}

// Release 释放句柄。重复释放属于逻辑错误，会直接 panic。
func (h *Handle) Release() {
	if !atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		panic("azure: Release called twice on the same log handle")
	}
	atomic.AddInt32(&h.c.handles, -1)
}
