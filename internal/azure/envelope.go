package azure

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	// HeaderInvocationID 是宿主在传输层携带调用 ID 的请求头。
	HeaderInvocationID = "X-Azure-Functions-InvocationId"

	// MissingInvocationID 是调用 ID 缺失时使用的哨兵值。
	// 解码绝不会仅仅因为缺少调用 ID 而失败。
	MissingInvocationID = "(id missing)"

	// defaultInnerBodyPointer 是内层请求体在信封中的默认 JSON 指针。
	// 路径中的 req 必须与 function.json 里 in 绑定的名称一致。
	defaultInnerBodyPointer = "/Data/req/Body"

	// defaultMetadataIDPointer 是旧式部署中调用 ID 在信封里的 JSON 指针。
	defaultMetadataIDPointer = "/Metadata/Id"
)

// IDSource 表示调用 ID 的提取策略。
// 每套部署只使用一种策略，绝不按单个请求的内容切换。
type IDSource string

const (
	// IDSourceHeader 从 X-Azure-Functions-InvocationId 请求头提取调用 ID（当前部署形态）
	IDSourceHeader IDSource = "header"
	// IDSourceMetadata 从信封 JSON 的 Metadata 路径提取调用 ID（历史部署形态）
	IDSourceMetadata IDSource = "metadata"
)

// Shape 表示出站信封的形态。
type Shape string

const (
	// ShapeOutputs 生成 {Outputs:{res:{statusCode,headers,body}},Logs:[...]} 形态（当前部署形态）
	ShapeOutputs Shape = "outputs"
	// ShapeReturnValue 生成 {ReturnValue:...,Logs:[...]} 的简化形态（历史部署形态）
	ShapeReturnValue Shape = "returnvalue"
)

// Options 是信封适配层的部署级配置。
// 所有选项都由部署配置决定，与单个请求的内容无关。
type Options struct {
	// IDSource 指定调用 ID 的提取策略，默认 header
	IDSource IDSource
	// Shape 指定出站信封形态，默认 outputs
	Shape Shape
	// InnerBodyPointer 指定内层请求体的 JSON 指针，默认 /Data/req/Body
	InnerBodyPointer string
	// MetadataIDPointer 指定 metadata 策略下调用 ID 的 JSON 指针，默认 /Metadata/Id
	MetadataIDPointer string
	// IncludeAllHeaders 为 true 时把响应的全部头部写入信封，
	// 默认只透传 Location（重定向目标）
	IncludeAllHeaders bool
	// ForceSuccessStatus 为 true 时对宿主统一返回 200。
	// 宿主会丢弃非成功传输状态码下的 Logs 载荷，真实状态码仍然记录在信封体内。
	ForceSuccessStatus bool
}

// withDefaults 填充未设置的选项默认值。
func (o Options) withDefaults() Options {
	if o.IDSource == "" {
		o.IDSource = IDSourceHeader
	}
	if o.Shape == "" {
		o.Shape = ShapeOutputs
	}
	if o.InnerBodyPointer == "" {
		o.InnerBodyPointer = defaultInnerBodyPointer
	}
	if o.MetadataIDPointer == "" {
		o.MetadataIDPointer = defaultMetadataIDPointer
	}
	return o
}

// decodedEnvelope 是入站信封解码的结果。
type decodedEnvelope struct {
	invocationID string
	// innerBody 为 nil 表示信封中没有可用的内层请求体，继续沿用外层请求体
	innerBody *string
	// diagnostics 是解码过程中产生的告警日志（内层请求体缺失或类型错误等）
	diagnostics []string
}

// decodeEnvelope 解析入站信封。
// 信封 JSON 无法解析属于终止性错误：没有信封就无法恢复内层请求。
// 调用 ID 与内层请求体的缺失则按降级处理，不会使请求失败。
func decodeEnvelope(body []byte, header http.Header, opts Options) (*decodedEnvelope, error) {
	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("malformed invocation envelope: %w", err)
	}

	dec := &decodedEnvelope{invocationID: MissingInvocationID}

	switch opts.IDSource {
	case IDSourceMetadata:
		if v, ok := jsonPointer(payload, opts.MetadataIDPointer); ok {
			if id, ok := v.(string); ok && id != "" {
				dec.invocationID = id
			}
		}
	default:
		if id := header.Get(HeaderInvocationID); id != "" {
			dec.invocationID = id
		}
	}

	if v, ok := jsonPointer(payload, opts.InnerBodyPointer); ok {
		if inner, ok := v.(string); ok {
			dec.innerBody = &inner
		} else {
			dec.diagnostics = append(dec.diagnostics,
				fmt.Sprintf("EnvelopeMiddleware Error: %q not a string, check function.json", opts.InnerBodyPointer))
		}
	} else {
		dec.diagnostics = append(dec.diagnostics,
			fmt.Sprintf("EnvelopeMiddleware Error: %q not found, check function.json", opts.InnerBodyPointer))
	}

	return dec, nil
}

// jsonPointer 在解码后的 JSON 值上按 JSON 指针取值。
// 支持对象键与数组下标，返回值与路径是否存在的标记。
func jsonPointer(v interface{}, pointer string) (interface{}, bool) {
	if pointer == "" || pointer == "/" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// outputsResponse 是 Outputs 形态下 res 绑定的内容。
// res 必须与 function.json 里 out 绑定的名称一致。
type outputsResponse struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// outputsEnvelope 是当前部署形态的出站信封。
type outputsEnvelope struct {
	Outputs map[string]outputsResponse `json:"Outputs"`
	// Logs 是本次调用收集到的日志，这是自定义处理程序唯一的日志上报通道
	Logs []string `json:"Logs"`
}

// returnValueEnvelope 是历史部署形态的简化出站信封。
type returnValueEnvelope struct {
	ReturnValue string   `json:"ReturnValue"`
	Logs        []string `json:"Logs"`
}

// encodeEnvelope 把下游管线的响应与排空后的日志编码为出站信封。
func encodeEnvelope(rec *responseRecorder, logs []string, opts Options) ([]byte, error) {
	if logs == nil {
		logs = []string{}
	}

	if opts.Shape == ShapeReturnValue {
		return json.Marshal(returnValueEnvelope{
			ReturnValue: rec.body.String(),
			Logs:        logs,
		})
	}

	headers := map[string]string{}
	if opts.IncludeAllHeaders {
		for k := range rec.header {
			headers[k] = rec.header.Get(k)
		}
	} else if loc := rec.header.Get("Location"); loc != "" {
		headers["Location"] = loc
	}

	return json.Marshal(outputsEnvelope{
		Outputs: map[string]outputsResponse{
			"res": {
				StatusCode: rec.status,
				Headers:    headers,
				Body:       rec.body.String(),
			},
		},
		Logs: logs,
	})
}

// responseRecorder 捕获下游管线写出的响应，供信封编码阶段使用。
// 真正写回宿主的只有编码后的信封。
type responseRecorder struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header: make(http.Header),
		status: http.StatusOK,
	}
}

// Header 实现 http.ResponseWriter。
func (r *responseRecorder) Header() http.Header {
	return r.header
}

// WriteHeader 实现 http.ResponseWriter。
func (r *responseRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
}

// Write 实现 http.ResponseWriter。
func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(p)
}
