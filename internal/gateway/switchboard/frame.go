// Package switchboard 交换台网关
// 承载聊天室服务器角色的线协议：ASCII 命令行以 CRLF 结尾，
// 空格分隔、百分号转义；载荷命令在行尾带一个十进制字节数，
// 其后紧跟等长的原始字节
package switchboard

import (
	"bufio"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"legacy_chat_server/pkg/constants"
	"legacy_chat_server/pkg/errorx"
)

// payloadVerbs 携带尾部载荷的命令集合
var payloadVerbs = map[string]bool{
	"UUX": true, "MSG": true, "QRY": true, "NOT": true, "ADL": true, "FQY": true,
	"RML": true, "UUN": true, "UUM": true, "PUT": true, "DEL": true, "SDG": true,
}

// Frame 一帧已解析的命令
type Frame struct {
	Verb    string
	Args    []string // 已反转义的参数
	Payload []byte   // 载荷命令的原始字节，其余为 nil
}

// FrameReader 从连接上逐帧解析命令
type FrameReader struct {
	br *bufio.Reader
}

// NewFrameReader 创建帧读取器
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{br: bufio.NewReader(r)}
}

// ReadFrame 读取下一帧
// 帧格式非法时返回 CodeProtocolViolation 错误，调用方应硬关闭
func (r *FrameReader) ReadFrame() (*Frame, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(strings.TrimSpace(line)) <= 1 {
		return nil, errorx.Newf(errorx.CodeProtocolViolation, "empty command line")
	}

	tokens := strings.Fields(line)
	frame := &Frame{Verb: strings.ToUpper(tokens[0])}
	rest := tokens[1:]

	// 载荷命令的最后一个 token 是载荷字节数
	if payloadVerbs[frame.Verb] {
		if len(rest) == 0 {
			return nil, errorx.Newf(errorx.CodeProtocolViolation, "%s without payload length", frame.Verb)
		}
		n, err := strconv.Atoi(rest[len(rest)-1])
		if err != nil || n < 0 || n > constants.MAX_FRAME_PAYLOAD {
			return nil, errorx.Newf(errorx.CodeProtocolViolation, "%s bad payload length %q", frame.Verb, rest[len(rest)-1])
		}
		rest = rest[:len(rest)-1]
		frame.Payload = make([]byte, n)
		if _, err := io.ReadFull(r.br, frame.Payload); err != nil {
			return nil, err
		}
	}

	frame.Args = make([]string, 0, len(rest))
	for _, token := range rest {
		unescaped, err := url.PathUnescape(token)
		if err != nil {
			unescaped = token // 非法转义按原样透传，与旧客户端行为一致
		}
		frame.Args = append(frame.Args, unescaped)
	}
	return frame, nil
}

// FrameWriter 向连接写出命令帧
// 事件扇出来自多个协程，写路径整体串行化
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameWriter 创建帧写出器
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame 写出一帧
// 参数支持 string / int / int64 / []byte；[]byte 只能是最后一个
// 参数，会被替换为其长度 token，原始字节追加在行后
func (w *FrameWriter) WriteFrame(verb string, args ...any) error {
	var payload []byte
	tokens := []string{escapeToken(verb)}
	for i, arg := range args {
		if raw, ok := arg.([]byte); ok && i == len(args)-1 {
			payload = raw
			tokens = append(tokens, strconv.Itoa(len(raw)))
			break
		}
		tokens = append(tokens, escapeToken(stringifyArg(arg)))
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(tokens, " "))
	sb.WriteString("\r\n")

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, sb.String()); err != nil {
		return err
	}
	if payload != nil {
		if _, err := w.w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// escapeToken 线上 token 不允许裸空格
func escapeToken(s string) string {
	return strings.ReplaceAll(s, " ", "%20")
}

func stringifyArg(arg any) string {
	switch v := arg.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
