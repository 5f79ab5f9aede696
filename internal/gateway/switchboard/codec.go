package switchboard

// 旧式 MIME 消息体编解码
// 协议中立的 MessageData 与线上消息体之间的互译是一层兼容垫片：
// 解析失败一律退化为占位文本，绝不报错；编码结果按目标协议缓存，
// 多人扇出时不重复计算

import (
	"bufio"
	"bytes"
	"fmt"
	"net/textproto"
	"strings"

	"legacy_chat_server/internal/service/backend"
)

// ProtocolName 本网关在共享模型中的协议名
const ProtocolName = "msn"

// unsupportedPlaceholder 无法识别的内容类型的占位正文
const unsupportedPlaceholder = "(Unsupported MSNP Content-Type)"

// MessageDataToWire 编码为线上消息体
// 同一条消息对同一协议只编码一次
func MessageDataToWire(data *backend.MessageData) []byte {
	if wire, ok := data.CachedWire(ProtocolName); ok {
		return wire
	}
	var s string
	switch data.Type {
	case backend.MessageTypeTyping:
		s = fmt.Sprintf("MIME-Version: 1.0\r\nContent-Type: text/x-msmsgscontrol\r\nTypingUser: %s\r\n\r\n\r\n", data.Sender.Email)
	case backend.MessageTypeNudge:
		s = "MIME-Version: 1.0\r\nContent-Type: text/x-msnmsgr-datacast\r\n\r\nID: 1\r\n\r\n"
	default:
		s = "MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n" + data.Text
	}
	wire := []byte(s)
	data.SetCachedWire(ProtocolName, wire)
	return wire
}

// MessageDataFromWire 解码线上消息体
// 头部块以空行结束；按声明的内容类型分派：
//   - 控制/输入中类型：空正文，映射为 Typing
//   - datacast 类型：正文的 ID 字段选择子类型，ID=1 为 Nudge
//   - 纯文本类型：正文即消息文本
//   - 其余或无法解析：退化为占位文本
func MessageDataFromWire(sender *backend.User, senderPopID string, wire []byte) *backend.MessageData {
	msgType, text := decodeBody(wire)
	data := backend.NewMessageData(sender, senderPopID, msgType, text)
	data.SetCachedWire(ProtocolName, wire)
	return data
}

func decodeBody(wire []byte) (backend.MessageType, string) {
	i := bytes.Index(wire, []byte("\r\n\r\n"))
	if i < 0 {
		return backend.MessageTypeChat, unsupportedPlaceholder
	}
	headerBlock := wire[:i+4]
	body := wire[i+4:]

	tr := textproto.NewReader(bufio.NewReader(bytes.NewReader(headerBlock)))
	headers, err := tr.ReadMIMEHeader()
	if err != nil {
		return backend.MessageTypeChat, unsupportedPlaceholder
	}

	contentType := headers.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "text/x-msmsgscontrol"):
		return backend.MessageTypeTyping, ""
	case strings.HasPrefix(contentType, "text/x-msnmsgr-datacast"):
		return decodeDatacast(body)
	case strings.HasPrefix(contentType, "text/plain"):
		return backend.MessageTypeChat, string(body)
	default:
		return backend.MessageTypeChat, unsupportedPlaceholder
	}
}

// decodeDatacast 解析 datacast 正文的 ID 字段
func decodeDatacast(body []byte) (backend.MessageType, string) {
	s := string(body)
	idStart := strings.Index(s, "ID:")
	if idStart < 0 {
		return backend.MessageTypeChat, unsupportedPlaceholder
	}
	idStart += 3
	idEnd := strings.Index(s[idStart:], "\r\n")
	if idEnd < 0 {
		return backend.MessageTypeChat, unsupportedPlaceholder
	}
	id := strings.TrimSpace(s[idStart : idStart+idEnd])
	if id == "1" {
		return backend.MessageTypeNudge, ""
	}
	return backend.MessageTypeChat, unsupportedPlaceholder
}
