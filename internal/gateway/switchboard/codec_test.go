package switchboard

import (
	"testing"

	"legacy_chat_server/internal/service/backend"
)

func codecSender() *backend.User {
	return &backend.User{
		Uuid:   "u-1",
		Email:  "alice@example.com",
		Status: &backend.UserStatus{Substatus: backend.SubstatusOnline, Name: "Alice"},
	}
}

func TestEncodeChatMessage(t *testing.T) {
	data := backend.NewMessageData(codecSender(), "", backend.MessageTypeChat, "hi")
	want := "MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\nhi"
	if got := string(MessageDataToWire(data)); got != want {
		t.Fatalf("wire = %q, want %q", got, want)
	}
}

func TestDecodeChatMessage(t *testing.T) {
	wire := []byte("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\nhi")
	data := MessageDataFromWire(codecSender(), "", wire)
	if data.Type != backend.MessageTypeChat || data.Text != "hi" {
		t.Fatalf("decoded type=%d text=%q", data.Type, data.Text)
	}
}

func TestEncodeTypingMessage(t *testing.T) {
	data := backend.NewMessageData(codecSender(), "", backend.MessageTypeTyping, "")
	want := "MIME-Version: 1.0\r\nContent-Type: text/x-msmsgscontrol\r\nTypingUser: alice@example.com\r\n\r\n\r\n"
	if got := string(MessageDataToWire(data)); got != want {
		t.Fatalf("wire = %q, want %q", got, want)
	}
}

func TestDecodeControlMessage(t *testing.T) {
	wire := []byte("MIME-Version: 1.0\r\nContent-Type: text/x-msmsgscontrol\r\nTypingUser: alice@example.com\r\n\r\n\r\n")
	data := MessageDataFromWire(codecSender(), "", wire)
	if data.Type != backend.MessageTypeTyping || data.Text != "" {
		t.Fatalf("control frame must decode as Typing with empty text, got type=%d text=%q", data.Type, data.Text)
	}
}

func TestEncodeNudge(t *testing.T) {
	data := backend.NewMessageData(codecSender(), "", backend.MessageTypeNudge, "")
	want := "MIME-Version: 1.0\r\nContent-Type: text/x-msnmsgr-datacast\r\n\r\nID: 1\r\n\r\n"
	if got := string(MessageDataToWire(data)); got != want {
		t.Fatalf("wire = %q, want %q", got, want)
	}
}

func TestDecodeDatacast(t *testing.T) {
	// ID=1 是注意信号
	nudge := []byte("MIME-Version: 1.0\r\nContent-Type: text/x-msnmsgr-datacast\r\n\r\nID: 1\r\n\r\n")
	data := MessageDataFromWire(codecSender(), "", nudge)
	if data.Type != backend.MessageTypeNudge || data.Text != "" {
		t.Fatalf("datacast ID=1 must decode as Nudge, got type=%d", data.Type)
	}

	// 其余 ID 退化为占位文本
	other := []byte("MIME-Version: 1.0\r\nContent-Type: text/x-msnmsgr-datacast\r\n\r\nID: 4\r\n\r\n")
	data = MessageDataFromWire(codecSender(), "", other)
	if data.Type != backend.MessageTypeChat || data.Text != unsupportedPlaceholder {
		t.Fatalf("unknown datacast id must degrade, got type=%d text=%q", data.Type, data.Text)
	}
}

func TestDecodeDegradesNeverErrors(t *testing.T) {
	for _, wire := range [][]byte{
		[]byte("MIME-Version: 1.0\r\nContent-Type: application/x-unknown\r\n\r\nbinary"),
		[]byte("no header block at all"),
		[]byte(""),
		[]byte("MIME-Version: 1.0\r\nContent-Type: text/x-msnmsgr-datacast\r\n\r\nno id field\r\n"),
	} {
		data := MessageDataFromWire(codecSender(), "", wire)
		if data.Type != backend.MessageTypeChat || data.Text != unsupportedPlaceholder {
			t.Fatalf("input %q must degrade to placeholder, got type=%d text=%q", wire, data.Type, data.Text)
		}
	}
}

func TestEncodeIsCachedPerProtocol(t *testing.T) {
	data := backend.NewMessageData(codecSender(), "", backend.MessageTypeChat, "hi")
	first := MessageDataToWire(data)
	second := MessageDataToWire(data)
	if &first[0] != &second[0] {
		t.Fatal("fan-out must reuse the cached encoding")
	}
}

func TestDecodePopulatesCache(t *testing.T) {
	wire := []byte("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\nhi")
	data := MessageDataFromWire(codecSender(), "", wire)
	out := MessageDataToWire(data)
	if &out[0] != &wire[0] {
		t.Fatal("inbound bytes must be reused verbatim when echoing to the same protocol")
	}
}
