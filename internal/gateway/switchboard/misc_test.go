package switchboard

import (
	"testing"

	"legacy_chat_server/pkg/constants"
	"legacy_chat_server/pkg/errorx"
)

func TestGetCodeForError(t *testing.T) {
	cases := []struct {
		err     error
		dialect int
		want    int
	}{
		{errorx.ErrAuthFail, 18, 911},
		{errorx.ErrContactNotOnline, 18, 217},
		{errorx.ErrAlreadyOnList, 18, 215},
		{errorx.ErrAlreadyJoined, 18, 207},
		{errorx.ErrUserNotExist, 8, 205},
		{errorx.ErrUserNotExist, 10, 208},
		{errorx.ErrUserNotExist, 18, 208},
		{errorx.ErrPolicyDenied, 18, 913},
		{errorx.ErrInvalidParam, 18, 201},
		{errorx.ErrInternal, 18, 500},
	}
	for _, tc := range cases {
		if got := GetCodeForError(tc.err, tc.dialect); got != tc.want {
			t.Errorf("GetCodeForError(%v, %d) = %d, want %d", tc.err, tc.dialect, got, tc.want)
		}
	}
}

func TestEncodeDecodeEmailPop(t *testing.T) {
	if got := encodeEmailPop("a@example.com", ""); got != "a@example.com" {
		t.Fatalf("plain encode = %q", got)
	}
	if got := encodeEmailPop("a@example.com", "AAAA-1111"); got != "a@example.com;{AAAA-1111}" {
		t.Fatalf("pop encode = %q", got)
	}

	email, popID := decodeEmailPop("a@example.com;{AAAA-1111}")
	if email != "a@example.com" || popID != "{AAAA-1111}" {
		t.Fatalf("decode = %q, %q", email, popID)
	}
	email, popID = decodeEmailPop("a@example.com")
	if email != "a@example.com" || popID != "" {
		t.Fatalf("plain decode = %q, %q", email, popID)
	}
}

func TestPopIDMatches(t *testing.T) {
	if !popIDMatches("aaaa-1111", "{AAAA-1111}") {
		t.Fatal("brace and case differences must not matter")
	}
	if popIDMatches("aaaa-1111", "{BBBB-2222}") {
		t.Fatal("different ids must not match")
	}
}

func TestCapabilitiesSentinel(t *testing.T) {
	b := testBackend(t)
	bs := testLogin(t, b, "u-1")

	// 能力协商未完成：基础位用最大基础能力哨兵
	caps, ok := capabilitiesToken(bs, 18)
	if !ok || caps != "1073741824:0" {
		t.Fatalf("unnegotiated compound caps = %q", caps)
	}

	bs.SetFrontData(frontDataKeyNegotiated, true)
	bs.SetFrontData(frontDataKeyCapabilities, 1342177280)
	bs.SetFrontData(frontDataKeyCapabilitiesEx, 12)

	caps, ok = capabilitiesToken(bs, 18)
	if !ok || caps != "1342177280:12" {
		t.Fatalf("compound caps = %q", caps)
	}

	caps, ok = capabilitiesToken(bs, 13)
	if !ok || caps != "1342177280" {
		t.Fatalf("mid-dialect caps = %q", caps)
	}

	if _, ok = capabilitiesToken(bs, 8); ok {
		t.Fatal("legacy dialects carry no capability field")
	}

	if constants.MAX_CAPABILITIES_BASIC != 1073741824 {
		t.Fatalf("sentinel drifted: %d", constants.MAX_CAPABILITIES_BASIC)
	}
}
