package switchboard

import (
	"errors"
	"strconv"
	"strings"

	"legacy_chat_server/internal/service/backend"
	"legacy_chat_server/pkg/constants"
	"legacy_chat_server/pkg/errorx"
)

// 前端私有数据键
// 设备 id 与能力位在登录协商时写入，交换台只读取
const (
	frontDataKeyNegotiated     = "msn"                 // bool，能力协商是否完成
	frontDataKeyPopID          = "msn_pop_id"          // string，端点 id（不带花括号）
	frontDataKeyCapabilities   = "msn_capabilities"    // int，基础能力位
	frontDataKeyCapabilitiesEx = "msn_capabilitiesex"  // int，扩展能力位
)

// 线协议数字错误码
// 旧客户端依赖逐方言精确复刻这些数值
const (
	errInvalidParameter    = 201
	errInvalidUser         = 205
	errDuplicateSession    = 207
	errInvalidUser2        = 208
	errPrincipalOnList     = 215
	errPrincipalNotOnList  = 216
	errPrincipalNotOnline  = 217
	errInternalServerError = 500
	errAuthFail            = 911
	errNotAllowedWhileHDN  = 913
)

// GetCodeForError 内部错误映射为线协议数字码
// 用户不存在类错误的码值在方言 10 处分裂为新旧两个
func GetCodeForError(err error, dialect int) int {
	var codeErr *errorx.CodeError
	if !errors.As(err, &codeErr) {
		return errInternalServerError
	}
	switch codeErr.Code {
	case errorx.CodeAuthFail:
		return errAuthFail
	case errorx.CodeContactNotOnline:
		return errPrincipalNotOnline
	case errorx.CodeAlreadyOnList:
		return errPrincipalOnList
	case errorx.CodeAlreadyJoined:
		return errDuplicateSession
	case errorx.CodeUserNotExist:
		if dialect >= 10 {
			return errInvalidUser2
		}
		return errInvalidUser
	case errorx.CodePolicyDenied:
		return errNotAllowedWhileHDN
	case errorx.CodeInvalidParam:
		return errInvalidParameter
	default:
		return errInternalServerError
	}
}

// encodeCapabilities 基础位与扩展位拼成一个复合 token
func encodeCapabilities(capabilities, capabilitiesEx int) string {
	return strconv.Itoa(capabilities) + ":" + strconv.Itoa(capabilitiesEx)
}

// intFrontData 读取整型前端数据
func intFrontData(bs *backend.BackendSession, key string) int {
	if v, ok := bs.GetFrontData(key).(int); ok {
		return v
	}
	return 0
}

// basicCapabilitiesOf 某端点的基础能力位
// 能力协商未完成的端点用最大基础能力哨兵值代替零值
func basicCapabilitiesOf(bs *backend.BackendSession) int {
	if negotiated, ok := bs.GetFrontData(frontDataKeyNegotiated).(bool); ok && negotiated {
		return intFrontData(bs, frontDataKeyCapabilities)
	}
	return constants.MAX_CAPABILITIES_BASIC
}

// capabilitiesToken 按方言生成能力 token
// 方言 >=16 是复合 token，12..15 只有基础位，更早的方言没有
func capabilitiesToken(bs *backend.BackendSession, dialect int) (string, bool) {
	switch {
	case dialect >= constants.DIALECT_MULTI_ENDPOINT:
		return encodeCapabilities(basicCapabilitiesOf(bs), intFrontData(bs, frontDataKeyCapabilitiesEx)), true
	case dialect >= constants.DIALECT_CAPABILITIES:
		return strconv.Itoa(basicCapabilitiesOf(bs)), true
	default:
		return "", false
	}
}

// encodeEmailPop 身份参数编码："email" 或 "email;{pop-id}"
func encodeEmailPop(email, popID string) string {
	if popID == "" {
		return email
	}
	return email + ";{" + popID + "}"
}

// decodeEmailPop 身份参数解码，pop 部分可缺省
func decodeEmailPop(s string) (email, popID string) {
	parts := strings.SplitN(s, ";", 2)
	if len(parts) == 2 {
		popID = parts[1]
	}
	return parts[0], popID
}

// stripBraces 去掉端点 id 两侧的花括号
func stripBraces(popID string) string {
	return strings.NewReplacer("{", "", "}", "").Replace(popID)
}

// popIDMatches 端点 id 比对：花括号不敏感、大小写不敏感
func popIDMatches(sessionPopID, requestPopID string) bool {
	return strings.EqualFold(sessionPopID, stripBraces(requestPopID))
}
