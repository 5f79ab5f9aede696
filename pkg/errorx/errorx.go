package errorx

import (
	"errors"
	"fmt"
)

// CodeError 带内部错误码的自定义错误
// 实现了 error 接口，支持 %w 包装底层错误，且能被 errors.Is/errors.As 识别
type CodeError struct {
	Code  int    // 内部错误码
	Msg   string // 错误消息
	cause error  // 被包装的底层错误
}

// Error 实现 Go 标准 error 接口，使 CodeError 可作为 error 类型使用
// 当存在底层错误时，返回格式为 "消息: 底层错误"；否则仅返回消息
func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

// Unwrap 实现 errors.Unwrap 接口，支持 errors.Is/errors.As 向下追溯
func (e *CodeError) Unwrap() error {
	return e.cause
}

// Is 使预定义错误实例可以按错误码比较
// errors.Is(err, ErrContactNotOnline) 只要错误码相同即视为同类错误
func (e *CodeError) Is(target error) bool {
	var codeErr *CodeError
	if errors.As(target, &codeErr) {
		return e.Code == codeErr.Code
	}
	return false
}

// New 创建一个新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

// Newf 创建一个带格式化消息的 CodeError
func Newf(code int, format string, args ...any) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// Wrap 包装底层错误，添加内部错误码和消息
// 用法: errorx.Wrap(err, CodeDBError, "查询用户失败")
func Wrap(err error, code int, msg string) *CodeError {
	return &CodeError{
		Code:  code,
		Msg:   msg,
		cause: err,
	}
}

// Wrapf 包装底层错误，支持格式化消息
func Wrapf(err error, code int, format string, args ...any) *CodeError {
	return &CodeError{
		Code:  code,
		Msg:   fmt.Sprintf(format, args...),
		cause: err,
	}
}

// GetCode 从错误中提取内部错误码，如果不是 CodeError 则返回 CodeInternal
func GetCode(err error) int {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return CodeInternal
}

// 内部错误码常量定义
// 会话/聊天核心模型产生的错误统一使用这套错误码，
// 各协议前端负责把它们翻译成各自的线上错误码
const (
	CodeSuccess           = 1000 // 成功
	CodeInvalidParam      = 1001 // 请求参数错误
	CodeAuthFail          = 1002 // 令牌无效/过期/已消费，或身份、终端号不匹配
	CodePolicyDenied      = 1003 // 房间邀请策略拒绝加入
	CodeAlreadyJoined     = 1004 // 已在房间中
	CodeContactNotOnline  = 1005 // 联系人不在线
	CodeAlreadyOnList     = 1006 // 联系人已在名单中
	CodeProtocolViolation = 1007 // 帧格式错误/载荷超限/当前状态不允许该命令
	CodeUserNotExist      = 1008 // 用户不存在
	CodeInternal          = 1009 // 回调内部错误等未预期故障
	CodeUnauthorized      = 1010 // 管理接口未授权
	CodeDBError           = 1011 // 数据库错误
	CodeCacheError        = 1012 // 缓存错误
	CodeNotFound          = 1013 // 资源不存在
)

// 预定义常用错误实例
// 这些实例既可直接返回，也可用于 errors.Is 比较
var (
	ErrInvalidParam      = New(CodeInvalidParam, "请求参数错误")
	ErrAuthFail          = New(CodeAuthFail, "认证失败")
	ErrPolicyDenied      = New(CodePolicyDenied, "邀请策略拒绝加入")
	ErrAlreadyJoined     = New(CodeAlreadyJoined, "已在房间中")
	ErrContactNotOnline  = New(CodeContactNotOnline, "联系人不在线")
	ErrAlreadyOnList     = New(CodeAlreadyOnList, "联系人已在名单中")
	ErrProtocolViolation = New(CodeProtocolViolation, "协议违例")
	ErrUserNotExist      = New(CodeUserNotExist, "用户不存在")
	ErrInternal          = New(CodeInternal, "内部错误")
)

// IsNotFound 检查错误是否为"未找到"类型（包括 gorm.ErrRecordNotFound）
func IsNotFound(err error) bool {
	var codeErr *CodeError
	if errors.As(err, &codeErr) && codeErr.Code == CodeNotFound {
		return true
	}
	return err != nil && err.Error() == "record not found"
}
