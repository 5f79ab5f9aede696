package constants

const (
	CHANNEL_SIZE = 100 // 通道大小

	// 交换台协议相关常量
	MAX_MESSAGE_PAYLOAD     = 1664       // MSG 载荷上限（字节），超过直接断开
	MAX_FRAME_PAYLOAD       = 65536      // 帧载荷读取上限，防御恶意长度声明
	AUTH_HANDSHAKE_SECONDS  = 60         // 连接建立后完成认证握手的时限（秒）
	CALLIN_STALENESS_SECOND = 60         // 呼入令牌的独立过期窗口（秒）
	DIALECT_MULTI_ENDPOINT  = 16         // 支持多终端语义的最低方言版本
	DIALECT_CAPABILITIES    = 12         // 花名册携带能力位的最低方言版本
	MAX_CAPABILITIES_BASIC  = 1073741824 // 能力协商未完成时使用的基础能力哨兵值

	REDIS_TIMEOUT = 5 // redis 缓存超时（分钟）
)
