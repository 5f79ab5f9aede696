package switchboard

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"legacy_chat_server/internal/service/auth"
	"legacy_chat_server/internal/service/backend"
	"legacy_chat_server/pkg/constants"
	"legacy_chat_server/pkg/errorx"

	"go.uber.org/zap"
)

// emailPattern 邀请参数的地址语法校验
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._\-]+@([a-zA-Z0-9\-]+\.)+[a-zA-Z]+$`)

// callInStaleness 呼入令牌的独立时效窗口
// 令牌本身的 TTL 之外再做一次更严格的过期判定
const callInStaleness = constants.CALLIN_STALENESS_SECOND

// Controller 每连接一个的协议状态机
// 状态演进：未认证 -> 认证中 -> 已入会 -> 已关闭。
// 把线协议翻译为共享模型调用，并把模型回调序列化回线协议
type Controller struct {
	backend *backend.Backend
	tokens  auth.TokenService
	conn    net.Conn
	reader  *FrameReader
	writer  *FrameWriter
	logger  *zap.Logger

	dialect  int
	authSent bool
	bs       *backend.BackendSession
	cs       *backend.ChatSession

	mu        sync.Mutex
	closed    bool
	authTimer *time.Timer
}

// NewController 创建连接控制器
// authTimeout 是认证握手时限：接受连接即开始计时，两条交接
// 路径都没有在时限内完成时强制断开（防滥用）
func NewController(b *backend.Backend, tokens auth.TokenService, conn net.Conn, authTimeout time.Duration) *Controller {
	c := &Controller{
		backend: b,
		tokens:  tokens,
		conn:    conn,
		reader:  NewFrameReader(conn),
		writer:  NewFrameWriter(conn),
		logger:  zap.L().With(zap.String("peer", conn.RemoteAddr().String())),
	}
	c.authTimer = time.AfterFunc(authTimeout, func() {
		c.mu.Lock()
		fired := !c.authSent
		c.mu.Unlock()
		if fired {
			c.logger.Info("auth handshake timed out")
			c.close(true)
		}
	})
	return c
}

// Run 连接主循环，连接断开或协议违例时返回
func (c *Controller) Run() {
	defer c.close(true)
	for {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosedConn(err) {
				c.logger.Info("read frame failed", zap.Error(err))
			}
			return
		}
		if c.isClosed() {
			return
		}
		switch frame.Verb {
		case "USR":
			c.handleUSR(frame)
		case "ANS":
			c.handleANS(frame)
		case "CAL":
			c.handleCAL(frame)
		case "MSG":
			c.handleMSG(frame)
		case "OUT":
			c.close(false)
			return
		default:
			c.logger.Debug("unknown verb", zap.String("verb", frame.Verb))
		}
		if c.isClosed() {
			return
		}
	}
}

func (c *Controller) reply(verb string, args ...any) {
	if err := c.writer.WriteFrame(verb, args...); err != nil {
		c.logger.Debug("write frame failed", zap.Error(err))
	}
}

// replyErr 数字错误码回复，错误码就是命令动词
func (c *Controller) replyErr(code int, trid string) {
	c.reply(strconv.Itoa(code), trid)
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// markAuthSent 任一交接路径开始即视为已尝试认证
func (c *Controller) markAuthSent() {
	c.mu.Lock()
	c.authSent = true
	c.mu.Unlock()
}

// cancelAuthTimer 交接成功后取消防滥用计时
func (c *Controller) cancelAuthTimer() {
	c.mu.Lock()
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	c.mu.Unlock()
}

// close 关闭连接
// hard 为真时不发告别帧直接断开；计时器取消与入会记录的
// 摘除在返回前同步完成
func (c *Controller) close(hard bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	cs := c.cs
	c.cs = nil
	c.mu.Unlock()

	if !hard {
		c.reply("OUT")
	}
	if cs != nil {
		cs.Close(false, false)
	}
	_ = c.conn.Close()
}

// handleUSR 转接路径：凭一次性令牌首次进入一间新房
func (c *Controller) handleUSR(frame *Frame) {
	c.markAuthSent()
	if len(frame.Args) != 3 {
		c.close(true)
		return
	}
	trid, arg, token := frame.Args[0], frame.Args[1], frame.Args[2]
	email, popID := decodeEmailPop(arg)

	ctx, cancel := context.WithTimeout(context.Background(), constants.REDIS_TIMEOUT*time.Second)
	payload, err := c.tokens.PopToken(ctx, auth.PurposeTransfer, token)
	cancel()
	if err != nil {
		c.replyErr(errAuthFail, trid)
		c.close(true)
		return
	}

	bs := c.backend.FindSession(payload.UserUuid, payload.PopID)
	if bs == nil || !c.identityMatches(bs, payload.Dialect, email, popID) {
		c.replyErr(errAuthFail, trid)
		c.close(true)
		return
	}

	chat := c.backend.ChatCreate()
	cs, err := chat.Join(ProtocolName, bs, &chatEventHandler{ctrl: c}, stripBraces(popID))
	if err != nil {
		c.replyErr(GetCodeForError(err, payload.Dialect), trid)
		c.close(true)
		return
	}

	c.dialect = payload.Dialect
	c.bs = bs
	c.cs = cs
	c.cancelAuthTimer()
	c.reply("USR", trid, "OK", arg, cs.User().DisplayName())
}

// handleANS 呼入路径：凭令牌加入既有房间
func (c *Controller) handleANS(frame *Frame) {
	c.markAuthSent()
	if len(frame.Args) != 4 {
		c.close(true)
		return
	}
	trid, arg, token := frame.Args[0], frame.Args[1], frame.Args[2]
	sessID, convErr := strconv.ParseInt(frame.Args[3], 10, 64)
	if convErr != nil {
		c.close(true)
		return
	}
	email, popID := decodeEmailPop(arg)

	ctx, cancel := context.WithTimeout(context.Background(), constants.REDIS_TIMEOUT*time.Second)
	defer cancel()

	// 先窥视令牌做时效判定，再消费
	payload, err := c.tokens.GetToken(ctx, auth.PurposeCallIn, token)
	if err != nil {
		c.replyErr(errAuthFail, trid)
		c.close(true)
		return
	}
	expiry, err := c.tokens.GetTokenExpiry(ctx, auth.PurposeCallIn, token)
	if err != nil {
		expiry = time.Time{}
	}
	if _, err := c.tokens.PopToken(ctx, auth.PurposeCallIn, token); err != nil {
		// 并发消费时只有一方能成功
		c.replyErr(errAuthFail, trid)
		c.close(true)
		return
	}
	// 比令牌自身 TTL 更严格的独立时效窗口
	if math.Round(time.Since(expiry).Seconds()) >= callInStaleness {
		c.close(true)
		return
	}

	bs := c.backend.FindSession(payload.UserUuid, payload.PopID)
	if bs == nil || !c.identityMatches(bs, payload.Dialect, email, popID) {
		c.replyErr(errAuthFail, trid)
		c.close(true)
		return
	}

	chat := c.backend.ChatGetByMain(payload.ChatMainID)
	if chat == nil || sessID != chat.MainID {
		c.close(true)
		return
	}

	cs, err := chat.Join(ProtocolName, bs, &chatEventHandler{ctrl: c}, stripBraces(popID))
	if err != nil {
		c.replyErr(GetCodeForError(err, payload.Dialect), trid)
		return
	}

	c.dialect = payload.Dialect
	c.bs = bs
	c.cs = cs
	c.cancelAuthTimer()

	chat.SendParticipantJoined(cs)
	c.sendRoster(trid, chat, cs)
	c.reply("ANS", trid, "OK")
}

// identityMatches 令牌解析出的会话与请求的身份参数比对
// 方言 >=16 且请求携带端点 id 时，端点 id 也必须一致
func (c *Controller) identityMatches(bs *backend.BackendSession, dialect int, email, popID string) bool {
	if bs.User().Email != email {
		return false
	}
	if dialect >= constants.DIALECT_MULTI_ENDPOINT && popID != "" && !popIDMatches(bs.PopID(), popID) {
		return false
	}
	return true
}

// sendRoster 呼入成功后的花名册枚举回复
//
// 方言 >=16 逐端点枚举：同一用户的端点连续排列、主端点排最后；
// 带端点 id 的主端点额外占一个计数槽位，并补发一行不带端点 id
// 的旧式行。更早的方言每用户一行（不含呼入者自己），12 起附带
// 能力位字段
func (c *Controller) sendRoster(trid string, chat *backend.Chat, cs *backend.ChatSession) {
	rosterSingle := chat.GetRosterSingle()

	if c.dialect >= constants.DIALECT_MULTI_ENDPOINT {
		total := 0
		var ordered []*backend.ChatSession
		seen := make(map[*backend.ChatSession]bool)
		for _, primary := range rosterSingle {
			if seen[primary] {
				continue
			}
			for _, other := range chat.GetRoster() {
				if seen[other] || other == primary {
					continue
				}
				if other.User().Email == primary.User().Email && !other.PrimaryPop() {
					seen[other] = true
					ordered = append(ordered, other)
					total++
				}
			}
			seen[primary] = true
			ordered = append(ordered, primary)
			if primary.Bs().PopID() != "" {
				total += 2
			} else {
				total++
			}
		}

		i := 1
		for _, other := range ordered {
			user := other.User()
			caps, _ := capabilitiesToken(other.Bs(), c.dialect)
			c.reply("IRO", trid, i, total, encodeEmailPop(user.Email, other.Bs().PopID()), user.DisplayName(), caps)
			if other.PrimaryPop() && other.Bs().PopID() != "" {
				i++
				c.reply("IRO", trid, i, total, user.Email, user.DisplayName(), caps)
			}
			i++
		}
		return
	}

	var rows []*backend.ChatSession
	for _, other := range rosterSingle {
		if other.User().Uuid == cs.User().Uuid {
			continue
		}
		rows = append(rows, other)
	}
	for i, other := range rows {
		user := other.User()
		if caps, ok := capabilitiesToken(other.Bs(), c.dialect); ok {
			c.reply("IRO", trid, i+1, len(rows), user.Email, user.DisplayName(), caps)
		} else {
			c.reply("IRO", trid, i+1, len(rows), user.Email, user.DisplayName())
		}
	}
}

// handleCAL 会中邀请
func (c *Controller) handleCAL(frame *Frame) {
	cs, bs := c.cs, c.bs
	if cs == nil || bs == nil || len(frame.Args) != 2 {
		c.close(true)
		return
	}
	trid, inviteeEmail := frame.Args[0], frame.Args[1]

	if !emailPattern.MatchString(inviteeEmail) {
		c.replyErr(errInvalidUser2, trid)
		return
	}

	inviteeUuid := c.backend.ResolveEmail(inviteeEmail)
	if inviteeUuid == "" {
		c.replyErr(errPrincipalNotOnline, trid)
		return
	}

	chat := cs.Chat()
	inviteErr := c.checkInviteePresence(bs, inviteeEmail, inviteeUuid)
	if inviteErr == nil {
		invitee := c.liveUser(inviteeUuid)
		if invitee == nil {
			invitee = c.backend.LoadUser(inviteeUuid)
		}
		if invitee == nil {
			return
		}
		inviteErr = cs.Invite(invitee)
	}

	if inviteErr != nil {
		// 某些 2009 世代的客户端在首次打开房间时会 CAL 自己；
		// 当房间里只有呼叫方自己、错误仅仅是"已在名单上"时，
		// 伪造一次成功的入会事件哄过客户端
		rosterSingle := chat.GetRosterSingle()
		if errors.Is(inviteErr, errorx.ErrAlreadyOnList) &&
			inviteeEmail == bs.User().Email &&
			len(rosterSingle) == 1 && rosterSingle[0] == cs &&
			c.dialect >= constants.DIALECT_MULTI_ENDPOINT {
			c.reply("CAL", trid, "RINGING", chat.MainID)
			cs.Evt().OnParticipantJoined(cs, true)
			return
		}
		c.replyErr(GetCodeForError(inviteErr, c.dialect), trid)
		return
	}

	c.reply("CAL", trid, "RINGING", chat.MainID)
	if c.dialect >= constants.DIALECT_MULTI_ENDPOINT && inviteeEmail == bs.User().Email {
		cs.Evt().OnParticipantJoined(cs, true)
	}
}

// checkInviteePresence 名单/在线策略检查
// 名单上有该联系人时以名单上的实时状态为准，否则看对方自身
// 状态；邀请自己跳过检查
func (c *Controller) checkInviteePresence(bs *backend.BackendSession, inviteeEmail, inviteeUuid string) error {
	if inviteeEmail == bs.User().Email {
		return nil
	}
	detail := bs.User().Detail
	if detail != nil {
		if ctc, ok := detail.Contacts[inviteeUuid]; ok {
			if status := ctc.Status(); status != nil && status.Substatus.IsOfflineish() {
				return errorx.ErrContactNotOnline
			}
			return nil
		}
	}
	invitee := c.liveUser(inviteeUuid)
	if invitee == nil || invitee.Status.Substatus.IsOfflineish() {
		return errorx.ErrContactNotOnline
	}
	return nil
}

// liveUser 某用户的在线对象（携带实时状态），不在线返回 nil
func (c *Controller) liveUser(uuid string) *backend.User {
	if bs := c.backend.FindSession(uuid, ""); bs != nil {
		return bs.User()
	}
	return nil
}

// handleMSG 会中消息
// 载荷超限立即硬关闭，不回任何帧；应答模式由发送方按消息指定
func (c *Controller) handleMSG(frame *Frame) {
	cs, bs := c.cs, c.bs
	if cs == nil || bs == nil || len(frame.Args) != 2 {
		c.close(true)
		return
	}
	trid, ack := frame.Args[0], frame.Args[1]

	if len(frame.Payload) > constants.MAX_MESSAGE_PAYLOAD {
		c.close(true)
		return
	}

	cs.SendMessageToEveryone(MessageDataFromWire(cs.User(), bs.PopID(), frame.Payload))

	// U: 不应答；N: 只在失败时应答；其余: 成功 ACK 失败 NAK
	if ack == "U" {
		return
	}
	anyFailed := false
	if anyFailed {
		c.reply("NAK", trid)
	} else if ack != "N" {
		c.reply("ACK", trid)
	}
}

// chatEventHandler 把聊天室事件序列化回线协议
type chatEventHandler struct {
	backend.ChatEventHandlerBase
	ctrl *Controller
}

func (h *chatEventHandler) OnParticipantPresence(csOther *backend.ChatSession, firstPop bool) {}

func (h *chatEventHandler) OnParticipantJoined(csOther *backend.ChatSession, firstPop bool) {
	ctrl := h.ctrl
	// 设备无感知的方言只看到每用户的首个端点
	if !firstPop && ctrl.dialect < constants.DIALECT_MULTI_ENDPOINT {
		return
	}
	user := csOther.User()
	popIDOther := csOther.Bs().PopID()

	email := user.Email
	if popIDOther != "" && ctrl.dialect >= constants.DIALECT_MULTI_ENDPOINT {
		email = encodeEmailPop(user.Email, popIDOther)
	}

	if caps, ok := capabilitiesToken(csOther.Bs(), ctrl.dialect); ok {
		ctrl.reply("JOI", email, user.DisplayName(), caps)
		if firstPop && popIDOther != "" && ctrl.dialect >= constants.DIALECT_MULTI_ENDPOINT {
			ctrl.reply("JOI", user.Email, user.DisplayName(), caps)
		}
	} else {
		ctrl.reply("JOI", email, user.DisplayName())
	}
}

func (h *chatEventHandler) OnParticipantLeft(csOther *backend.ChatSession, idle bool, lastPop bool) {
	ctrl := h.ctrl
	if !lastPop && ctrl.dialect < constants.DIALECT_MULTI_ENDPOINT {
		return
	}
	popIDOther := csOther.Bs().PopID()
	email := csOther.User().Email
	if popIDOther != "" && ctrl.dialect >= constants.DIALECT_MULTI_ENDPOINT {
		email = encodeEmailPop(csOther.User().Email, popIDOther)
	}
	if idle {
		ctrl.reply("BYE", email, 1)
	} else {
		ctrl.reply("BYE", email)
	}
	if lastPop && popIDOther != "" && ctrl.dialect >= constants.DIALECT_MULTI_ENDPOINT {
		if idle {
			ctrl.reply("BYE", csOther.User().Email, 1)
		} else {
			ctrl.reply("BYE", csOther.User().Email)
		}
	}
}

func (h *chatEventHandler) OnParticipantStatusUpdated(csOther *backend.ChatSession) {}

func (h *chatEventHandler) OnInviteDeclined(invitedUser *backend.User, invitedID, message string) {}

func (h *chatEventHandler) OnMessage(data *backend.MessageData) {
	// 结束输入的信号不回传
	if data.Type == backend.MessageTypeTypingDone {
		return
	}
	h.ctrl.reply("MSG", data.Sender.Email, data.Sender.DisplayName(), MessageDataToWire(data))
}

func (h *chatEventHandler) OnClose(keepFuture bool, idle bool) {
	h.ctrl.close(idle)
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
