package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ChainFlow-Gateway/internal/agent"
	xerrors "ChainFlow-Gateway/internal/errors"
	"ChainFlow-Gateway/internal/flow"
	"ChainFlow-Gateway/internal/interpret"
	"ChainFlow-Gateway/internal/observability/metrics"
	"ChainFlow-Gateway/internal/session"
	"ChainFlow-Gateway/internal/storage/mysql"
	"ChainFlow-Gateway/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// Handler 是 WebSocket 入口：每条连接一个读循环协程，按消息类型分发。
// 同一连接的消息天然串行，跨连接完全并行。
type Handler struct {
	store       *session.Store
	agent       agent.Client
	interp      *interpret.Interpreter
	seq         *flow.Sequencer
	transcripts mysql.TranscriptRepository
	log         *slog.Logger
}

// NewHandler 构造协议处理器。transcripts 可为 nil，此时不落会话记录。
func NewHandler(store *session.Store, client agent.Client, interp *interpret.Interpreter, seq *flow.Sequencer, transcripts mysql.TranscriptRepository) *Handler {
	return &Handler{
		store:       store,
		agent:       client,
		interp:      interp,
		seq:         seq,
		transcripts: transcripts,
		log:         logger.Named("gateway"),
	}
}

// wsClient 包装单条 WebSocket 连接的写端。写锁保证多处下发不交错。
type wsClient struct {
	id     string
	socket *websocket.Conn
	mu     sync.Mutex
	log    *slog.Logger
}

func (c *wsClient) write(kind string, message any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.socket.WriteJSON(message); err != nil {
		c.log.Warn("下发消息失败", slog.String("conn_id", c.id), slog.String("type", kind), slog.Any("error", err))
		return
	}
	metrics.ObserveMessage("outbound", kind)
}

// Notice 实现 flow.Emitter。
func (c *wsClient) Notice(level, message string) {
	c.write(TypeSystemMessage, systemMessage{
		envelope: newEnvelope(TypeSystemMessage),
		Message:  message,
		Level:    level,
	})
}

// AgentResponse 实现 flow.Emitter。
func (c *wsClient) AgentResponse(message string, hasTransaction bool) {
	c.write(TypeAgentResponse, agentResponse{
		envelope:       newEnvelope(TypeAgentResponse),
		Message:        message,
		HasTransaction: hasTransaction,
	})
}

// TransactionToSign 实现 flow.Emitter。
func (c *wsClient) TransactionToSign(payload []byte, originalQuery string) {
	c.write(TypeTransactionToSign, transactionToSign{
		envelope:         newEnvelope(TypeTransactionToSign),
		TransactionBytes: byteArray(payload),
		OriginalQuery:    originalQuery,
	})
}

// Quote 实现 flow.Emitter。
func (c *wsClient) Quote(quote *interpret.SwapQuote, originalMessage string) {
	c.write(TypeSwapQuote, swapQuoteMessage{
		envelope:        newEnvelope(TypeSwapQuote),
		Quote:           quote,
		OriginalMessage: originalMessage,
	})
}

var _ flow.Emitter = (*wsClient)(nil)

// ServeHTTP 升级连接并进入读循环，连接断开时销毁会话。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("升级 WebSocket 失败", slog.Any("error", err))
		return
	}

	connID := uuid.NewString()
	client := &wsClient{id: connID, socket: socket, log: h.log}
	h.log.Info("连接建立", slog.String("conn_id", connID), slog.String("remote", r.RemoteAddr))

	defer func() {
		h.store.Destroy(connID)
		_ = socket.Close()
		h.log.Info("连接关闭", slog.String("conn_id", connID))
	}()

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			h.log.Info("连接读循环结束", slog.String("conn_id", connID), slog.Any("error", err))
			return
		}
		h.dispatch(r.Context(), connID, client, data)
	}
}

// dispatch 解析入站消息并按类型分发。协议层错误只回通知，连接保持打开。
func (h *Handler) dispatch(ctx context.Context, connID string, client *wsClient, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.ObserveError("protocol")
		h.log.Warn("入站消息解析失败", slog.String("conn_id", connID), slog.Any("error", err))
		client.Notice("error", "消息格式无法解析，请检查后重试。")
		return
	}
	metrics.ObserveMessage("inbound", msg.Type)

	switch msg.Type {
	case TypeConnectionAuth:
		h.handleAuth(connID, client, msg)
	case TypeUserMessage:
		h.handleUserMessage(ctx, connID, client, msg)
	case TypeTransactionResult:
		h.handleTransactionResult(ctx, connID, client, msg)
	default:
		metrics.ObserveError("protocol")
		h.log.Warn("未知的消息类型", slog.String("conn_id", connID), slog.String("type", msg.Type))
		client.Notice("warning", "无法识别的消息类型，已忽略。")
	}
}

func (h *Handler) handleAuth(connID string, client *wsClient, msg inboundMessage) {
	if strings.TrimSpace(msg.UserAccountID) == "" {
		client.Notice("error", "认证消息缺少账户标识。")
		return
	}
	if _, err := h.store.Create(connID, msg.UserAccountID); err != nil {
		metrics.ObserveError("protocol")
		h.log.Warn("创建会话失败", slog.String("conn_id", connID), slog.Any("error", err))
		client.Notice("error", "会话创建失败，请重试。")
		return
	}
	client.Notice("info", "认证成功，账户 "+msg.UserAccountID+" 的会话已就绪。")
}

func (h *Handler) handleUserMessage(ctx context.Context, connID string, client *wsClient, msg inboundMessage) {
	conn, ok := h.store.Get(connID)

	// 消息携带了不同身份：先整体重建会话再处理。
	if accountID := strings.TrimSpace(msg.UserAccountID); accountID != "" && (!ok || conn.AccountID != accountID) {
		h.store.Destroy(connID)
		created, err := h.store.Create(connID, accountID)
		if err != nil {
			metrics.ObserveError("protocol")
			client.Notice("error", "会话创建失败，请重试。")
			return
		}
		conn, ok = created, true
	}
	if !ok {
		client.Notice("error", "请先发送认证消息。")
		return
	}
	if strings.TrimSpace(msg.Message) == "" {
		client.Notice("warning", "消息内容为空，已忽略。")
		return
	}

	round, err := h.invokeAgent(ctx, conn, msg.Message)
	if err != nil {
		metrics.ObserveError("agent")
		h.log.Warn("Agent 回合失败",
			slog.String("conn_id", connID),
			slog.String("account_id", conn.AccountID),
			slog.Any("error", err),
		)
		client.Notice("error", "处理请求失败，请稍后重试。")
		return
	}
	conn.Memory.Append(msg.Message, round.Reply)

	outcome := h.interp.Interpret(round.Observations)
	h.seq.Apply(ctx, conn, outcome, round.Reply, msg.Message, client)
	h.saveTranscript(ctx, conn, msg.Message, round.Reply, outcome)
}

// invokeAgent 跑一轮 Agent 并把 panic 转换为普通错误。
func (h *Handler) invokeAgent(ctx context.Context, conn *session.Connection, message string) (round *agent.Round, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveAgentRound(time.Since(started))
		if rec := recover(); rec != nil {
			round = nil
			err = xerrors.New(xerrors.CodeAgentFailure, fmt.Sprintf("Agent 回合 panic: %v", rec))
		}
	}()
	return h.agent.Invoke(ctx, message, conn.Memory)
}

func (h *Handler) handleTransactionResult(ctx context.Context, connID string, client *wsClient, msg inboundMessage) {
	conn, ok := h.store.Get(connID)
	if !ok {
		client.Notice("error", "请先发送认证消息。")
		return
	}
	if msg.Success == nil {
		metrics.ObserveError("protocol")
		client.Notice("error", "交易结果消息缺少 success 字段。")
		return
	}
	h.seq.HandleResult(ctx, conn, flow.Result{
		Success:       *msg.Success,
		TransactionID: msg.TransactionID,
		Status:        msg.Status,
		Error:         msg.Error,
	}, client)
}

// saveTranscript 尽力落一条会话记录，失败只记日志。
func (h *Handler) saveTranscript(ctx context.Context, conn *session.Connection, message, reply string, outcome interpret.Outcome) {
	if h.transcripts == nil {
		return
	}
	record := &mysql.TranscriptRecord{
		ConnID:         conn.ID,
		AccountID:      conn.AccountID,
		Message:        message,
		Reply:          reply,
		HasTransaction: outcome.HasTransaction(),
		CreatedAt:      time.Now().Unix(),
	}
	if outcome.NextStep != nil {
		record.Operation = outcome.NextStep.Operation
		record.Step = outcome.NextStep.Step
	}
	if err := h.transcripts.Save(ctx, record); err != nil {
		h.log.Warn("落会话记录失败", slog.String("conn_id", conn.ID), slog.Any("error", err))
	}
}
