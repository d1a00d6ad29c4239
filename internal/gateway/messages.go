package gateway

import (
	"strconv"
	"strings"
	"time"
)

// 入站消息类型。
const (
	TypeConnectionAuth    = "CONNECTION_AUTH"
	TypeUserMessage       = "USER_MESSAGE"
	TypeTransactionResult = "TRANSACTION_RESULT"
)

// 出站消息类型。
const (
	TypeSystemMessage     = "SYSTEM_MESSAGE"
	TypeAgentResponse     = "AGENT_RESPONSE"
	TypeTransactionToSign = "TRANSACTION_TO_SIGN"
	TypeSwapQuote         = "SWAP_QUOTE"
)

// inboundMessage 是所有入站消息的联合形态，按 Type 分发后只取相关字段。
type inboundMessage struct {
	Type          string `json:"type"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	UserAccountID string `json:"userAccountId,omitempty"`
	Message       string `json:"message,omitempty"`
	Success       *bool  `json:"success,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Status        string `json:"status,omitempty"`
	Error         string `json:"error,omitempty"`
}

// byteArray 以数字数组而非 base64 下发载荷，钱包端直接得到字节序列。
type byteArray []byte

func (b byteArray) MarshalJSON() ([]byte, error) {
	var builder strings.Builder
	builder.Grow(len(b)*4 + 2)
	builder.WriteByte('[')
	for idx, value := range b {
		if idx > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.Itoa(int(value)))
	}
	builder.WriteByte(']')
	return []byte(builder.String()), nil
}

// envelope 是所有出站消息共享的外层字段。Timestamp 为毫秒级 Unix 时间。
type envelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func newEnvelope(kind string) envelope {
	return envelope{Type: kind, Timestamp: time.Now().UnixMilli()}
}

type systemMessage struct {
	envelope
	Message string `json:"message"`
	Level   string `json:"level"`
}

type agentResponse struct {
	envelope
	Message        string `json:"message"`
	HasTransaction bool   `json:"hasTransaction"`
}

type transactionToSign struct {
	envelope
	TransactionBytes byteArray `json:"transactionBytes"`
	OriginalQuery    string    `json:"originalQuery"`
}

type swapQuoteMessage struct {
	envelope
	Quote           any    `json:"quote"`
	OriginalMessage string `json:"originalMessage"`
}
