package chainflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultHandshakeTimeout bounds the WebSocket dial. It is intentionally
// short to avoid hanging connection attempts.
const DefaultHandshakeTimeout = 15 * time.Second

// Message kinds emitted by the gateway.
const (
	KindSystemMessage     = "SYSTEM_MESSAGE"
	KindAgentResponse     = "AGENT_RESPONSE"
	KindTransactionToSign = "TRANSACTION_TO_SIGN"
	KindSwapQuote         = "SWAP_QUOTE"
)

// Message is the union of every outbound gateway message. Type selects
// which fields are populated.
type Message struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`

	// SYSTEM_MESSAGE and AGENT_RESPONSE
	Text  string `json:"message,omitempty"`
	Level string `json:"level,omitempty"`

	// AGENT_RESPONSE
	HasTransaction bool `json:"hasTransaction,omitempty"`

	// TRANSACTION_TO_SIGN
	TransactionBytes []int  `json:"transactionBytes,omitempty"`
	OriginalQuery    string `json:"originalQuery,omitempty"`

	// SWAP_QUOTE
	Quote           *SwapQuote `json:"quote,omitempty"`
	OriginalMessage string     `json:"originalMessage,omitempty"`
}

// Payload returns the signable transaction bytes of a TRANSACTION_TO_SIGN
// message.
func (m *Message) Payload() []byte {
	if m == nil || len(m.TransactionBytes) == 0 {
		return nil
	}
	payload := make([]byte, len(m.TransactionBytes))
	for i, value := range m.TransactionBytes {
		payload[i] = byte(value)
	}
	return payload
}

// TokenLeg describes one side of a swap quote.
type TokenLeg struct {
	Token     string `json:"token"`
	TokenID   string `json:"tokenId"`
	Amount    string `json:"amount"`
	Formatted string `json:"formatted"`
}

// SwapQuote is the normalized quote carried by SWAP_QUOTE messages.
type SwapQuote struct {
	Operation    string   `json:"operation"`
	Network      string   `json:"network"`
	Input        TokenLeg `json:"input"`
	Output       TokenLeg `json:"output"`
	Path         []string `json:"path"`
	Fees         string   `json:"fees"`
	ExchangeRate string   `json:"exchangeRate"`
	GasEstimate  string   `json:"gasEstimate,omitempty"`
}

// TransactionResult reports the outcome of signing and broadcasting a
// payload back to the gateway.
type TransactionResult struct {
	Success       bool
	TransactionID string
	Status        string
	Error         string
}

// Client wraps one WebSocket connection to the gateway. Writes are
// serialized; Next must be called from a single goroutine.
type Client struct {
	socket  *websocket.Conn
	writeMu sync.Mutex
}

// Dial connects to the gateway WebSocket endpoint, e.g.
// "ws://localhost:8080/ws".
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	if rawURL == "" {
		return nil, errors.New("gateway url is empty")
	}
	dialer := websocket.Dialer{HandshakeTimeout: DefaultHandshakeTimeout}
	socket, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	return &Client{socket: socket}, nil
}

// Authenticate binds the connection to an on-chain account.
func (c *Client) Authenticate(accountID string) error {
	if accountID == "" {
		return errors.New("account id is empty")
	}
	return c.send(map[string]any{
		"type":          "CONNECTION_AUTH",
		"timestamp":     time.Now().UnixMilli(),
		"userAccountId": accountID,
	})
}

// SendMessage submits a conversational message to the agent.
func (c *Client) SendMessage(message string) error {
	if message == "" {
		return errors.New("message is empty")
	}
	return c.send(map[string]any{
		"type":      "USER_MESSAGE",
		"timestamp": time.Now().UnixMilli(),
		"message":   message,
	})
}

// ReportResult reports a signature result for the last signable payload.
func (c *Client) ReportResult(result TransactionResult) error {
	msg := map[string]any{
		"type":      "TRANSACTION_RESULT",
		"timestamp": time.Now().UnixMilli(),
		"success":   result.Success,
	}
	if result.TransactionID != "" {
		msg["transactionId"] = result.TransactionID
	}
	if result.Status != "" {
		msg["status"] = result.Status
	}
	if result.Error != "" {
		msg["error"] = result.Error
	}
	return c.send(msg)
}

// Next blocks until the gateway pushes the next message. The deadline, if
// any, is taken from ctx.
func (c *Client) Next(ctx context.Context) (*Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.socket.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	} else if err := c.socket.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	var msg Message
	if err := c.socket.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("read gateway message: %w", err)
	}
	return &msg, nil
}

// Close shuts the connection down gracefully.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.socket.Close()
}

func (c *Client) send(msg map[string]any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.socket.WriteJSON(msg)
}
