// Package relay 提供了访问聊天补全中继服务的客户端。
// 中继是一个单一的 HTTP 端点，负责把请求转发给大模型提供商；
// 鉴权使用调用方会话的 Bearer token。
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lawmate-go/internal/config"
)

// maxResponseSize 限制响应体大小，防止异常响应耗尽内存。
const maxResponseSize = 10 * 1024 * 1024

// Message 表示一条发送给中继的角色消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client 定义了中继客户端的接口。
type Client interface {
	// ChatCompletion 用完整的有序消息列表调用中继，返回助手回复的文本。
	// 任何非 2xx 响应、或 2xx 但缺少 choices[0].message.content 的响应都视为失败。
	ChatCompletion(ctx context.Context, token string, messages []Message) (string, error)
	// Ping 探测中继是否可达，仅用于连通性监控；收到任意 HTTP 响应即视为在线。
	Ping(ctx context.Context) error
}

type httpClient struct {
	cfg    config.RelayConfig
	client *http.Client
}

// NewClient 根据配置创建一个新的中继客户端。
func NewClient(cfg config.RelayConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// errorResponse 是中继失败响应体的可选结构。
type errorResponse struct {
	Message string `json:"message"`
}

// Error 表示中继返回的一次失败响应。
// Message 来自响应体的 message 字段，是可直接展示给用户的文案。
type Error struct {
	Status  int
	Message string
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("relay returned status %d", e.Status)
}

// ChatCompletion 调用中继的聊天补全端点。
func (c *httpClient) ChatCompletion(ctx context.Context, token string, messages []Message) (string, error) {
	reqBody := chatRequest{
		Provider: c.cfg.Provider,
		Model:    c.cfg.Model,
		Messages: messages,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call relay: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read relay response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 失败响应体可能携带 {message:"..."}，提取出来作为可读错误
		relayErr := &Error{Status: resp.StatusCode}
		var errBody errorResponse
		if jsonErr := json.Unmarshal(body, &errBody); jsonErr == nil {
			relayErr.Message = errBody.Message
		}
		return "", relayErr
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse relay response: %w", err)
	}

	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("relay response missing choices[0].message.content")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// Ping 向中继地址发送一个 GET 请求探测连通性。
// 中继只实现 POST，因此这里不关心状态码，能收到响应就说明网络通畅。
func (c *httpClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return nil
}
