/*
 * @module client/ai_client
 * @description OpenAI兼容的对话补全客户端，供翻译与打标阶段调用
 * @architecture 适配器模式 - 封装外部AI服务HTTP调用
 * @documentReference DESIGN.md
 * @stateFlow 限流检查 -> 构造请求 -> 发送 -> 解析 -> 失败指数退避重试
 * @rules 调用失败按 max_retries 重试，重试耗尽后由调用方包装为外部服务错误
 * @dependencies net/http, encoding/json, service/apperr
 * @refs service/translation, service/labeling
 */

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/config"
)

// ErrRateLimited 外部服务调用被限流
var ErrRateLimited = errors.New("外部服务调用频率超限")

// CompletionRequest 一次补全请求
type CompletionRequest struct {
	Stage       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer 文本补全能力
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Limiter 外部调用限流器
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ChatClient 对话补全客户端
type ChatClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	limiter    Limiter
}

// NewChatClient 创建客户端，limiter 可为 nil
func NewChatClient(cfg config.AIConfig, limiter Limiter) *ChatClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		limiter:    limiter,
	}
}

// Complete 发送补全请求，失败时指数退避重试，最多调用 max_retries+1 次
func (c *ChatClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var content string
	retries := c.maxRetries
	if retries < 0 {
		retries = 0
	}

	err := apperr.RetryWithBackoff(ctx, func(ctx context.Context) error {
		var err error
		content, err = c.complete(ctx, req)
		return err
	}, retries, c.baseDelay)
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *ChatClient) complete(ctx context.Context, req CompletionRequest) (string, error) {
	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, "ai:"+req.Stage)
		if err != nil {
			slog.Warn("限流检查失败，放行请求", "stage", req.Stage, "error", err)
		} else if !allowed {
			return "", ErrRateLimited
		}
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取响应失败: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("AI服务返回状态码 %d: %s", resp.StatusCode, truncate(string(raw), 200))
		}
		return "", fmt.Errorf("解析响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := truncate(string(raw), 200)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("AI服务返回状态码 %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("AI服务未返回任何结果")
	}

	slog.Debug("AI调用完成", "stage", req.Stage, "duration", time.Since(start))
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var numberedLinePattern = regexp.MustCompile(`^\s*(\d+)\.\s*(.+)$`)

// NumberedList 生成 "编号. 文本" 列表，编号为原始下标+1，空文本跳过
func NumberedList(texts []string) string {
	var b strings.Builder
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		// 多行文本压成一行，避免破坏编号格式
		text = strings.Join(strings.Fields(text), " ")
		fmt.Fprintf(&b, "%d. %s\n", i+1, text)
	}
	return b.String()
}

// ParseNumberedLines 解析 "编号. 内容" 格式的回复，返回 0 基下标到内容的映射，越界编号忽略
func ParseNumberedLines(content string, n int) map[int]string {
	out := make(map[int]string)
	for _, line := range strings.Split(content, "\n") {
		m := numberedLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > n {
			continue
		}
		out[idx-1] = strings.TrimSpace(m[2])
	}
	return out
}
