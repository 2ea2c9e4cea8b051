package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

const webhookTimeout = 10 * time.Second

// WebhookDingTalkSender 通过钉钉自定义机器人 webhook 发送文本消息。
type WebhookDingTalkSender struct {
	url        string
	httpClient *http.Client
}

var _ DingTalkSender = (*WebhookDingTalkSender)(nil)

// NewDingTalkWebhook 创建钉钉 webhook 发送器。
func NewDingTalkWebhook(url string) *WebhookDingTalkSender {
	return &WebhookDingTalkSender{
		url:        url,
		httpClient: &http.Client{Timeout: webhookTimeout},
	}
}

// Send 发送钉钉文本消息。
func (s *WebhookDingTalkSender) Send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, s.httpClient, s.url, payload)
}

// WebhookSlackSender 通过 Slack incoming webhook 发送消息。
type WebhookSlackSender struct {
	url        string
	httpClient *http.Client
}

var _ SlackSender = (*WebhookSlackSender)(nil)

// NewSlackWebhook 创建 Slack webhook 发送器。
func NewSlackWebhook(url string) *WebhookSlackSender {
	return &WebhookSlackSender{
		url:        url,
		httpClient: &http.Client{Timeout: webhookTimeout},
	}
}

// Send 发送 Slack 消息。channel 为空时投递到 webhook 的默认频道。
func (s *WebhookSlackSender) Send(ctx context.Context, channel, content string) error {
	payload := map[string]string{"text": content}
	if channel != "" {
		payload["channel"] = channel
	}
	return postJSON(ctx, s.httpClient, s.url, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化告警消息失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("告警渠道返回状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// SMTPEmailSender 通过 SMTP 发送邮件告警。Addr 形如 host:port。
type SMTPEmailSender struct {
	Addr     string
	Username string
	Password string
	From     string
}

var _ EmailSender = (*SMTPEmailSender)(nil)

// Send 发送邮件。smtp.SendMail 不支持取消, ctx 仅用于发送前的提前放弃。
func (s *SMTPEmailSender) Send(ctx context.Context, subject, content string, to []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		s.From, strings.Join(to, ", "), subject, content)

	var auth smtp.Auth
	if s.Username != "" {
		host := s.Addr
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	return smtp.SendMail(s.Addr, auth, s.From, to, []byte(msg))
}
