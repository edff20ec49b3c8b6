package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	domainCampaign "go-campaign-dispatch/src/domain/campaign"
	domainErrors "go-campaign-dispatch/src/domain/errors"
	logger "go-campaign-dispatch/src/infrastructure/logger"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

const maxResponseBody = 1 << 20

// SendError is returned for every failed send and carries its classification
type SendError struct {
	Kind       domainCampaign.FailureKind
	StatusCode int
	Message    string
	Err        error
}

func (e *SendError) Error() string {
	prefix := string(e.Kind) + " provider error"
	if e.StatusCode != 0 {
		prefix = fmt.Sprintf("%s (status %d)", prefix, e.StatusCode)
	}
	if e.Message != "" {
		return prefix + ": " + e.Message
	}
	return prefix
}

func (e *SendError) FailureKind() domainCampaign.FailureKind {
	return e.Kind
}

// Unwrap exposes the matching AppError so callers can branch on the error type
func (e *SendError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	switch e.Kind {
	case domainCampaign.FailurePermanent:
		return domainErrors.NewAppError(errors.New(e.Message), domainErrors.PermanentSendError)
	case domainCampaign.FailureTransient:
		return domainErrors.NewAppError(errors.New(e.Message), domainErrors.TransientSendError)
	}
	return nil
}

type Config struct {
	BaseURL     string
	Token       string
	InstanceKey string
	Timeout     time.Duration
}

// Client talks to the WhatsApp gateway's send endpoint
type Client struct {
	baseURL     string
	token       string
	instanceKey string
	timeout     time.Duration
	httpClient  *http.Client
	Logger      *logger.Logger
}

func NewClient(cfg Config, loggerInstance *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		instanceKey: cfg.InstanceKey,
		timeout:     timeout,
		httpClient:  &http.Client{Timeout: timeout},
		Logger:      loggerInstance,
	}
}

// Send posts one message and returns the provider's message id
func (c *Client) Send(ctx context.Context, phone string, content string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := sjson.SetBytes([]byte(`{}`), "to", phone)
	if err == nil {
		body, err = sjson.SetBytes(body, "body", content)
	}
	if err != nil {
		return "", &SendError{Kind: domainCampaign.FailureUnknown, Message: "encoding request: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return "", &SendError{Kind: domainCampaign.FailurePermanent, Message: "building request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "go-campaign-dispatch")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.instanceKey != "" {
		req.Header.Set("X-Instance-Key", c.instanceKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.Logger.Warn("Provider request failed", zap.Error(err), zap.String("to", phone))
		return "", &SendError{Kind: domainCampaign.FailureTransient, Message: transportMessage(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", &SendError{Kind: domainCampaign.FailureTransient, StatusCode: resp.StatusCode, Message: "reading response: " + err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if !gjson.ValidBytes(raw) {
			return "", &SendError{Kind: domainCampaign.FailureUnknown, StatusCode: resp.StatusCode, Message: "undecodable response body"}
		}
		messageID := gjson.GetBytes(raw, "messageId").String()
		if messageID == "" {
			return "", &SendError{Kind: domainCampaign.FailureUnknown, StatusCode: resp.StatusCode, Message: "response carried no messageId"}
		}
		c.Logger.Debug("Provider accepted message", zap.String("to", phone), zap.String("messageId", messageID))
		return messageID, nil
	}

	sendErr := &SendError{
		Kind:       classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    errorEnvelopeMessage(raw),
	}
	c.Logger.Warn("Provider rejected message",
		zap.String("to", phone),
		zap.Int("status", resp.StatusCode),
		zap.String("kind", string(sendErr.Kind)),
		zap.String("error", sendErr.Message))
	return "", sendErr
}

func classifyStatus(status int) domainCampaign.FailureKind {
	switch {
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return domainCampaign.FailureTransient
	case status >= 400:
		return domainCampaign.FailurePermanent
	}
	return domainCampaign.FailureUnknown
}

// errorEnvelopeMessage reads {"error":{"code","message"}}, {"error":"..."} or {"message":"..."}
func errorEnvelopeMessage(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		text := strings.TrimSpace(string(raw))
		if len(text) > 200 {
			text = text[:200]
		}
		return text
	}

	parsed := gjson.ParseBytes(raw)
	errField := parsed.Get("error")
	if errField.IsObject() {
		msg := errField.Get("message").String()
		if code := errField.Get("code").String(); code != "" {
			return code + ": " + msg
		}
		return msg
	}
	if errField.Exists() {
		return errField.String()
	}
	return parsed.Get("message").String()
}

func transportMessage(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout: " + err.Error()
	}
	return err.Error()
}
