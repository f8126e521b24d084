package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notification is a user-facing message handed to the notification service.
type Notification struct {
	UserID  string                 `json:"user_id"`
	Type    string                 `json:"type"`
	Title   string                 `json:"title"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// NotificationClient posts notifications without waiting for delivery.
type NotificationClient struct {
	base    *BaseClient
	timeout time.Duration
	logger  *zap.Logger
}

// NewNotificationClient returns client. An empty baseURL disables delivery.
func NewNotificationClient(baseURL string, timeout time.Duration, logger *zap.Logger) *NotificationClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NotificationClient{
		base:    NewBaseClient(baseURL, NewDefaultHTTPClient(timeout)),
		timeout: timeout,
		logger:  logger,
	}
}

// Notify schedules delivery in the background and returns immediately.
func (c *NotificationClient) Notify(_ context.Context, n Notification) {
	if !c.base.Enabled() {
		c.logger.Debug("notification client disabled, skip", zap.String("type", n.Type))
		return
	}
	go c.send(n)
}

func (c *NotificationClient) send(n Notification) {
	body, err := json.Marshal(n)
	if err != nil {
		c.logger.Warn("notification marshal failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	status, _, err := c.base.Do(ctx, http.MethodPost, "/internal/notifications", body, nil)
	if err != nil {
		c.logger.Warn("notification request failed", zap.String("type", n.Type), zap.Error(err))
		return
	}
	if status >= 300 {
		c.logger.Warn("notification service returned non-success", zap.String("type", n.Type), zap.Int("status", status))
	}
}
