package clients

import (
	"context"
	"fmt"

	"lease-ledger/internal/domain"
	ws "lease-ledger/internal/transport/websocket"
)

// WebSocketClient turns service events into hub messages addressed to one user.
type WebSocketClient struct {
	hub *ws.Hub
}

func NewWebSocketClient(hub *ws.Hub) *WebSocketClient {
	return &WebSocketClient{
		hub: hub,
	}
}

func (c *WebSocketClient) send(userID int64, typ, channel string, data map[string]any) error {
	if c == nil || c.hub == nil {
		return nil
	}
	c.hub.Broadcast(userID, &ws.Message{
		Type:    typ,
		Channel: fmt.Sprintf("%s#%d", channel, userID),
		Data:    data,
	})
	return nil
}

// NotifyPaymentUpdated tells the panel that a payment changed state, so open
// dashboards refetch their figures.
func (c *WebSocketClient) NotifyPaymentUpdated(
	ctx context.Context,
	userID int64,
	paymentID string,
	leaseID string,
	status domain.PaymentStatus,
) error {
	return c.send(userID, "payment_updated", "notify_user_of_payment_update", map[string]any{
		"id":       paymentID,
		"lease_id": leaseID,
		"status":   status,
	})
}

func (c *WebSocketClient) NotifyExportProgress(
	ctx context.Context,
	userID int64,
	exportID string,
	progress float64,
	stage string,
) error {
	data := map[string]any{
		"id":       exportID,
		"progress": progress,
	}
	if stage != "" {
		data["stage"] = stage
	}
	return c.send(userID, "export_progress", "notify_user_of_progress_export", data)
}

func (c *WebSocketClient) NotifyExportComplete(
	ctx context.Context,
	userID int64,
	exportID string,
	url string,
	filename string,
) error {
	return c.send(userID, "export_complete", "notify_user_when_export_complete", map[string]any{
		"id":       exportID,
		"url":      url,
		"filename": filename,
		"user_id":  userID,
	})
}

func (c *WebSocketClient) NotifyExportFailed(ctx context.Context, userID int64, exportID string, errMsg string) error {
	return c.send(userID, "export_failed", "notify_user_when_export_failed", map[string]any{
		"id":      exportID,
		"message": errMsg,
		"user_id": userID,
	})
}
