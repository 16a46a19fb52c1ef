package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/stock"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockAlert follows up a checkout that left stock negative or low.
	TaskStockAlert = "stock:alert"
	// TaskIdempotencyCleanup purges expired checkout idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// StockAlertPayload carries the stock report of one paid order.
type StockAlertPayload struct {
	OrderID    string            `json:"order_id"`
	TerminalID string            `json:"terminal_id"`
	Negative   []stock.Deduction `json:"negative,omitempty"`
	LowStock   []stock.Deduction `json:"low_stock,omitempty"`
	RaisedAt   time.Time         `json:"raised_at"`
}

// NewStockAlertTask constructs an Asynq task for a stock alert.
func NewStockAlertTask(payload StockAlertPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockAlert, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// IdempotencyCleanupPayload configures the retention of idempotency keys.
type IdempotencyCleanupPayload struct {
	MaxAge time.Duration `json:"max_age"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(maxAge time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{MaxAge: maxAge})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
