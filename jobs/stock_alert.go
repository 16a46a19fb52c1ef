package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// AuditPort records the outcome of a stock alert.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockAlertJob logs and audits products left negative or low by a checkout.
type StockAlertJob struct {
	Audit   AuditPort
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStockAlertJob initialises the stock alert handler.
func NewStockAlertJob(audit AuditPort, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockAlertJob {
	return &StockAlertJob{Audit: audit, Logger: logger, Metrics: metrics}
}

// Handle processes TaskStockAlert tasks.
func (j *StockAlertJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("stock alert: handler not configured")
	}
	var payload StockAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OrderID == "" {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskStockAlert)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.String("order_id", payload.OrderID),
		slog.String("terminal_id", payload.TerminalID),
	)
	for _, d := range payload.Negative {
		logger.Warn("stock went negative",
			slog.String("product_id", d.ProductID),
			slog.Int64("deducted", d.Quantity),
			slog.Int64("balance", d.Balance))
	}
	for _, d := range payload.LowStock {
		logger.Info("stock running low",
			slog.String("product_id", d.ProductID),
			slog.Int64("balance", d.Balance))
	}
	j.Metrics.AddStockAlerts("negative", len(payload.Negative))
	j.Metrics.AddStockAlerts("low", len(payload.LowStock))

	if j.Audit == nil {
		return resultErr
	}
	resultErr = j.Audit.Record(ctx, shared.AuditLog{
		Actor:    payload.TerminalID,
		Action:   "stock.alert",
		Entity:   "order",
		EntityID: payload.OrderID,
		Meta: map[string]any{
			"negative":  payload.Negative,
			"low_stock": payload.LowStock,
		},
		At: payload.RaisedAt,
	})
	if resultErr != nil {
		logger.Error("audit stock alert", slog.Any("error", resultErr))
	}
	return resultErr
}

func (j *StockAlertJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
