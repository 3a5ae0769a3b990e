package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/osbits/expira/internal/product"
)

// resultDetails holds the optional CheckResult records stored as one JSON column.
type resultDetails struct {
	ErrorDetails *product.ErrorDetails `json:"errorDetails,omitempty"`
	HTTPHeaders  map[string]string     `json:"httpHeaders,omitempty"`
	DNSInfo      *product.DNSInfo      `json:"dnsInfo,omitempty"`
	SSLInfo      *product.SSLInfo      `json:"sslInfo,omitempty"`
	APIResponse  *product.APIResponse  `json:"apiResponse,omitempty"`
	ContentInfo  *product.ContentInfo  `json:"contentInfo,omitempty"`
	Performance  *product.Performance  `json:"performance,omitempty"`
	NetworkInfo  *product.NetworkInfo  `json:"networkInfo,omitempty"`
}

// RecordCheck persists a check result and moves the product to status in a
// single transaction. The stored result is returned with its assigned id.
func (s *Store) RecordCheck(ctx context.Context, status product.Status, result product.CheckResult) (stored product.CheckResult, err error) {
	if result.ProductID == "" {
		return product.CheckResult{}, errors.New("check result product id is required")
	}
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CheckedAt.IsZero() {
		result.CheckedAt = s.now()
	}
	result.CheckedAt = result.CheckedAt.UTC()

	details, err := json.Marshal(resultDetails{
		ErrorDetails: result.ErrorDetails,
		HTTPHeaders:  result.HTTPHeaders,
		DNSInfo:      result.DNSInfo,
		SSLInfo:      result.SSLInfo,
		APIResponse:  result.APIResponse,
		ContentInfo:  result.ContentInfo,
		Performance:  result.Performance,
		NetworkInfo:  result.NetworkInfo,
	})
	if err != nil {
		return product.CheckResult{}, fmt.Errorf("encode check details: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return product.CheckResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var responseTime, statusCode any
	if result.ResponseTime != nil {
		responseTime = *result.ResponseTime
	}
	if result.StatusCode != nil {
		statusCode = *result.StatusCode
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO check_results (id, product_id, status, message, response_time_ms, status_code, error_code, details_json, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, result.ID, result.ProductID, string(result.Status), result.Message, responseTime, statusCode, result.ErrorCode, string(details), formatTime(result.CheckedAt))
	if err != nil {
		return product.CheckResult{}, fmt.Errorf("insert check result: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE products SET status = ?, last_checked = ?, updated_at = ? WHERE id = ?
	`, string(status), optionalTime(result.CheckedAt), formatTime(s.now()), result.ProductID)
	if err != nil {
		return product.CheckResult{}, fmt.Errorf("update product status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fmt.Errorf("product %q: %w", result.ProductID, ErrNotFound)
		return product.CheckResult{}, err
	}

	if s.resultLimit > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM check_results
			WHERE product_id = ? AND id NOT IN (
				SELECT id FROM check_results WHERE product_id = ? ORDER BY checked_at DESC LIMIT ?
			)
		`, result.ProductID, result.ProductID, s.resultLimit)
		if err != nil {
			return product.CheckResult{}, fmt.Errorf("trim check results: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return product.CheckResult{}, fmt.Errorf("commit check result: %w", err)
	}
	return result, nil
}

// ListCheckResults returns the newest results for a product, newest first.
func (s *Store) ListCheckResults(ctx context.Context, productID string, limit int) ([]product.CheckResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, status, message, response_time_ms, status_code, error_code, details_json, checked_at
		FROM check_results
		WHERE product_id = ?
		ORDER BY checked_at DESC, rowid DESC
		LIMIT ?
	`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list check results: %w", err)
	}
	defer rows.Close()

	out := []product.CheckResult{}
	for rows.Next() {
		var (
			r            product.CheckResult
			status       string
			responseTime sql.NullInt64
			statusCode   sql.NullInt64
			errorCode    sql.NullString
			details      sql.NullString
			checkedAt    string
		)
		if err := rows.Scan(&r.ID, &r.ProductID, &status, &r.Message, &responseTime, &statusCode, &errorCode, &details, &checkedAt); err != nil {
			return nil, fmt.Errorf("scan check result: %w", err)
		}
		r.Status = product.CheckStatus(status)
		r.ErrorCode = errorCode.String
		if responseTime.Valid {
			v := responseTime.Int64
			r.ResponseTime = &v
		}
		if statusCode.Valid {
			v := int(statusCode.Int64)
			r.StatusCode = &v
		}
		if details.Valid && details.String != "" {
			var d resultDetails
			if err := json.Unmarshal([]byte(details.String), &d); err != nil {
				return nil, fmt.Errorf("decode check details %q: %w", r.ID, err)
			}
			r.ErrorDetails = d.ErrorDetails
			r.HTTPHeaders = d.HTTPHeaders
			r.DNSInfo = d.DNSInfo
			r.SSLInfo = d.SSLInfo
			r.APIResponse = d.APIResponse
			r.ContentInfo = d.ContentInfo
			r.Performance = d.Performance
			r.NetworkInfo = d.NetworkInfo
		}
		if r.CheckedAt, err = parseTime(checkedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list check results: %w", err)
	}
	return out, nil
}

// NotificationLog captures a single notification delivery attempt.
type NotificationLog struct {
	NotifierID string
	Channel    string
	UserID     string
	ProductID  string
	Title      string
	Message    string
	Status     string
	Error      string
	OccurredAt time.Time
}

// RecordNotification appends a delivery attempt and trims the log.
func (s *Store) RecordNotification(ctx context.Context, entry NotificationLog) (err error) {
	if s == nil || s.db == nil {
		return nil
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notification_logs (notifier_id, channel, user_id, product_id, title, message, status, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.NotifierID, entry.Channel, entry.UserID, entry.ProductID, entry.Title, entry.Message, entry.Status, entry.Error, formatTime(entry.OccurredAt))
	if err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM notification_logs
		WHERE id NOT IN (
			SELECT id FROM notification_logs ORDER BY id DESC LIMIT ?
		)
	`, s.notificationLimit)
	if err != nil {
		return fmt.Errorf("trim notification logs: %w", err)
	}

	return tx.Commit()
}

// ListNotifications returns the newest delivery attempts for a product, newest first.
func (s *Store) ListNotifications(ctx context.Context, productID string, limit int) ([]NotificationLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT notifier_id, channel, user_id, product_id, title, message, status, error, occurred_at
		FROM notification_logs
		WHERE product_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []NotificationLog
	for rows.Next() {
		var (
			entry                                 NotificationLog
			userID, prodID, title, message, errMsg sql.NullString
			occurredAt                            string
		)
		if err := rows.Scan(&entry.NotifierID, &entry.Channel, &userID, &prodID, &title, &message, &entry.Status, &errMsg, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		entry.UserID = userID.String
		entry.ProductID = prodID.String
		entry.Title = title.String
		entry.Message = message.String
		entry.Error = errMsg.String
		if entry.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
