package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/osbits/expira/internal/checks"
	"github.com/osbits/expira/internal/notifier"
	"github.com/osbits/expira/internal/product"
	"github.com/osbits/expira/internal/storage"
)

// Checker runs one product check.
type Checker interface {
	Run(ctx context.Context, p product.Product) checks.Outcome
}

// Store is the persistence the runner needs.
type Store interface {
	GetProduct(ctx context.Context, id string) (product.Product, error)
	ListProducts(ctx context.Context) ([]product.Product, error)
	RecordCheck(ctx context.Context, status product.Status, result product.CheckResult) (product.CheckResult, error)
}

// Dispatcher delivers alerts.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert notifier.Alert) error
}

// ErrProductNotFound is returned when the product id is unknown.
var ErrProductNotFound = errors.New("product not found")

// ErrInFlight is returned by TryCheck when the product is already being checked.
var ErrInFlight = errors.New("check already in flight")

// Response is returned to callers of CheckProduct.
type Response struct {
	Success bool                `json:"success"`
	Product product.Product     `json:"product"`
	Message string              `json:"message"`
	Result  product.CheckResult `json:"result"`
}

// Options tunes the runner.
type Options struct {
	LogRuns bool
	Logger  *slog.Logger
}

// Runner loads a product, checks it, persists the verdict and notifies.
type Runner struct {
	checker   Checker
	store     Store
	notifiers Dispatcher
	logger    *slog.Logger
	logRuns   bool

	mu       sync.Mutex
	inflight map[string]struct{}

	stats Stats
}

// Stats are cumulative counters since start.
type Stats struct {
	ChecksTotal    atomic.Int64
	ChecksFailed   atomic.Int64
	StatusActive   atomic.Int64
	StatusWarning  atomic.Int64
	StatusExpired  atomic.Int64
	AlertsSent     atomic.Int64
	AlertsFailed   atomic.Int64
	LastDurationMs atomic.Int64
}

// New constructs a runner. notifiers may be nil.
func New(checker Checker, store Store, notifiers Dispatcher, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		checker:   checker,
		store:     store,
		notifiers: notifiers,
		logger:    logger,
		logRuns:   opts.LogRuns,
		inflight:  map[string]struct{}{},
	}
}

// Stats exposes the runner counters.
func (r *Runner) Stats() *Stats {
	return &r.stats
}

// CheckProduct runs a check for id regardless of any concurrent check.
// The returned error is non-nil only for internal failures.
func (r *Runner) CheckProduct(ctx context.Context, id string) (Response, error) {
	p, err := r.store.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Response{Success: false, Message: fmt.Sprintf("Product %s not found", id)}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		r.stats.ChecksFailed.Add(1)
		return Response{}, fmt.Errorf("load product: %w", err)
	}

	start := time.Now()
	outcome := r.checker.Run(ctx, p)
	status := outcome.ProductStatus()

	stored, err := r.store.RecordCheck(ctx, status, outcome.Result)
	if err != nil {
		r.stats.ChecksFailed.Add(1)
		r.logger.Error("persist check result", "product_id", p.ID, "error", err)
		return Response{}, fmt.Errorf("persist check result: %w", err)
	}
	p.Status = status
	p.LastChecked = stored.CheckedAt

	r.count(status, time.Since(start))
	if r.logRuns {
		r.logger.Info("check run",
			"product_id", p.ID,
			"status", status,
			"check_status", stored.Status,
			"latency", time.Since(start),
			"message", stored.Message,
		)
	}

	r.notify(ctx, p, stored)

	return Response{
		Success: true,
		Product: p,
		Message: stored.Message,
		Result:  stored,
	}, nil
}

// TryCheck runs CheckProduct unless a check for id is already running.
func (r *Runner) TryCheck(ctx context.Context, id string) (Response, error) {
	if !r.acquire(id) {
		return Response{}, ErrInFlight
	}
	defer r.release(id)
	return r.CheckProduct(ctx, id)
}

func (r *Runner) acquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

func (r *Runner) count(status product.Status, elapsed time.Duration) {
	r.stats.ChecksTotal.Add(1)
	r.stats.LastDurationMs.Store(elapsed.Milliseconds())
	switch status {
	case product.StatusExpired:
		r.stats.StatusExpired.Add(1)
	case product.StatusWarning:
		r.stats.StatusWarning.Add(1)
	default:
		r.stats.StatusActive.Add(1)
	}
}

// channelsFor returns the alert channels triggered by a verdict.
func channelsFor(status product.Status, checkStatus product.CheckStatus) []notifier.Channel {
	if status == product.StatusActive {
		return nil
	}
	channels := []notifier.Channel{notifier.ChannelEmail}
	if status == product.StatusExpired || checkStatus == product.CheckError {
		channels = append(channels, notifier.ChannelSMS)
	}
	return append(channels, notifier.ChannelPush)
}

func (r *Runner) notify(ctx context.Context, p product.Product, result product.CheckResult) {
	if r.notifiers == nil {
		return
	}
	for _, channel := range channelsFor(p.Status, result.Status) {
		alert := notifier.Alert{
			UserID:      p.UserID,
			ProductID:   p.ID,
			ProductName: p.DisplayName(),
			URL:         p.URL,
			Channel:     channel,
			Title:       "Product Check: " + p.DisplayName(),
			Message:     result.Message,
			Status:      p.Status,
			CheckStatus: result.Status,
			OccurredAt:  result.CheckedAt,
		}
		if err := r.notifiers.Dispatch(ctx, alert); err != nil {
			r.stats.AlertsFailed.Add(1)
			r.logger.Warn("alert delivery failed", "product_id", p.ID, "channel", channel, "error", err)
			continue
		}
		r.stats.AlertsSent.Add(1)
	}
}
