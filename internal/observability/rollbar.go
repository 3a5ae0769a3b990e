package observability

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rollbar/rollbar-go"
)

// Reporter forwards critical errors to Rollbar when configured.
type Reporter struct {
	enabled bool
	logger  *slog.Logger
}

// SetupRollbar enables Rollbar when ROLLBAR_ACCESS_TOKEN is set.
func SetupRollbar(logger *slog.Logger, service string) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	token := strings.TrimSpace(os.Getenv("ROLLBAR_ACCESS_TOKEN"))
	if token == "" {
		rollbar.SetEnabled(false)
		logger.Info("rollbar disabled", "reason", "missing access token")
		return &Reporter{logger: logger}
	}

	rollbar.SetEnabled(true)
	rollbar.SetToken(token)

	env := strings.TrimSpace(os.Getenv("ROLLBAR_ENVIRONMENT"))
	if env == "" {
		env = "production"
	}
	rollbar.SetEnvironment(env)
	if version := strings.TrimSpace(os.Getenv("ROLLBAR_CODE_VERSION")); version != "" {
		rollbar.SetCodeVersion(version)
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		rollbar.SetServerHost(hostname)
	}
	if wd, err := os.Getwd(); err == nil {
		rollbar.SetServerRoot(filepath.Clean(wd))
	}
	if service != "" {
		rollbar.SetCustom(map[string]interface{}{"service": service})
	}
	rollbar.SetCaptureIp(rollbar.CaptureIpAnonymize)

	logger.Info("rollbar enabled", "environment", env)
	return &Reporter{enabled: true, logger: logger}
}

// Enabled reports whether errors are forwarded.
func (r *Reporter) Enabled() bool {
	return r != nil && r.enabled
}

// Error reports err with optional key/value context.
func (r *Reporter) Error(err error, extras map[string]interface{}) {
	if !r.Enabled() || err == nil {
		return
	}
	rollbar.Error(err, extras)
}

// Close flushes pending items.
func (r *Reporter) Close() {
	if r.Enabled() {
		rollbar.Wait()
	}
}

// Recover reports a panic and re-panics. Use with defer.
func (r *Reporter) Recover() {
	rec := recover()
	if rec == nil {
		return
	}
	if r.Enabled() {
		err, ok := rec.(error)
		if !ok {
			err = fmt.Errorf("panic: %v", rec)
		}
		rollbar.Critical(err)
		rollbar.Wait()
	}
	if r != nil && r.logger != nil {
		r.logger.Error("panic captured", "panic", rec)
	}
	panic(rec)
}
