package reports

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/sirupsen/logrus"
)

// slowReportThreshold reads REPORT_SLOW_MS (default 500ms).
func slowReportThreshold() time.Duration {
	ms := int64(500)
	if v := strings.TrimSpace(os.Getenv("REPORT_SLOW_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ms = n
		}
	}
	return time.Duration(ms) * time.Millisecond
}

// LogSlowReport warns when a report took longer than REPORT_SLOW_MS.
// Use it deferred: defer reports.LogSlowReport(ctx, "annual", time.Now(), fields).
func LogSlowReport(ctx context.Context, name string, started time.Time, extra logrus.Fields) bool {
	d := time.Since(started)
	if d < slowReportThreshold() {
		return false
	}
	fields := logrus.Fields{
		"report": name,
		"ms":     d.Milliseconds(),
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = cid
	}
	for k, v := range extra {
		fields[k] = v
	}
	config.GetLogger().WithFields(fields).Warn("slow report")
	return true
}
