package api

import (
	"bytes"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/osbits/expira/internal/product"
)

func (a *App) handleMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := a.store.StatusCounts(r.Context())
	if err != nil {
		a.logger.Error("count products", "error", err)
		http.Error(w, "failed to aggregate products: "+err.Error(), http.StatusInternalServerError)
		return
	}

	stats := a.runner.Stats()
	families := []*dto.MetricFamily{
		labelledFamily(a.name("products"), "Products by current status", dto.MetricType_GAUGE, "status", []labelled{
			{string(product.StatusActive), float64(counts[product.StatusActive])},
			{string(product.StatusWarning), float64(counts[product.StatusWarning])},
			{string(product.StatusExpired), float64(counts[product.StatusExpired])},
		}),
		labelledFamily(a.name("check_results_total"), "Completed checks by verdict", dto.MetricType_COUNTER, "status", []labelled{
			{string(product.StatusActive), float64(stats.StatusActive.Load())},
			{string(product.StatusWarning), float64(stats.StatusWarning.Load())},
			{string(product.StatusExpired), float64(stats.StatusExpired.Load())},
		}),
		plainFamily(a.name("check_internal_errors_total"), "Checks that failed to load or persist", dto.MetricType_COUNTER, float64(stats.ChecksFailed.Load())),
		plainFamily(a.name("last_check_duration_seconds"), "Duration of the most recent check", dto.MetricType_GAUGE, float64(stats.LastDurationMs.Load())/1000),
		labelledFamily(a.name("alerts_total"), "Alert dispatches by result", dto.MetricType_COUNTER, "result", []labelled{
			{"sent", float64(stats.AlertsSent.Load())},
			{"failed", float64(stats.AlertsFailed.Load())},
		}),
	}
	if a.scheduler != nil {
		ss := a.scheduler.Stats()
		families = append(families,
			plainFamily(a.name("scheduler_sweeps_total"), "Completed scheduler sweeps", dto.MetricType_COUNTER, float64(ss.Sweeps)),
			labelledFamily(a.name("scheduler_skipped_total"), "Skipped scheduled work by reason", dto.MetricType_COUNTER, "reason", []labelled{
				{"in_flight", float64(ss.SkippedInFlight)},
				{"maintenance", float64(ss.SkippedMaintenance)},
			}),
			plainFamily(a.name("scheduler_last_sweep_timestamp_seconds"), "Unix time of the last sweep", dto.MetricType_GAUGE, float64(ss.LastSweepUnix)),
		)
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			http.Error(w, "failed to encode metrics: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write(buf.Bytes())
}

func (a *App) name(metric string) string {
	return a.namespace + "_" + metric
}

type labelled struct {
	value string
	v     float64
}

func plainFamily(name, help string, typ dto.MetricType, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   typ.Enum(),
		Metric: []*dto.Metric{sample(typ, nil, v)},
	}
}

func labelledFamily(name, help string, typ dto.MetricType, label string, values []labelled) *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: typ.Enum(),
	}
	for _, lv := range values {
		labelName, labelValue := label, lv.value
		mf.Metric = append(mf.Metric, sample(typ, []*dto.LabelPair{{Name: &labelName, Value: &labelValue}}, lv.v))
	}
	return mf
}

func sample(typ dto.MetricType, labels []*dto.LabelPair, v float64) *dto.Metric {
	m := &dto.Metric{Label: labels}
	if typ == dto.MetricType_COUNTER {
		m.Counter = &dto.Counter{Value: &v}
	} else {
		m.Gauge = &dto.Gauge{Value: &v}
	}
	return m
}
