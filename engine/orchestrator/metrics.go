package orchestrator

import (
	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/pkg/metrics"
)

// observer records run metrics; a nil registry makes it a no-op.
type observer struct {
	reg *metrics.Registry
}

func newObserver(reg *metrics.Registry) *observer { return &observer{reg: reg} }

func (o *observer) dealer(res domain.DealerResult) {
	if o.reg == nil {
		return
	}
	status := "ok"
	if res.Failed() {
		status = "failed"
	}
	g := string(res.Group)
	o.reg.Counter(metrics.WithLabels("listings_dealers_total", "group", g, "status", status),
		"Dealers scraped, by group and outcome.").Inc()
	o.reg.Counter(metrics.WithLabels("listings_records_total", "group", g),
		"Normalized records kept after filtering.").Add(int64(len(res.Records)))
	o.reg.Histogram(metrics.WithLabels("listings_dealer_duration_seconds", "group", g),
		"Wall time of one dealer scrape.", metrics.ScrapeBuckets).Observe(res.Duration.Seconds())
}

func (o *observer) run(s domain.RunSummary) {
	if o.reg == nil {
		return
	}
	o.reg.Histogram("listings_run_duration_seconds", "Wall time of a full run.", metrics.RunBuckets).
		Observe(s.Duration.Seconds())
	o.reg.Gauge("listings_last_run_timestamp", "Unix time the last run finished.").Set(s.FinishedAt.Unix())
	o.reg.Gauge("listings_last_run_errors", "Errors recorded by the last run.").Set(int64(len(s.Errors)))
}
