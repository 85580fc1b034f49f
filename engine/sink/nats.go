package sink

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/pkg/natsutil"
)

// DefaultSubjectPrefix roots every subject the NATS sink publishes on.
const DefaultSubjectPrefix = "listings"

// ListingMessage is one record as published on <prefix>.records.<group>.
type ListingMessage struct {
	RunID  string           `json:"runId"`
	Group  domain.TechGroup `json:"group"`
	Record domain.Record    `json:"record"`
}

// RunMessage is the summary published on <prefix>.runs once all records
// are out.
type RunMessage struct {
	Summary domain.RunSummary `json:"summary"`
}

// NATS publishes records per group, then the run summary.
type NATS struct {
	Conn   *nats.Conn
	Prefix string
}

// NewNATS returns a NATS sink on nc. An empty prefix uses
// DefaultSubjectPrefix.
func NewNATS(nc *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{Conn: nc, Prefix: prefix}
}

// RecordsSubject is the subject records of group g are published on.
func (n *NATS) RecordsSubject(g domain.TechGroup) string {
	return natsutil.Subject(n.Prefix, "records", string(g))
}

// RunsSubject is the subject run summaries are published on.
func (n *NATS) RunsSubject() string { return natsutil.Subject(n.Prefix, "runs") }

// Persist publishes the records of report's groups. The records argument is
// ignored in favour of the grouped view, which carries the same records.
func (n *NATS) Persist(ctx context.Context, report domain.RunReport, _ []domain.Record) error {
	for _, gr := range report.Groups {
		var msgs []ListingMessage
		for _, dr := range gr.Results {
			for _, rec := range dr.Records {
				msgs = append(msgs, ListingMessage{RunID: report.Summary.RunID, Group: gr.Group, Record: rec})
			}
		}
		if len(msgs) == 0 {
			continue
		}
		if err := natsutil.PublishAll(ctx, n.Conn, n.RecordsSubject(gr.Group), msgs); err != nil {
			return fmt.Errorf("nats: %s records: %w", gr.Group, err)
		}
	}
	if err := natsutil.Publish(ctx, n.Conn, n.RunsSubject(), RunMessage{Summary: report.Summary}); err != nil {
		return fmt.Errorf("nats: summary: %w", err)
	}
	return n.Conn.FlushWithContext(ctx)
}
