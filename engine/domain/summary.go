package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// ErrorScope is the blast radius of a run error.
type ErrorScope string

const (
	ScopeDealer ErrorScope = "dealer"
	ScopeGroup  ErrorScope = "group"
	ScopeFatal  ErrorScope = "fatal"
)

// RunError is one entry of RunSummary.Errors.
type RunError struct {
	Scope   ErrorScope `json:"scope"`
	Group   TechGroup  `json:"group,omitempty"`
	Dealer  string     `json:"dealer,omitempty"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// GroupSummary aggregates the dealers of one technology group.
type GroupSummary struct {
	Group               TechGroup `json:"group"`
	Attempted           int       `json:"attempted"`
	Succeeded           int       `json:"succeeded"`
	Failed              int       `json:"failed"`
	TotalRecords        int       `json:"totalRecords"`
	AvgRecordsPerDealer float64   `json:"avgRecordsPerDealer"`
}

// SummarizeGroup builds the summary of a group's dealer results.
func SummarizeGroup(g TechGroup, results []DealerResult) GroupSummary {
	s := GroupSummary{Group: g, Attempted: len(results)}
	for _, r := range results {
		if r.Failed() {
			s.Failed++
		} else {
			s.Succeeded++
		}
		s.TotalRecords += len(r.Records)
	}
	if s.Attempted > 0 {
		s.AvgRecordsPerDealer = float64(s.TotalRecords) / float64(s.Attempted)
	}
	return s
}

// GroupSummaries keeps group summaries in configured priority order. It
// serializes as a JSON object whose keys follow that order.
type GroupSummaries []GroupSummary

// Get returns the summary for g.
func (gs GroupSummaries) Get(g TechGroup) (GroupSummary, bool) {
	for _, s := range gs {
		if s.Group == g {
			return s, true
		}
	}
	return GroupSummary{}, false
}

func (gs GroupSummaries) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range gs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(string(s.Group))
		val, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object form back, keeping key order.
func (gs *GroupSummaries) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	out := GroupSummaries{}
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return err
		}
		var s GroupSummary
		if err := dec.Decode(&s); err != nil {
			return err
		}
		out = append(out, s)
	}
	*gs = out
	return nil
}

// RunSummary is the top of the aggregate tree, built once at the end of a run.
type RunSummary struct {
	RunID          string         `json:"runId"`
	StartedAt      time.Time      `json:"startedAt"`
	FinishedAt     time.Time      `json:"finishedAt"`
	Duration       time.Duration  `json:"durationNs"`
	TotalDealers   int            `json:"totalDealers"`
	TotalRecords   int            `json:"totalRecords"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	GroupSummaries GroupSummaries `json:"groupSummaries"`
	Errors         []RunError     `json:"errors"`
	State          string         `json:"state"`
	Cancelled      bool           `json:"cancelled"`
}

// ErrorsByScope returns the errors of one scope in recorded order.
func (s RunSummary) ErrorsByScope(scope ErrorScope) []RunError {
	var out []RunError
	for _, e := range s.Errors {
		if e.Scope == scope {
			out = append(out, e)
		}
	}
	return out
}

// GroupResults are the dealer results of one group, in completion order.
type GroupResults struct {
	Group   TechGroup
	Results []DealerResult
}

// RunReport is what a run produces: the summary plus one result array per
// executed group. Its JSON form is the per-run artifact:
//
//	{"summary": {...}, "template-cms": [...], "component-framework": [...]}
//
// Group keys appear in configured priority order. Downstream tooling parses the
// artifact by group name, so field names must stay stable.
type RunReport struct {
	Summary RunSummary
	Groups  []GroupResults
}

// Results returns the dealer results of group g.
func (r RunReport) Results(g TechGroup) []DealerResult {
	for _, gr := range r.Groups {
		if gr.Group == g {
			return gr.Results
		}
	}
	return nil
}

// Records flattens every dealer's records in group order.
func (r RunReport) Records() []Record {
	var out []Record
	for _, gr := range r.Groups {
		for _, dr := range gr.Results {
			out = append(out, dr.Records...)
		}
	}
	return out
}

func (r RunReport) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`{"summary":`)
	buf.Write(summary)
	for _, gr := range r.Groups {
		results := gr.Results
		if results == nil {
			results = []DealerResult{}
		}
		val, err := json.Marshal(results)
		if err != nil {
			return nil, err
		}
		key, _ := json.Marshal(string(gr.Group))
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
