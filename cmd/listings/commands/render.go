package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/WessleyAI/wessley-listings/engine/domain"
)

func renderSummary(w io.Writer, s domain.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("run %s (%s, %s)", shortID(s.RunID), s.State, s.Duration.Round(time.Millisecond)))
	t.AppendHeader(table.Row{"Group", "Dealers", "OK", "Failed", "Records", "Avg/dealer"})
	for _, g := range s.GroupSummaries {
		t.AppendRow(table.Row{g.Group, g.Attempted, g.Succeeded, g.Failed, g.TotalRecords, fmt.Sprintf("%.1f", g.AvgRecordsPerDealer)})
	}
	t.AppendFooter(table.Row{"total", s.TotalDealers, s.Succeeded, s.Failed, s.TotalRecords, ""})
	t.SetStyle(table.StyleRounded)
	t.Render()

	if len(s.Errors) == 0 {
		return
	}
	e := table.NewWriter()
	e.SetOutputMirror(w)
	e.AppendHeader(table.Row{"Scope", "Group", "Dealer", "Error"})
	for _, re := range s.Errors {
		e.AppendRow(table.Row{re.Scope, re.Group, re.Dealer, re.Message})
	}
	e.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: 80}})
	e.SetStyle(table.StyleRounded)
	e.Render()
}

func renderProfiles(w io.Writer, profiles []domain.SiteProfile) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Domain", "Group", "Verified", "Flags", "Endpoints"})
	for _, p := range profiles {
		t.AppendRow(table.Row{p.Domain, p.Group, p.Verified, flagList(p.Flags), len(p.Endpoints)})
	}
	t.AppendFooter(table.Row{"", "", "", "profiles", len(profiles)})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func flagList(f domain.FeatureFlags) string {
	var out []string
	if f.HasInfiniteScroll {
		out = append(out, "scroll")
	}
	if f.HasPagination {
		out = append(out, "paged")
	}
	if f.RequiresResponseIntercept {
		out = append(out, "intercept")
	}
	if f.HasLazyImages {
		out = append(out, "lazy")
	}
	return strings.Join(out, ",")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
