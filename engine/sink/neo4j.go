package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/pkg/fn"
)

// DefaultNeo4jBatch is the number of listings sent per UNWIND.
const DefaultNeo4jBatch = 200

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

// Neo4j keeps the listing graph: (:Dealer)-[:LISTS]->(:Listing)-[:SEEN_IN]->(:Run).
// Listings are merged on their key, so a listing seen again updates the
// stored node and keeps its first_seen.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
	batch    int
	log      *slog.Logger

	newSession func(ctx context.Context) runner // for testing
}

// NewNeo4j wraps an open driver. An empty database uses the server default.
func NewNeo4j(driver neo4j.DriverWithContext, database string, log *slog.Logger) *Neo4j {
	if log == nil {
		log = slog.Default()
	}
	return &Neo4j{driver: driver, database: database, batch: DefaultNeo4jBatch, log: log}
}

// ConnectNeo4j opens a driver and checks connectivity.
func ConnectNeo4j(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: connect %s: %w", uri, err)
	}
	return driver, nil
}

func (n *Neo4j) session(ctx context.Context) runner {
	if n.newSession != nil {
		return n.newSession(ctx)
	}
	return &sessionAdapter{sess: n.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})}
}

// ListingKey identifies a listing across runs: its source URL, or
// dealer|title when the site gave none.
func ListingKey(r domain.Record) string {
	if r.Candidate.SourceURL != "" {
		return r.Candidate.SourceURL
	}
	return r.Candidate.DealerName + "|" + strings.ToLower(r.Title)
}

const cypherRun = `MERGE (r:Run {id: $id})
SET r.started_at = $started, r.finished_at = $finished, r.state = $state,
    r.dealers = $dealers, r.records = $records, r.errors = $errors`

const cypherListings = `UNWIND $rows AS row
MERGE (d:Dealer {name: row.dealer})
MERGE (l:Listing {key: row.key})
ON CREATE SET l.first_seen = $seen
SET l += row.props, l.last_seen = $seen
MERGE (d)-[:LISTS]->(l)
WITH l
MATCH (r:Run {id: $run})
MERGE (l)-[:SEEN_IN]->(r)
RETURN count(l) AS n`

func listingRow(r domain.Record) map[string]any {
	props := map[string]any{
		"title":          r.Title,
		"currency":       r.PriceCurrencyGuess,
		"extracted_from": string(r.Candidate.Source),
		"raw_price_text": r.Candidate.RawPriceText,
		"discovered_at":  r.Candidate.DiscoveredAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if r.Candidate.SourceURL != "" {
		props["source_url"] = r.Candidate.SourceURL
	}
	if r.Candidate.ImageURL != "" {
		props["image_url"] = r.Candidate.ImageURL
	}
	if r.PriceAmount != nil {
		props["price"] = *r.PriceAmount
	}
	if r.Year != nil {
		props["year"] = int64(*r.Year)
	}
	if r.MileageKm != nil {
		props["mileage_km"] = int64(*r.MileageKm)
	}
	if r.Brand != nil {
		props["brand"] = *r.Brand
	}
	if r.Model != nil {
		props["model"] = *r.Model
	}
	if r.Location != nil {
		props["location"] = *r.Location
	}
	return map[string]any{"dealer": r.Candidate.DealerName, "key": ListingKey(r), "props": props}
}

func (n *Neo4j) Persist(ctx context.Context, report domain.RunReport, records []domain.Record) error {
	sess := n.session(ctx)
	defer sess.Close(ctx)

	s := report.Summary
	if _, err := sess.Run(ctx, cypherRun, map[string]any{
		"id":       s.RunID,
		"started":  s.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
		"finished": s.FinishedAt.UTC().Format("2006-01-02T15:04:05Z"),
		"state":    s.State,
		"dealers":  int64(s.TotalDealers),
		"records":  int64(s.TotalRecords),
		"errors":   int64(len(s.Errors)),
	}); err != nil {
		return fmt.Errorf("neo4j: run node: %w", err)
	}

	seen := s.FinishedAt.UTC().Format("2006-01-02T15:04:05Z")
	merged := int64(0)
	for i, chunk := range fn.Chunk(records, n.batch) {
		res, err := sess.Run(ctx, cypherListings, map[string]any{
			"rows": fn.Map(chunk, listingRow),
			"seen": seen,
			"run":  s.RunID,
		})
		if err != nil {
			return fmt.Errorf("neo4j: listings batch %d: %w", i, err)
		}
		if res != nil && res.Next(ctx) {
			if v, ok := res.Record().Get("n"); ok {
				if c, ok := v.(int64); ok {
					merged += c
				}
			}
		}
	}
	n.log.Info("listing graph updated", "run", s.RunID, "listings", merged)
	return nil
}
