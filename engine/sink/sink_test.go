package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/WessleyAI/wessley-listings/engine/domain"
)

func ptr[T any](v T) *T { return &v }

var started = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func fixture() (domain.RunReport, []domain.Record) {
	yaris := domain.Record{
		Title:              "Toyota Yaris 2019",
		PriceAmount:        ptr(9_990_000.0),
		PriceCurrencyGuess: "CLP",
		Year:               ptr(2019),
		MileageKm:          ptr(45_000),
		Brand:              ptr("Toyota"),
		Model:              ptr("Yaris"),
		Candidate: domain.Candidate{
			DealerName: "Automotora A", SourceURL: "https://a.test/a/1",
			RawTitle: "Toyota Yaris 2019", Source: domain.SourceDOM, DiscoveredAt: started,
		},
	}
	swift := domain.Record{
		Title:              "Suzuki Swift",
		PriceCurrencyGuess: "CLP",
		Candidate:          domain.Candidate{DealerName: "Automotora A", RawTitle: "Suzuki Swift", Source: domain.SourceDOM, Index: 1},
	}
	ranger := domain.Record{
		Title:              "Ford Ranger 2020",
		PriceAmount:        ptr(25_990_000.0),
		PriceCurrencyGuess: "CLP",
		Year:               ptr(2020),
		Brand:              ptr("Ford"),
		Candidate:          domain.Candidate{DealerName: "Automotora C", SourceURL: "https://c.test/c/2", Source: domain.SourceInterceptedAPI},
	}
	report := domain.RunReport{
		Summary: domain.RunSummary{
			RunID:          "3f2a9c1e-5b7d-4e0a-9c61-2d8f0b4a7e13",
			StartedAt:      started,
			FinishedAt:     started.Add(4 * time.Minute),
			TotalDealers:   2,
			TotalRecords:   3,
			Succeeded:      2,
			GroupSummaries: domain.GroupSummaries{},
			State:          "done",
		},
		Groups: []domain.GroupResults{
			{Group: domain.GroupCustomRendered, Results: []domain.DealerResult{{DealerName: "Automotora A", Records: []domain.Record{yaris, swift}}}},
			{Group: domain.GroupComponentFramework, Results: []domain.DealerResult{{DealerName: "Automotora C", Records: []domain.Record{ranger}}}},
		},
	}
	return report, report.Records()
}

// --- Multi / Latest ---

func TestMultiAttemptsEverySinkAndJoinsErrors(t *testing.T) {
	report, records := fixture()
	var calls atomic.Int32
	ok := Func(func(context.Context, domain.RunReport, []domain.Record) error { calls.Add(1); return nil })
	m := Multi{
		{Name: "artifact", Sink: Func(func(context.Context, domain.RunReport, []domain.Record) error {
			calls.Add(1)
			return errors.New("disk full")
		})},
		{Name: "nats", Sink: ok},
		{Name: "neo4j", Sink: Func(func(context.Context, domain.RunReport, []domain.Record) error {
			calls.Add(1)
			panic("driver bug")
		})},
		{Name: "unset"},
	}

	err := m.Persist(context.Background(), report, records)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, err.Error(), "sink artifact: disk full")
	assert.Contains(t, err.Error(), "sink neo4j: panic: driver bug")
	assert.NotContains(t, err.Error(), "nats")

	assert.NoError(t, Multi{{Name: "nats", Sink: ok}}.Persist(context.Background(), report, records))
}

func TestLatestServesLastReport(t *testing.T) {
	var l Latest
	rec := httptest.NewRecorder()
	l.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/last", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	report, records := fixture()
	require.NoError(t, l.Persist(context.Background(), report, records))
	rec = httptest.NewRecorder()
	l.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/last", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "summary")
	assert.Contains(t, body, "custom-rendered")
}

// --- Artifact ---

func TestArtifactWritesRunFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	a := NewArtifact(dir, true)
	report, records := fixture()

	require.NoError(t, a.Persist(context.Background(), report, records))
	assert.Equal(t, filepath.Join(dir, "run-20260314T093000Z-3f2a9c1e.json"), a.Path())

	data, err := os.ReadFile(a.Path())
	require.NoError(t, err)
	var got struct {
		Summary struct {
			RunID string `json:"runId"`
		} `json:"summary"`
		Custom []domain.DealerResult `json:"custom-rendered"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, report.Summary.RunID, got.Summary.RunID)
	require.Len(t, got.Custom, 1)
	assert.Len(t, got.Custom[0].Records, 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestArtifactHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, records := fixture()
	assert.ErrorIs(t, NewArtifact(t.TempDir(), false).Persist(ctx, report, records), context.Canceled)
}

// --- NATS ---

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	srv.Start()
	require.True(t, srv.ReadyForConnections(3*time.Second), "nats not ready")
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestNATSPublishesRecordsThenSummary(t *testing.T) {
	nc := startTestNATS(t)
	s := NewNATS(nc, "")
	assert.Equal(t, "listings.records.custom-rendered", s.RecordsSubject(domain.GroupCustomRendered))
	assert.Equal(t, "listings.runs", s.RunsSubject())

	ch := make(chan *nats.Msg, 8)
	sub, err := nc.ChanSubscribe("listings.>", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	report, records := fixture()
	require.NoError(t, s.Persist(context.Background(), report, records))

	var subjects []string
	var listings []ListingMessage
	for len(subjects) < 4 {
		select {
		case msg := <-ch:
			subjects = append(subjects, msg.Subject)
			if msg.Subject == "listings.runs" {
				var run RunMessage
				require.NoError(t, json.Unmarshal(msg.Data, &run))
				assert.Equal(t, report.Summary.RunID, run.Summary.RunID)
				continue
			}
			var lm ListingMessage
			require.NoError(t, json.Unmarshal(msg.Data, &lm))
			listings = append(listings, lm)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout, got %v", subjects)
		}
	}
	assert.Equal(t, []string{
		"listings.records.custom-rendered",
		"listings.records.custom-rendered",
		"listings.records.component-framework",
		"listings.runs",
	}, subjects)
	require.Len(t, listings, 3)
	assert.Equal(t, report.Summary.RunID, listings[0].RunID)
	assert.Equal(t, "Toyota Yaris 2019", listings[0].Record.Title)
	assert.Equal(t, domain.GroupComponentFramework, listings[2].Group)
}

// --- Neo4j ---

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }

type call struct {
	cypher string
	params map[string]any
}

type mockRunner struct {
	calls  []call
	failOn int
	closed bool
}

func (m *mockRunner) Run(_ context.Context, cypher string, params map[string]any) (result, error) {
	m.calls = append(m.calls, call{cypher, params})
	if m.failOn > 0 && len(m.calls) == m.failOn {
		return nil, errors.New("connection reset")
	}
	rows, _ := params["rows"].([]map[string]any)
	return &mockResult{records: []*neo4j.Record{{Keys: []string{"n"}, Values: []any{int64(len(rows))}}}}, nil
}

func (m *mockRunner) Close(context.Context) error { m.closed = true; return nil }

func newTestNeo4j(r *mockRunner, batch int) *Neo4j {
	n := NewNeo4j(nil, "", nil)
	n.batch = batch
	n.newSession = func(context.Context) runner { return r }
	return n
}

func TestNeo4jMergesRunThenListingBatches(t *testing.T) {
	r := &mockRunner{}
	report, records := fixture()
	require.NoError(t, newTestNeo4j(r, 2).Persist(context.Background(), report, records))

	require.Len(t, r.calls, 3, "run node plus two batches")
	assert.Contains(t, r.calls[0].cypher, "MERGE (r:Run {id: $id})")
	assert.Equal(t, report.Summary.RunID, r.calls[0].params["id"])
	assert.Equal(t, int64(3), r.calls[0].params["records"])
	assert.True(t, r.closed)

	first := r.calls[1].params["rows"].([]map[string]any)
	require.Len(t, first, 2)
	assert.Equal(t, "https://a.test/a/1", first[0]["key"])
	assert.Equal(t, "Automotora A|suzuki swift", first[1]["key"], "URL-less listings key on dealer and title")

	props := first[0]["props"].(map[string]any)
	assert.Equal(t, 9_990_000.0, props["price"])
	assert.Equal(t, int64(2019), props["year"])
	assert.Equal(t, "Toyota", props["brand"])
	assert.NotContains(t, first[1]["props"], "price", "unknown values are not written")
	assert.Equal(t, "2026-03-14T09:34:00Z", r.calls[1].params["seen"])
	assert.Len(t, r.calls[2].params["rows"], 1)
}

func TestNeo4jBatchFailure(t *testing.T) {
	r := &mockRunner{failOn: 2}
	report, records := fixture()
	err := newTestNeo4j(r, DefaultNeo4jBatch).Persist(context.Background(), report, records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listings batch 0")
	assert.True(t, r.closed)
}

// --- Qdrant ---

type mockPoints struct {
	upserts    []*pb.UpsertPoints
	search     *pb.SearchPoints
	searchResp *pb.SearchResponse
	err        error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserts = append(m.upserts, in)
	return &pb.PointsOperationResponse{}, m.err
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.search = in
	return m.searchResp, m.err
}

type mockCollections struct {
	existing []string
	created  *pb.CreateCollection
}

func (m *mockCollections) List(context.Context, *pb.ListCollectionsRequest, ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	resp := &pb.ListCollectionsResponse{}
	for _, n := range m.existing {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func TestFeatures(t *testing.T) {
	_, records := fixture()
	vec, ok := Features(records[0])
	require.True(t, ok)
	require.Len(t, vec, FeatureDims)
	assert.InDelta(t, 0.6999, vec[0], 0.001)
	assert.InDelta(t, 29.0/50, vec[1], 0.0001)
	assert.InDelta(t, 0.09, vec[2], 0.0001)

	_, ok = Features(records[1])
	assert.False(t, ok, "no price, no vector")

	vec, ok = Features(records[2])
	require.True(t, ok)
	assert.InDelta(t, 0.5, vec[2], 0.0001, "unknown mileage sits mid-range")
}

func TestQdrantUpsertsListingsWithFeatures(t *testing.T) {
	points, cols := &mockPoints{}, &mockCollections{}
	q := &Qdrant{points: points, collections: cols, collection: "listings"}
	report, records := fixture()

	require.NoError(t, q.Persist(context.Background(), report, records))
	require.NotNil(t, cols.created)
	assert.Equal(t, uint64(FeatureDims), cols.created.GetVectorsConfig().GetParams().GetSize())

	require.Len(t, points.upserts, 1)
	got := points.upserts[0].GetPoints()
	require.Len(t, got, 2, "the price-less listing is skipped")
	assert.Equal(t, PointID(records[0]), got[0].GetId().GetUuid())
	assert.Equal(t, "Toyota", got[0].GetPayload()["brand"].GetStringValue())
	assert.Equal(t, report.Summary.RunID, got[1].GetPayload()["run_id"].GetStringValue())

	again := records[0]
	again.Title = "Toyota Yaris 2019 (rebajado)"
	assert.Equal(t, PointID(records[0]), PointID(again), "point IDs follow the listing key")
}

func TestQdrantSkipsCollectionWhenNothingToStore(t *testing.T) {
	points, cols := &mockPoints{}, &mockCollections{}
	q := &Qdrant{points: points, collections: cols, collection: "listings"}
	report, records := fixture()
	require.NoError(t, q.Persist(context.Background(), report, records[1:2]))
	assert.Nil(t, cols.created)
	assert.Empty(t, points.upserts)
	require.NoError(t, q.Close())
}

func TestQdrantComparables(t *testing.T) {
	points := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{{
		Score: 0.02,
		Payload: map[string]*pb.Value{
			"key":    str("https://a.test/a/1"),
			"title":  str("Toyota Yaris 2019"),
			"dealer": str("Automotora A"),
			"price":  {Kind: &pb.Value_DoubleValue{DoubleValue: 9_990_000}},
			"year":   {Kind: &pb.Value_IntegerValue{IntegerValue: 2019}},
		},
	}}}}
	q := &Qdrant{points: points, collections: &mockCollections{existing: []string{"listings"}}, collection: "listings"}

	got, err := q.Comparables(context.Background(), ComparableQuery{Brand: "Toyota", Year: 2018, Price: 9_500_000}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Comparable{
		Key: "https://a.test/a/1", Title: "Toyota Yaris 2019", Dealer: "Automotora A",
		Price: 9_990_000, Year: 2019, Score: 0.02,
	}, got[0])
	assert.Equal(t, uint64(5), points.search.GetLimit())
	require.Len(t, points.search.GetFilter().GetMust(), 1)
	assert.Equal(t, "brand", points.search.GetFilter().GetMust()[0].GetField().GetKey())

	_, err = q.Comparables(context.Background(), ComparableQuery{Brand: "Toyota"}, 5)
	assert.Error(t, err)
}
