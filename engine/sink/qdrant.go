package sink

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/pkg/fn"
)

// FeatureDims is the length of a listing feature vector.
const FeatureDims = 3

const qdrantBatch = 256

type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Qdrant stores one point per listing so similar vehicles can be found by
// price, age and mileage. Point IDs derive from ListingKey, so a listing
// seen again overwrites its point.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
	collection  string
}

// NewQdrant connects to Qdrant's gRPC endpoint at addr.
func NewQdrant(addr, collection string) (*Qdrant, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	return &Qdrant{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// Features maps a record to its vector: log price, age and mileage, each
// scaled to roughly [0,1]. Records without price or year have none.
func Features(r domain.Record) ([]float32, bool) {
	if r.PriceAmount == nil || *r.PriceAmount <= 0 || r.Year == nil {
		return nil, false
	}
	return vector(*r.PriceAmount, *r.Year, r.MileageKm), true
}

func vector(price float64, year int, mileage *int) []float32 {
	km := 0.5
	if mileage != nil {
		km = math.Min(float64(*mileage), 500_000) / 500_000
	}
	return []float32{
		float32(math.Log10(price) / 10),
		float32(float64(year-1990) / 50),
		float32(km),
	}
}

// PointID is the Qdrant point ID of a listing.
func PointID(r domain.Record) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(ListingKey(r))).String()
}

// EnsureCollection creates the collection if it doesn't exist.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: FeatureDims, Distance: pb.Distance_Euclid},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", q.collection, err)
	}
	return nil
}

func str(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }

func point(runID string, r domain.Record, vec []float32) *pb.PointStruct {
	payload := map[string]*pb.Value{
		"key":      str(ListingKey(r)),
		"run_id":   str(runID),
		"dealer":   str(r.Candidate.DealerName),
		"title":    str(r.Title),
		"currency": str(r.PriceCurrencyGuess),
		"price":    {Kind: &pb.Value_DoubleValue{DoubleValue: *r.PriceAmount}},
		"year":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(*r.Year)}},
	}
	if r.Candidate.SourceURL != "" {
		payload["source_url"] = str(r.Candidate.SourceURL)
	}
	if r.Brand != nil {
		payload["brand"] = str(*r.Brand)
	}
	if r.Model != nil {
		payload["model"] = str(*r.Model)
	}
	if r.MileageKm != nil {
		payload["mileage_km"] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(*r.MileageKm)}}
	}
	return &pb.PointStruct{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r)}},
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}}},
		Payload: payload,
	}
}

// Persist upserts every record that has features. Records without price or
// year are skipped.
func (q *Qdrant) Persist(ctx context.Context, report domain.RunReport, records []domain.Record) error {
	var points []*pb.PointStruct
	for _, r := range records {
		if vec, ok := Features(r); ok {
			points = append(points, point(report.Summary.RunID, r, vec))
		}
	}
	if len(points) == 0 {
		return nil
	}
	if err := q.EnsureCollection(ctx); err != nil {
		return err
	}
	wait := true
	for _, chunk := range fn.Chunk(points, qdrantBatch) {
		if _, err := q.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: q.collection,
			Wait:           &wait,
			Points:         chunk,
		}); err != nil {
			return fmt.Errorf("qdrant: upsert %d points: %w", len(chunk), err)
		}
	}
	return nil
}

// ComparableQuery describes the vehicle to find comparables for. Empty
// Brand or Model do not filter.
type ComparableQuery struct {
	Brand     string
	Model     string
	Year      int
	Price     float64
	MileageKm *int
}

// Comparable is one stored listing close to the query.
type Comparable struct {
	Key    string
	Title  string
	Dealer string
	Price  float64
	Year   int
	Score  float32
}

// Comparables returns the topK stored listings nearest to q.
func (q *Qdrant) Comparables(ctx context.Context, cq ComparableQuery, topK int) ([]Comparable, error) {
	if cq.Price <= 0 || cq.Year == 0 {
		return nil, fmt.Errorf("qdrant: comparables need a price and a year")
	}
	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector(cq.Price, cq.Year, cq.MileageKm),
		Limit:          uint64(max(topK, 1)),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	var must []*pb.Condition
	if cq.Brand != "" {
		must = append(must, fieldMatch("brand", cq.Brand))
	}
	if cq.Model != "" {
		must = append(must, fieldMatch("model", cq.Model))
	}
	if len(must) > 0 {
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	out := make([]Comparable, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		pl := p.GetPayload()
		out = append(out, Comparable{
			Key:    pl["key"].GetStringValue(),
			Title:  pl["title"].GetStringValue(),
			Dealer: pl["dealer"].GetStringValue(),
			Price:  pl["price"].GetDoubleValue(),
			Year:   int(pl["year"].GetIntegerValue()),
			Score:  p.GetScore(),
		})
	}
	return out, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}
