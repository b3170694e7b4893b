// Package qdrant stores example documents in a Qdrant collection. Qdrant
// ranks by vector only; hybrid search overfetches candidates and re-ranks them
// with a local keyword score.
package qdrant

import (
	"context"
	"fmt"
	"sort"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/retrieval"
)

// pointsClient is the subset of *pb.Client the index needs.
type pointsClient interface {
	Query(ctx context.Context, request *pb.QueryPoints) ([]*pb.ScoredPoint, error)
	Upsert(ctx context.Context, request *pb.UpsertPoints) (*pb.UpdateResult, error)
	Count(ctx context.Context, request *pb.CountPoints) (uint64, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *pb.CreateCollection) error
}

type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	// VectorSize is needed only to create a missing collection.
	VectorSize int
	Overfetch  int
}

type Index struct {
	client     pointsClient
	embedder   llm.Embedder
	collection string
	vectorSize int
	overfetch  int
}

func New(cfg Config, embedder llm.Embedder) (*Index, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	client, err := pb.NewClient(&pb.Config{
		Host:   strings.TrimSpace(cfg.Host),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return NewWithClient(client, embedder, cfg)
}

func NewWithClient(client pointsClient, embedder llm.Embedder, cfg Config) (*Index, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	collection := strings.TrimSpace(cfg.Collection)
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	overfetch := cfg.Overfetch
	if overfetch <= 0 {
		overfetch = 4
	}
	return &Index{client: client, embedder: embedder, collection: collection, vectorSize: cfg.VectorSize, overfetch: overfetch}, nil
}

// EnsureCollection creates the collection with cosine distance when missing.
func (i *Index) EnsureCollection(ctx context.Context) error {
	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", i.collection, err)
	}
	if exists {
		return nil
	}
	if i.vectorSize <= 0 {
		return fmt.Errorf("vector size is required to create collection %q", i.collection)
	}
	err = i.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     uint64(i.vectorSize),
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %q: %w", i.collection, err)
	}
	return nil
}

func (i *Index) SimilaritySearch(ctx context.Context, query string, k int) ([]retrieval.Document, error) {
	points, err := i.query(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]retrieval.Document, 0, len(points))
	for _, point := range points {
		out = append(out, toDocument(point))
	}
	return out, nil
}

func (i *Index) HybridSearch(ctx context.Context, query string, k int, weights retrieval.Weights) ([]retrieval.Document, error) {
	points, err := i.query(ctx, query, k*i.overfetch)
	if err != nil {
		return nil, err
	}
	out := make([]retrieval.Document, 0, len(points))
	for _, point := range points {
		doc := toDocument(point)
		doc.Score = retrieval.Fuse(doc.Score, retrieval.KeywordScore(query, doc.Content), weights)
		out = append(out, doc)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (i *Index) query(ctx context.Context, query string, limit int) ([]*pb.ScoredPoint, error) {
	vec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	l := uint64(limit)
	points, err := i.client.Query(ctx, &pb.QueryPoints{
		CollectionName: i.collection,
		Query:          pb.NewQuery(vec...),
		WithPayload:    pb.NewWithPayload(true),
		Limit:          &l,
	})
	if err != nil {
		return nil, fmt.Errorf("query collection %q: %w", i.collection, err)
	}
	return points, nil
}

// Stats reports the point count. Qdrant does not expose document lengths.
func (i *Index) Stats(ctx context.Context) (retrieval.CorpusStats, error) {
	exact := true
	count, err := i.client.Count(ctx, &pb.CountPoints{CollectionName: i.collection, Exact: &exact})
	if err != nil {
		return retrieval.CorpusStats{}, fmt.Errorf("count points: %w", err)
	}
	return retrieval.CorpusStats{Documents: int(count)}, nil
}

// Upsert embeds docs and writes them as points. Document ids must be UUIDs.
func (i *Index) Upsert(ctx context.Context, docs []retrieval.Document) error {
	if len(docs) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.ID) == "" {
			return fmt.Errorf("document id is required")
		}
		vec, err := i.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", doc.ID, err)
		}
		payload := map[string]any{"content": doc.Content}
		for key, value := range doc.Metadata {
			if key != "content" {
				payload[key] = value
			}
		}
		values, err := pb.TryValueMap(payload)
		if err != nil {
			return fmt.Errorf("payload of %s: %w", doc.ID, err)
		}
		points = append(points, &pb.PointStruct{
			Id:      pb.NewID(doc.ID),
			Vectors: pb.NewVectors(vec...),
			Payload: values,
		})
	}
	wait := true
	if _, err := i.client.Upsert(ctx, &pb.UpsertPoints{CollectionName: i.collection, Wait: &wait, Points: points}); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

func toDocument(point *pb.ScoredPoint) retrieval.Document {
	doc := retrieval.Document{Score: float64(point.GetScore())}
	if id := point.GetId(); id != nil {
		if id.GetUuid() != "" {
			doc.ID = id.GetUuid()
		} else {
			doc.ID = fmt.Sprintf("%d", id.GetNum())
		}
	}
	for key, value := range point.GetPayload() {
		if key == "content" {
			doc.Content = value.GetStringValue()
			continue
		}
		if doc.Metadata == nil {
			doc.Metadata = map[string]any{}
		}
		doc.Metadata[key] = convertValue(value)
	}
	return doc
}

func convertValue(value *pb.Value) any {
	switch k := value.GetKind().(type) {
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for key, v := range k.StructValue.GetFields() {
			out[key] = convertValue(v)
		}
		return out
	case *pb.Value_ListValue:
		out := make([]any, 0, len(k.ListValue.GetValues()))
		for _, v := range k.ListValue.GetValues() {
			out = append(out, convertValue(v))
		}
		return out
	default:
		return nil
	}
}
