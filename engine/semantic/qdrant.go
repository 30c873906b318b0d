package semantic

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantStore is the sole owner of all Qdrant operations. It implements the
// same Store contract as RedisStore and is selected via configuration when
// the inventory outgrows client-side scoring.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// NewQdrantStore creates a store connected to Qdrant at the given gRPC address.
func NewQdrantStore(addr, collection string) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

// EnsureCollection creates the collection with cosine distance if missing.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", s.collection, err)
	}
	return nil
}

// Upsert stores vehicle records as points. The listing description rides in
// the payload next to the open attribute map.
func (s *QdrantStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := attributesToPayload(r.Attributes)
		payload["description"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: r.Description}}
		payload["record_id"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: r.ID}}

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Delete removes the point for a record ID.
func (s *QdrantStore) Delete(ctx context.Context, id string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete point %s: %w", id, err)
	}
	return nil
}

// Count returns the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection})
	if err != nil {
		return 0, fmt.Errorf("semantic: count points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Query performs k-NN similarity search. Qdrant ranks by cosine similarity;
// scores are clamped to [0,1] to match the Store contract.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]Candidate, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		c := Candidate{
			ID:         r.GetId().GetUuid(),
			Score:      clampScore(r.GetScore()),
			Attributes: make(map[string]any),
		}
		for key, val := range r.GetPayload() {
			switch key {
			case "description":
				c.Description = val.GetStringValue()
			case "record_id":
				if id := val.GetStringValue(); id != "" {
					c.ID = id
				}
			default:
				c.Attributes[key] = payloadValue(val)
			}
		}
		results[i] = c
	}
	return results, nil
}

func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// attributesToPayload converts the open attribute map to qdrant values.
func attributesToPayload(attrs map[string]any) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(attrs)+2)
	for k, val := range attrs {
		switch tv := val.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return payload
}

// payloadValue converts a qdrant value back to the attribute map form.
func payloadValue(v *pb.Value) any {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	default:
		return v.String()
	}
}
