// Package semantic is the sole owner of all Qdrant operations: upserting
// profile embeddings, batch-scoped deletes, and similarity search with the
// region and embedding-version filters the query path relies on.
package semantic

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/FloatChatAI/floatchat-engine/pkg/fn"
)

// VectorStore talks to one Qdrant collection over gRPC.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// upsertChunkSize bounds one upsert RPC; a large batch streams in pieces.
const upsertChunkSize = 256

// Upsert stores one batch's embedding points. Wait is set so that a returned
// nil error means the points are durably applied; the dual-store commit
// depends on that.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	wait := true
	for _, chunk := range fn.Chunk(records, upsertChunkSize) {
		points := fn.Map(chunk, func(r VectorRecord) *pb.PointStruct {
			return &pb.PointStruct{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.ProfileID)},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: r.Embedding},
					},
				},
				Payload: pointPayload(r),
			}
		})
		_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: v.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("semantic: upsert %d points: %w", len(chunk), err)
		}
	}
	return nil
}

// DeleteBatch removes all points written under a batch id: the compensating
// delete when the relational half of a commit fails.
func (v *VectorStore) DeleteBatch(ctx context.Context, batchID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch("batch_id", batchID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete batch %s: %w", batchID, err)
	}
	return nil
}

// Search performs similarity search. version restricts hits to points
// embedded with that embedding version. eligible, when non-nil, restricts
// ranking to the given profile ids; candidates are filtered before scoring,
// never after.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int, version string, eligible []string) ([]Match, error) {
	must := []*pb.Condition{fieldMatch("embedding_version", version)}
	if eligible != nil {
		ids := make([]*pb.PointId, len(eligible))
		for i, profileID := range eligible {
			ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(profileID)}}
		}
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_HasId{
				HasId: &pb.HasIdCondition{HasId: ids},
			},
		})
	}

	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		Filter:         &pb.Filter{Must: must},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	matches := make([]Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		m := Match{Score: r.GetScore()}
		for k, val := range r.GetPayload() {
			s := val.GetStringValue()
			switch k {
			case "profile_id":
				m.ProfileID = s
			case "summary":
				m.Summary = s
			case "batch_id":
				m.BatchID = s
			case "embedding_version":
				m.Version = s
			}
		}
		matches[i] = m
	}
	return matches, nil
}

func pointPayload(r VectorRecord) map[string]*pb.Value {
	return map[string]*pb.Value{
		"profile_id":        {Kind: &pb.Value_StringValue{StringValue: r.ProfileID}},
		"batch_id":          {Kind: &pb.Value_StringValue{StringValue: r.BatchID}},
		"embedding_version": {Kind: &pb.Value_StringValue{StringValue: r.Version}},
		"summary":           {Kind: &pb.Value_StringValue{StringValue: r.Summary}},
		"latitude":          {Kind: &pb.Value_DoubleValue{DoubleValue: r.Latitude}},
		"longitude":         {Kind: &pb.Value_DoubleValue{DoubleValue: r.Longitude}},
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
