// Package semantic provides the Qdrant-backed vector index for venue
// embeddings. It is the remote alternative to the in-process flat index and
// is the sole owner of all Qdrant operations.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tastegraph/gusto-engine/engine/domain"
)

// recordKey is the payload field holding the JSON-encoded VenueRecord.
const recordKey = "record"

// VectorStore stores venue records with their embeddings in Qdrant.
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

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores venue records with their embeddings. Point identity is the
// dedup key of the venue name, so re-ingesting a venue overwrites it.
func (v *VectorStore) Upsert(ctx context.Context, recs []domain.VenueRecord, embeddings [][]float32) error {
	if len(recs) != len(embeddings) {
		return fmt.Errorf("semantic: upsert: %d records but %d embeddings", len(recs), len(embeddings))
	}
	if len(recs) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(recs))
	for i, rec := range recs {
		rec.Embedding = nil
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("semantic: encode record %q: %w", rec.Name, err)
		}

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(rec.Name)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: embeddings[i]},
				},
			},
			Payload: map[string]*pb.Value{
				recordKey: {Kind: &pb.Value_StringValue{StringValue: string(data)}},
				"name":    {Kind: &pb.Value_StringValue{StringValue: rec.Name}},
			},
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(recs), err)
	}
	return nil
}

// DeleteByName removes the point for a venue name. Used for re-ingestion.
func (v *VectorStore) DeleteByName(ctx context.Context, name string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(name)}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete %q: %w", name, err)
	}
	return nil
}

// Search performs k-NN similarity search and decodes the stored records.
// Qdrant returns cosine similarity in descending order.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, n int) ([]domain.Hit, error) {
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(n),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w: %v", domain.ErrIndexUnavailable, err)
	}

	hits := make([]domain.Hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		raw := r.GetPayload()[recordKey].GetStringValue()
		var rec domain.VenueRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("semantic: decode record payload: %w", err)
		}
		hits = append(hits, domain.Hit{Record: rec, Score: float64(r.GetScore())})
	}
	return hits, nil
}

// pointID derives a deterministic UUID from the venue dedup key.
func pointID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(domain.DedupKey(name))).String()
}
