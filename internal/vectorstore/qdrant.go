package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/knoguchi/docchat/internal/sparse"
)

// QdrantClient implements Client using Qdrant's gRPC API.
type QdrantClient struct {
	client *qdrant.Client
}

// NewQdrantClient creates a new Qdrant client. addr should be in the form
// "host:port" (e.g. "localhost:6334"); a missing port defaults to 6334.
func NewQdrantClient(addr string) (*QdrantClient, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant address: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantClient{client: client}, nil
}

// Close closes the underlying connection.
func (c *QdrantClient) Close() error {
	return c.client.Close()
}

func buildFilter(f *Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("docVersion", f.DocVersion),
		},
	}
}

func toScoredPoints(points []*qdrant.ScoredPoint) []ScoredPoint {
	out := make([]ScoredPoint, 0, len(points))
	for _, p := range points {
		sp := ScoredPoint{
			ID:      p.Id.GetUuid(),
			Score:   p.Score,
			Payload: make(map[string]string, len(p.Payload)),
		}
		for k, v := range p.Payload {
			sp.Payload[k] = v.GetStringValue()
		}
		out = append(out, sp)
	}
	return out
}

// QueryDense runs a nearest-neighbor query against a dense named vector.
func (c *QdrantClient) QueryDense(ctx context.Context, collection, vectorName string, vector []float32, limit int, filter *Filter) ([]ScoredPoint, error) {
	resp, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vector),
		Using:          qdrant.PtrOf(vectorName),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dense query against %q: %w", collection, err)
	}
	return toScoredPoints(resp), nil
}

// QuerySparse runs a nearest-neighbor query against a sparse named vector.
func (c *QdrantClient) QuerySparse(ctx context.Context, collection, vectorName string, vector sparse.Vector, limit int, filter *Filter) ([]ScoredPoint, error) {
	resp, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuerySparse(toUint32(vector.Indices), toFloat32(vector.Values)),
		Using:          qdrant.PtrOf(vectorName),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("sparse query against %q: %w", collection, err)
	}
	return toScoredPoints(resp), nil
}

// CreateHybridCollection provisions a collection with a dense and a
// sparse named vector.
func (c *QdrantClient) CreateHybridCollection(ctx context.Context, collection string, dimension int, denseVectorName, sparseVectorName string) error {
	err := c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create hybrid collection %q: %w", collection, err)
	}
	return nil
}

// CollectionExists reports whether a collection exists.
func (c *QdrantClient) CollectionExists(ctx context.Context, collection string) (bool, error) {
	exists, err := c.client.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection %q: %w", collection, err)
	}
	return exists, nil
}

// DeleteCollection removes a collection.
func (c *QdrantClient) DeleteCollection(ctx context.Context, collection string) error {
	if err := c.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", collection, err)
	}
	return nil
}

// Upsert writes points into a collection.
func (c *QdrantClient) Upsert(ctx context.Context, collection string, points []Point, denseVectorName, sparseVectorName string) error {
	if len(points) == 0 {
		return nil
	}

	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = qdrant.NewValueString(v)
		}

		vectors := map[string]*qdrant.Vector{
			denseVectorName: {Data: p.DenseVector},
		}
		if p.SparseVector != nil && !p.SparseVector.Empty() {
			vectors[sparseVectorName] = &qdrant.Vector{
				Indices: &qdrant.SparseIndices{Data: toUint32(p.SparseVector.Indices)},
				Data:    toFloat32(p.SparseVector.Values),
			}
		}

		qpoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Payload: payload,
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vectors{
					Vectors: &qdrant.NamedVectors{Vectors: vectors},
				},
			},
		}
	}

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert into %q: %w", collection, err)
	}
	return nil
}

// DeleteByIDs removes points by ID.
func (c *QdrantClient) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by IDs from %q: %w", collection, err)
	}
	return nil
}

func toUint32(in []uint64) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = uint32(v)
	}
	return out
}

func toFloat32(in []uint32) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

var _ Client = (*QdrantClient)(nil)
