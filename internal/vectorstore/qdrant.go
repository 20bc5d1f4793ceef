package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/oaguiar/incmatch/internal/repository"
)

// companyIDField is the payload field carrying the company identifier.
const companyIDField = "company_id"

// fetchCap bounds how many candidates a single retrieval pulls from Qdrant.
// The threshold-or-topM rule is applied locally over this pool.
const fetchCap = 256

// QdrantStore implements Retriever backed by a Qdrant collection of company
// embeddings. It also owns collection lifecycle and upserts so embeddings
// produced upstream can be indexed.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore creates a Qdrant-backed retriever.
// url should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantStore(ctx context.Context, url, collection string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client, collection: collection}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the company collection if it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// UpsertCompanies indexes company embeddings. Companies without an
// embedding are skipped.
func (s *QdrantStore) UpsertCompanies(ctx context.Context, companies []repository.Company) error {
	points := make([]*qdrant.PointStruct, 0, len(companies))
	for _, company := range companies {
		if len(company.Embedding) == 0 {
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(company.ID)),
			Vectors: qdrant.NewVectors(company.Embedding...),
			Payload: map[string]*qdrant.Value{
				companyIDField: qdrant.NewValueString(company.ID),
			},
		})
	}
	if len(points) == 0 {
		return nil
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Retrieve queries the collection and applies the threshold-or-topM rule
// over the fetched pool.
func (s *QdrantStore) Retrieve(ctx context.Context, queryVector []float32, topM int, threshold float64) ([]Hit, error) {
	limit := topM
	if limit < fetchCap {
		limit = fetchCap
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]Hit, 0, len(response))
	for _, point := range response {
		payload := point.Payload
		if payload == nil {
			continue
		}
		id, ok := payload[companyIDField]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			CompanyID:  id.GetStringValue(),
			Similarity: NormalizeCosine(float64(point.Score)),
		})
	}

	// Qdrant returns hits ordered by score; the cut still expects that.
	return cutHits(hits, topM, threshold), nil
}

// pointID derives a deterministic UUID from a company ID so re-upserts
// overwrite instead of duplicating points.
func pointID(companyID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(companyID)).String()
}

// Ensure QdrantStore implements Retriever
var _ Retriever = (*QdrantStore)(nil)
