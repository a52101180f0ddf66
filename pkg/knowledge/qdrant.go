package knowledge

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds Qdrant connection configuration.
type QdrantConfig struct {
	// URL is the Qdrant server address (e.g., "https://example.qdrant.io:6334").
	URL string

	// CollectionName is the collection holding knowledge base chunks.
	CollectionName string

	// APIKey is an optional API key for authentication.
	APIKey string
}

// QdrantRetriever searches a Qdrant collection, embedding queries with the
// configured Embedder. Documents are filtered by tenant through a tenant_id
// payload field.
type QdrantRetriever struct {
	client         *qdrant.Client
	collectionName string
	embedder       Embedder
}

var _ Retriever = (*QdrantRetriever)(nil)

// NewQdrantRetriever creates a retriever backed by Qdrant.
func NewQdrantRetriever(cfg QdrantConfig, embedder Embedder) (*QdrantRetriever, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	parsedURL := cfg.URL
	if !strings.HasPrefix(parsedURL, "http://") && !strings.HasPrefix(parsedURL, "https://") {
		parsedURL = "https://" + parsedURL
	}
	u, err := url.Parse(parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}

	host := u.Hostname()
	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantRetriever{
		client:         client,
		collectionName: cfg.CollectionName,
		embedder:       embedder,
	}, nil
}

// Retrieve embeds the query and searches the collection for the tenant's
// documents.
func (r *QdrantRetriever) Retrieve(ctx context.Context, tenantID, query string, limit int) ([]Document, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	limitUint64 := uint64(limit)
	points, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitUint64,
		Filter:         tenantFilter(tenantID),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	docs := make([]Document, 0, len(points))
	for _, point := range points {
		doc := Document{
			Score:    point.Score,
			Metadata: make(map[string]any),
		}
		if point.Id != nil {
			if id := point.Id.GetUuid(); id != "" {
				doc.ID = id
			} else if num := point.Id.GetNum(); num != 0 {
				doc.ID = fmt.Sprintf("%d", num)
			}
		}
		for k, v := range point.Payload {
			switch k {
			case "content":
				doc.Content = v.GetStringValue()
			case "tenant_id":
				// Already implied by the filter.
			default:
				doc.Metadata[k] = extractValue(v)
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (r *QdrantRetriever) Close() error {
	return r.client.Close()
}

func tenantFilter(tenantID string) *qdrant.Filter {
	if tenantID == "" {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   "tenant_id",
						Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: tenantID}},
					},
				},
			},
		},
	}
}

func extractValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	default:
		return nil
	}
}
