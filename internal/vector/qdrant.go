package vector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// payloadIDKey is the point payload field carrying the relational store ID.
// Points indexed without it fall back to their Qdrant point ID.
const payloadIDKey = "store_id"

// QdrantConfig holds connection settings for the Qdrant server.
type QdrantConfig struct {
	// URL is the server address (e.g., "https://example.qdrant.io:6334").
	URL string

	// APIKey is the optional API key for authentication.
	APIKey string
}

// QdrantSearcher implements Searcher on a Qdrant gRPC client.
type QdrantSearcher struct {
	client *qdrant.Client
}

// NewQdrantSearcher dials the Qdrant server described by cfg.
func NewQdrantSearcher(cfg QdrantConfig) (*QdrantSearcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}

	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}

	host := u.Hostname()
	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
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
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &QdrantSearcher{client: client}, nil
}

// NearestNeighbor implements Searcher with a k=1 query against the
// named collection.
func (s *QdrantSearcher) NearestNeighbor(ctx context.Context, collection string, vector []float32) (*Match, error) {
	limit := uint64(1)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}
	if len(points) == 0 {
		return nil, nil
	}

	point := points[0]
	m := &Match{Certainty: point.Score}
	if point.Payload != nil {
		if v, ok := point.Payload[payloadIDKey]; ok {
			m.ID = v.GetStringValue()
		}
	}
	if m.ID == "" && point.Id != nil {
		if uuid := point.Id.GetUuid(); uuid != "" {
			m.ID = uuid
		} else if num := point.Id.GetNum(); num != 0 {
			m.ID = fmt.Sprintf("%d", num)
		}
	}
	if m.ID == "" {
		return nil, nil
	}
	return m, nil
}

// Close releases the underlying gRPC connection.
func (s *QdrantSearcher) Close() error {
	return s.client.Close()
}
