// Package qdrant provides a vector driver backed by a Qdrant collection.
//
// Documents are stored as points whose id is a UUID derived from the
// document id. The original id, the agent id and the content are kept in
// the payload, and agent scoping is a native payload filter.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/reverie/pkg/logger"
	"github.com/papercomputeco/reverie/pkg/vector"
)

const (
	// DefaultCollection is the collection summaries are indexed into.
	DefaultCollection = "reverie_summaries"

	// DefaultPort is Qdrant's gRPC port.
	DefaultPort = 6334

	payloadDocID   = "doc_id"
	payloadAgentID = "agent_id"
	payloadContent = "content"
)

// pointNamespace derives stable point UUIDs from document ids.
var pointNamespace = uuid.MustParse("6f1c7a52-1d0e-4c55-9a3c-5e0e2f6b9d41")

// Config holds configuration for the Qdrant driver.
type Config struct {
	// URL is the Qdrant gRPC endpoint, e.g. "localhost:6334" or
	// "https://qdrant.example.com:6334".
	URL string

	APIKey string

	// Collection defaults to DefaultCollection.
	Collection string

	// Dimensions is the embedding size used when creating the collection.
	Dimensions uint
}

// Driver implements vector.VectorDriver on Qdrant.
type Driver struct {
	client     *qc.Client
	collection string
	logger     *slog.Logger
}

// NewDriver connects to Qdrant and creates the collection if it is missing.
func NewDriver(ctx context.Context, c Config, log *slog.Logger) (*Driver, error) {
	if c.Dimensions == 0 {
		return nil, errors.New("qdrant embedding dimensions cannot be 0, must be configured")
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if log == nil {
		log = logger.Nop()
	}

	host, port, useTLS, err := parseEndpoint(c.URL)
	if err != nil {
		return nil, err
	}

	client, err := qc.NewClient(&qc.Config{
		Host:   host,
		Port:   port,
		APIKey: c.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}

	exists, err := client.CollectionExists(ctx, c.Collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: checking collection: %v", vector.ErrConnection, err)
	}

	if !exists {
		err = client.CreateCollection(ctx, &qc.CreateCollection{
			CollectionName: c.Collection,
			VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
				Size:     uint64(c.Dimensions),
				Distance: qc.Distance_Cosine,
			}),
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("creating collection %s: %w", c.Collection, err)
		}
	}

	log = log.With("component", "vector.qdrant", "collection", c.Collection)
	log.Info("qdrant vector driver initialized", "host", host, "port", port, "created", !exists)

	return &Driver{
		client:     client,
		collection: c.Collection,
		logger:     log,
	}, nil
}

// Add upserts documents as points.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qc.PointStruct, 0, len(docs))
	for _, doc := range docs {
		points = append(points, &qc.PointStruct{
			Id:      pointID(doc.ID),
			Vectors: qc.NewVectors(doc.Embedding...),
			Payload: qc.NewValueMap(map[string]any{
				payloadDocID:   doc.ID,
				payloadAgentID: doc.AgentID,
				payloadContent: doc.Content,
			}),
		})
	}

	_, err := d.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: d.collection,
		Wait:           qc.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting %d points: %w", len(docs), err)
	}

	d.logger.Debug("added documents to qdrant", "count", len(docs))
	return nil
}

// Query finds the topK points of agentID nearest to the embedding.
func (d *Driver) Query(ctx context.Context, agentID string, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	points, err := d.client.Query(ctx, &qc.QueryPoints{
		CollectionName: d.collection,
		Query:          qc.NewQuery(embedding...),
		Filter: &qc.Filter{
			Must: []*qc.Condition{qc.NewMatch(payloadAgentID, agentID)},
		},
		Limit:       qc.PtrOf(uint64(topK)),
		WithPayload: qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying qdrant: %w", err)
	}

	results := make([]vector.QueryResult, 0, len(points))
	for _, p := range points {
		results = append(results, vector.QueryResult{
			Document: documentFromPayload(p.GetPayload()),
			Score:    p.GetScore(),
		})
	}

	d.logger.Debug("queried qdrant", "agent_id", agentID, "results", len(results))
	return results, nil
}

// Get retrieves documents by id. Embeddings are not returned.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qc.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, pointID(id))
	}

	points, err := d.client.Get(ctx, &qc.GetPoints{
		CollectionName: d.collection,
		Ids:            pointIDs,
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting points: %w", err)
	}

	docs := make([]vector.Document, 0, len(points))
	for _, p := range points {
		docs = append(docs, documentFromPayload(p.GetPayload()))
	}
	return docs, nil
}

// Delete removes documents by id.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qc.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, pointID(id))
	}

	_, err := d.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: d.collection,
		Wait:           qc.PtrOf(true),
		Points:         qc.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}

	d.logger.Debug("deleted documents from qdrant", "count", len(ids))
	return nil
}

// Close closes the gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}

func pointID(docID string) *qc.PointId {
	return qc.NewID(uuid.NewSHA1(pointNamespace, []byte(docID)).String())
}

func documentFromPayload(payload map[string]*qc.Value) vector.Document {
	return vector.Document{
		ID:      payload[payloadDocID].GetStringValue(),
		AgentID: payload[payloadAgentID].GetStringValue(),
		Content: payload[payloadContent].GetStringValue(),
	}
}

// parseEndpoint accepts "host", "host:port" or a URL with an http(s) scheme.
func parseEndpoint(raw string) (string, int, bool, error) {
	if raw == "" {
		return "localhost", DefaultPort, false, nil
	}

	useTLS := false
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", 0, false, fmt.Errorf("parsing qdrant url: %w", err)
		}
		useTLS = u.Scheme == "https"
		raw = u.Host
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return raw, DefaultPort, useTLS, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}
	return host, port, useTLS, nil
}

var _ vector.VectorDriver = (*Driver)(nil)
