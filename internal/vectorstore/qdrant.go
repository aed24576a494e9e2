package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConfig configures the Qdrant gRPC backend.
//
// The gRPC transport (port 6334) bypasses Qdrant's HTTP layer and its
// 256kB payload limit, which matters when upserting large batches of
// chunks.
type QdrantConfig struct {
	Host       string
	Port       int
	UseTLS     bool
	Collection string
	VectorSize int

	// MaxRetries bounds retry attempts for transient gRPC failures.
	MaxRetries int
	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration
	// MaxMessageSize bounds gRPC messages. Defaults to 50MB.
	MaxMessageSize int
}

func (c *QdrantConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantBackend stores chunks in an external Qdrant instance over gRPC.
type QdrantBackend struct {
	cfg    QdrantConfig
	client *qdrant.Client
}

// NewQdrantBackend validates configuration; the connection is dialed on
// Open.
func NewQdrantBackend(cfg QdrantConfig) (*QdrantBackend, error) {
	cfg.applyDefaults()
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	return &QdrantBackend{cfg: cfg}, nil
}

func (b *QdrantBackend) Kind() string { return "qdrant" }

func (b *QdrantBackend) Open(ctx context.Context) error {
	if b.client != nil {
		return nil
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   b.cfg.Host,
		Port:   b.cfg.Port,
		UseTLS: b.cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(b.cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(b.cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return fmt.Errorf("connecting to qdrant at %s:%d: %w", b.cfg.Host, b.cfg.Port, err)
	}
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("qdrant health check: %w", err)
	}
	b.client = client
	return nil
}

func (b *QdrantBackend) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

// EnsureCollection creates the collection when missing. An existing
// collection with a different vector dimension is a schema conflict.
func (b *QdrantBackend) EnsureCollection(ctx context.Context) error {
	if b.client == nil {
		return ErrStoreClosed
	}

	exists, err := b.client.CollectionExists(ctx, b.cfg.Collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if !exists {
		return b.retry(ctx, func() error {
			return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: b.cfg.Collection,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(b.cfg.VectorSize),
					Distance: qdrant.Distance_Cosine,
				}),
			})
		})
	}

	info, err := b.client.GetCollectionInfo(ctx, b.cfg.Collection)
	if err != nil {
		return fmt.Errorf("inspecting collection: %w", err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params != nil && params.GetSize() != uint64(b.cfg.VectorSize) {
		return fmt.Errorf("%w: collection %s holds %d-dim vectors, config wants %d",
			ErrSchemaConflict, b.cfg.Collection, params.GetSize(), b.cfg.VectorSize)
	}
	return nil
}

// pointID derives the Qdrant point UUID from a chunk ID. Deterministic
// so re-upserting the same chunk replaces the existing point.
func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String())
}

func (b *QdrantBackend) Upsert(ctx context.Context, records []Record) (UpsertResult, error) {
	if b.client == nil {
		return UpsertResult{}, ErrStoreClosed
	}

	var res UpsertResult
	points := make([]*qdrant.PointStruct, 0, len(records))
	accepted := make([]string, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) != b.cfg.VectorSize {
			res.Failed = append(res.Failed, RecordError{
				ID:  rec.ID,
				Err: fmt.Errorf("%w: vector size %d, want %d", ErrSchemaConflict, len(rec.Vector), b.cfg.VectorSize),
			})
			continue
		}

		payload := map[string]*qdrant.Value{
			"text":     {Kind: &qdrant.Value_StringValue{StringValue: rec.Text}},
			"chunk_id": {Kind: &qdrant.Value_StringValue{StringValue: rec.ID}},
		}
		for k, v := range rec.Metadata {
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}

		points = append(points, &qdrant.PointStruct{
			Id:      pointID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payload,
		})
		accepted = append(accepted, rec.ID)
	}

	if len(points) == 0 {
		return res, nil
	}

	err := b.retry(ctx, func() error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: b.cfg.Collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return res, fmt.Errorf("upserting %d points: %w", len(points), err)
	}
	res.Succeeded = append(res.Succeeded, accepted...)
	return res, nil
}

func (b *QdrantBackend) Delete(ctx context.Context, ids []string) error {
	if b.client == nil {
		return ErrStoreClosed
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	err := b.retry(ctx, func() error {
		_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: b.cfg.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
			Wait: qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting %d points: %w", len(ids), err)
	}
	return nil
}

func (b *QdrantBackend) Query(ctx context.Context, vector []float32, filter map[string]string, limit int, floor float32) ([]Match, error) {
	if b.client == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	var qf *qdrant.Filter
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			conditions = append(conditions, qdrant.NewMatch(k, v))
		}
		qf = &qdrant.Filter{Must: conditions}
	}

	req := &qdrant.QueryPoints{
		CollectionName: b.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if floor > 0 {
		req.ScoreThreshold = qdrant.PtrOf(floor)
	}

	var scored []*qdrant.ScoredPoint
	err := b.retry(ctx, func() error {
		res, err := b.client.Query(ctx, req)
		if err != nil {
			return err
		}
		scored = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matches := make([]Match, 0, len(scored))
	for _, p := range scored {
		match := Match{Score: p.GetScore(), Metadata: make(map[string]string)}
		for k, v := range p.GetPayload() {
			s := v.GetStringValue()
			switch k {
			case "text":
				match.Text = s
			case "chunk_id":
				match.ID = s
			default:
				match.Metadata[k] = s
			}
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (b *QdrantBackend) Stats(ctx context.Context) (StoreStats, error) {
	stats := StoreStats{Kind: b.Kind(), Collection: b.cfg.Collection}
	if b.client == nil {
		return stats, ErrStoreClosed
	}

	info, err := b.client.GetCollectionInfo(ctx, b.cfg.Collection)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return stats, nil
		}
		return stats, fmt.Errorf("inspecting collection: %w", err)
	}
	stats.Records = int64(info.GetPointsCount())
	return stats, nil
}

// Destroy drops the collection. The Manager guarantees the backend is
// closed, so Destroy dials a short-lived connection of its own.
func (b *QdrantBackend) Destroy(ctx context.Context) error {
	if b.client != nil {
		return ErrStoreBusy
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   b.cfg.Host,
		Port:   b.cfg.Port,
		UseTLS: b.cfg.UseTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting for destroy: %w", err)
	}
	defer client.Close()

	exists, err := client.CollectionExists(ctx, b.cfg.Collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if !exists {
		return nil
	}
	if err := client.DeleteCollection(ctx, b.cfg.Collection); err != nil {
		return fmt.Errorf("dropping collection %s: %w", b.cfg.Collection, err)
	}
	return nil
}

// retry runs op, backing off and retrying transient gRPC failures.
func (b *QdrantBackend) retry(ctx context.Context, op func() error) error {
	backoff := b.cfg.RetryBackoff
	var err error
	for attempt := 0; attempt < b.cfg.MaxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
