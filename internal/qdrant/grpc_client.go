package qdrant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// GRPCClient implements Client over one long-lived gRPC connection.
// It is safe for concurrent use.
type GRPCClient struct {
	client *qdrant.Client
	config *ClientConfig
	logger *logging.Logger
}

// ClientConfig configures the Qdrant gRPC client.
type ClientConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the gRPC port (6334), not the REST port (6333).
	Port int

	UseTLS bool
	APIKey string

	// MaxMessageSize bounds gRPC messages in both directions.
	MaxMessageSize int

	// DialTimeout bounds the startup health check.
	DialTimeout time.Duration

	// RequestTimeout bounds each call, retries included.
	RequestTimeout time.Duration

	// RetryAttempts is the number of retries after the first transient failure.
	RetryAttempts int

	// RetryBackoff is the first retry delay; it doubles on each attempt.
	RetryBackoff time.Duration
}

// DefaultClientConfig returns sensible defaults for local development.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:           "localhost",
		Port:           6334,
		MaxMessageSize: 50 * 1024 * 1024,
		DialTimeout:    5 * time.Second,
		RequestTimeout: 10 * time.Second,
		RetryAttempts:  3,
		RetryBackoff:   250 * time.Millisecond,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *ClientConfig) ApplyDefaults() {
	defaults := DefaultClientConfig()
	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.Port == 0 {
		c.Port = defaults.Port
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaults.DialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = defaults.RetryAttempts
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
}

// Validate validates the client configuration.
func (c *ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("invalid max message size: %d (must be > 0)", c.MaxMessageSize)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("invalid retry attempts: %d (must be >= 0)", c.RetryAttempts)
	}
	return nil
}

// NewGRPCClient dials Qdrant and verifies the connection with a health check.
func NewGRPCClient(config *ClientConfig, logger *logging.Logger) (*GRPCClient, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	qdrantConfig := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	}
	if !config.UseTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	c := &GRPCClient{client: client, config: config, logger: logger.Named("qdrant")}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := c.Health(ctx); err != nil {
		_ = client.Close()
		c.logger.Error(ctx, "qdrant health check failed",
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
			zap.Error(err),
		)
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	c.logger.Info(ctx, "qdrant connection established",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Bool("tls", config.UseTLS),
	)
	return c, nil
}

// Health performs a health check on the Qdrant connection.
func (c *GRPCClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if _, err := c.client.HealthCheck(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// CreateCollection creates a single-vector collection. An existing collection
// is left untouched.
func (c *GRPCClient) CreateCollection(ctx context.Context, name string, vectorSize uint64, distance qdrant.Distance) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	return c.retryOperation(ctx, "create_collection", func() error {
		err := c.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     vectorSize,
				Distance: distance,
			}),
		})
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return err
	})
}

// CollectionInfo returns the vector configuration, or ErrCollectionNotFound.
func (c *GRPCClient) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var info *qdrant.CollectionInfo
	err := c.retryOperation(ctx, "collection_info", func() error {
		res, err := c.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return err
		}
		info = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toCollectionInfo(name, info), nil
}

// DeleteCollection deletes a collection. Deleting an absent collection is not an error.
func (c *GRPCClient) DeleteCollection(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	return c.retryOperation(ctx, "delete_collection", func() error {
		exists, err := c.client.CollectionExists(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		return c.client.DeleteCollection(ctx, name)
	})
}

// Upsert writes points and waits until they are applied.
func (c *GRPCClient) Upsert(ctx context.Context, collection string, points []*Point) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, point := range points {
		ps, err := toPointStruct(point)
		if err != nil {
			return err
		}
		qdrantPoints[i] = ps
	}

	return c.retryOperation(ctx, "upsert", func() error {
		_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrantPoints,
		})
		return err
	})
}

// Search returns up to limit nearest neighbours with payloads, best first.
func (c *GRPCClient) Search(ctx context.Context, collection string, vector []float32, limit uint64) ([]*ScoredPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var results []*qdrant.ScoredPoint
	err := c.retryOperation(ctx, "search", func() error {
		res, err := c.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(limit),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	scored := make([]*ScoredPoint, len(results))
	for i, result := range results {
		scored[i] = fromScoredPoint(result)
	}
	return scored, nil
}

// Get retrieves points by ID with payloads. Missing IDs are omitted.
func (c *GRPCClient) Get(ctx context.Context, collection string, ids []uint64) ([]*Point, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var points []*qdrant.RetrievedPoint
	err := c.retryOperation(ctx, "get", func() error {
		res, err := c.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            pointIDs(ids),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]*Point, len(points))
	for i, p := range points {
		result[i] = fromRetrievedPoint(p)
	}
	return result, nil
}

// Delete removes points by ID. Absent IDs are ignored by Qdrant.
func (c *GRPCClient) Delete(ctx context.Context, collection string, ids []uint64) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	return c.retryOperation(ctx, "delete", func() error {
		_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelector(pointIDs(ids)...),
		})
		return err
	})
}

// Close closes the client connection.
func (c *GRPCClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// retryOperation retries transient failures with exponential backoff and
// classifies the final error.
func (c *GRPCClient) retryOperation(ctx context.Context, op string, operation func() error) error {
	var lastErr error
	backoff := c.config.RetryBackoff
	start := time.Now()

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				c.logger.Info(ctx, "qdrant operation recovered after retries",
					zap.String("operation", op),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return nil
		}

		lastErr = err
		if !isTransientError(err) || attempt == c.config.RetryAttempts {
			break
		}

		c.logger.Debug(ctx, "retrying qdrant operation after transient error",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.config.RetryAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s canceled: %v", ErrUnavailable, op, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	if isTransientError(lastErr) {
		c.logger.Warn(ctx, "qdrant operation failed after all retries",
			zap.String("operation", op),
			zap.Int("total_attempts", c.config.RetryAttempts+1),
			zap.Duration("total_time", time.Since(start)),
			zap.Error(lastErr),
		)
	}
	return classify(lastErr)
}

// classify maps gRPC status codes onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%w: %v", ErrCollectionNotFound, err)
	case status.Code(err) == codes.InvalidArgument && strings.Contains(strings.ToLower(status.Convert(err).Message()), "dimension"):
		return fmt.Errorf("%w: %v", ErrWrongDimension, err)
	case isTransientError(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}

// isTransientError checks if an error is transient and should be retried.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func pointIDs(ids []uint64) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = qdrant.NewIDNum(id)
	}
	return out
}

func toCollectionInfo(name string, info *qdrant.CollectionInfo) *CollectionInfo {
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	return &CollectionInfo{
		Name:        name,
		VectorSize:  params.GetSize(),
		Distance:    params.GetDistance(),
		PointsCount: info.GetPointsCount(),
	}
}

// toPointStruct encodes a point. Payload values must be types the client can
// encode (strings, numbers, bools, nil, []any, map[string]any).
func toPointStruct(p *Point) (*qdrant.PointStruct, error) {
	payload, err := qdrant.TryValueMap(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("point %d payload: %w", p.ID, err)
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDNum(p.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: payload,
	}, nil
}

func fromScoredPoint(p *qdrant.ScoredPoint) *ScoredPoint {
	return &ScoredPoint{
		Point: Point{
			ID:      p.GetId().GetNum(),
			Vector:  denseVector(p.GetVectors()),
			Payload: decodePayload(p.GetPayload()),
		},
		Score: p.GetScore(),
	}
}

func fromRetrievedPoint(p *qdrant.RetrievedPoint) *Point {
	return &Point{
		ID:      p.GetId().GetNum(),
		Vector:  denseVector(p.GetVectors()),
		Payload: decodePayload(p.GetPayload()),
	}
}

func denseVector(vectors *qdrant.VectorsOutput) []float32 {
	vec := vectors.GetVector()
	if vec == nil {
		return nil
	}
	if dense := vec.GetDense(); dense != nil {
		return dense.GetData()
	}
	return vec.GetData()
}

// decodePayload returns nil for an empty payload so callers can tell
// payload-less points apart.
func decodePayload(payload map[string]*qdrant.Value) map[string]interface{} {
	if len(payload) == 0 {
		return nil
	}
	result := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		result[k] = decodeValue(v)
	}
	return result
}

func decodeValue(v *qdrant.Value) interface{} {
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
	case *qdrant.Value_ListValue:
		items := make([]interface{}, len(val.ListValue.GetValues()))
		for i, item := range val.ListValue.GetValues() {
			items[i] = decodeValue(item)
		}
		return items
	case *qdrant.Value_StructValue:
		fields := make(map[string]interface{}, len(val.StructValue.GetFields()))
		for k, item := range val.StructValue.GetFields() {
			fields[k] = decodeValue(item)
		}
		return fields
	default:
		return nil
	}
}

var _ Client = (*GRPCClient)(nil)
