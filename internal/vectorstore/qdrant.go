package vectorstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/dshills/codeindex-mcp/pkg/types"
)

// Payload keys
const (
	FieldRepositoryID = "repository_id"
	FieldFilePath     = "file_path"
	FieldBlockType    = "block_type"
)

// indexedFields get keyword payload indexes on creation
var indexedFields = []string{FieldRepositoryID, FieldFilePath, FieldBlockType}

// pointsAPI is the subset of pb.PointsClient the store uses
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses
type collectionsAPI interface {
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption) (*pb.CollectionExistsResponse, error)
}

// Config holds Qdrant connection settings
type Config struct {
	Host      string
	Port      int
	APIKey    string
	UseTLS    bool
	Dimension int
	Logger    *slog.Logger
}

// QdrantStore implements VectorStore over Qdrant's gRPC API
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI

	collection string
	repo       types.RepositoryInfo
	dimension  int
	now        func() time.Time
	logger     *slog.Logger
}

var _ VectorStore = (*QdrantStore)(nil)

// New connects to Qdrant for the given repository. The connection is lazy;
// the first RPC reports an unreachable server.
func New(cfg Config, repo types.RepositoryInfo) (*QdrantStore, error) {
	if err := repo.Validate(); err != nil {
		return nil, err
	}
	if cfg.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	opts := []grpc.DialOption{}
	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	s := newStore(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), repo, cfg.Dimension, cfg.Logger)
	s.conn = conn
	return s, nil
}

func newStore(points pointsAPI, collections collectionsAPI, repo types.RepositoryInfo, dimension int, logger *slog.Logger) *QdrantStore {
	if logger == nil {
		logger = slog.Default()
	}
	collection := CollectionName(repo.ID)
	return &QdrantStore{
		points:      points,
		collections: collections,
		collection:  collection,
		repo:        repo,
		dimension:   dimension,
		now:         time.Now,
		logger:      logger.With("component", "vectorstore", "collection", collection),
	}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// CollectionName returns the collection this store writes to
func (s *QdrantStore) CollectionName() string {
	return s.collection
}

// Initialize creates the collection and payload indexes when absent. An
// existing collection must have the configured vector size. A new collection
// whose payload indexes cannot be built is dropped again.
func (s *QdrantStore) Initialize(ctx context.Context) (bool, error) {
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return false, fmt.Errorf("check collection %s: %w", s.collection, err)
	}

	if exists.GetResult().GetExists() {
		info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
		if err != nil {
			return false, fmt.Errorf("get collection %s: %w", s.collection, err)
		}
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if int(size) != s.dimension {
			return false, fmt.Errorf("%w: collection %s has %d, embedder produces %d",
				ErrDimensionMismatch, s.collection, size, s.dimension)
		}
		return false, nil
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{
				Size:     uint64(s.dimension),
				Distance: pb.Distance_Cosine,
			},
		}},
	})
	if err != nil {
		return false, fmt.Errorf("create collection %s: %w", s.collection, err)
	}

	wait := true
	for _, field := range indexedFields {
		_, err := s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: s.collection,
			Wait:           &wait,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			err = fmt.Errorf("create payload index %s: %w", field, err)
			// later calls skip index creation for an existing collection
			if _, derr := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection}); derr != nil {
				return false, errors.Join(err, fmt.Errorf("drop incomplete collection %s: %w", s.collection, derr))
			}
			return false, err
		}
	}

	s.logger.Info("created collection", "dimension", s.dimension)
	return true, nil
}

// Upsert writes points and waits for them to be applied
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	indexedAt := s.now().UTC().Format(time.RFC3339)
	structs := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		if len(p.Vector) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyVector, p.Block.FilePath)
		}
		structs[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: s.payload(p.Block, indexedAt),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search runs a filtered similarity query for this repository
func (s *QdrantStore) Search(ctx context.Context, vector []float32, minScore float32, maxResults int) ([]types.SearchResult, error) {
	if maxResults <= 0 {
		return nil, nil
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Filter:         s.repoFilter(),
		Limit:          uint64(maxResults),
		ScoreThreshold: &minScore,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.collection, err)
	}

	results := make([]types.SearchResult, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		results = append(results, resultFromPayload(pt.GetPayload(), float64(pt.GetScore())))
	}
	return results, nil
}

// ClearCollection deletes every point of this repository
func (s *QdrantStore) ClearCollection(ctx context.Context) error {
	if err := s.deleteWhere(ctx, s.repoFilter()); err != nil {
		return fmt.Errorf("clear %s: %w", s.collection, err)
	}
	return nil
}

// DeleteByFile deletes the points of one repository file
func (s *QdrantStore) DeleteByFile(ctx context.Context, filePath string) error {
	filter := s.repoFilter()
	filter.Must = append(filter.Must, matchKeyword(FieldFilePath, filePath))
	if err := s.deleteWhere(ctx, filter); err != nil {
		return fmt.Errorf("delete %s from %s: %w", filePath, s.collection, err)
	}
	return nil
}

func (s *QdrantStore) deleteWhere(ctx context.Context, filter *pb.Filter) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter}},
	})
	return err
}

// DeleteCollection drops the collection
func (s *QdrantStore) DeleteCollection(ctx context.Context) error {
	if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection}); err != nil {
		return fmt.Errorf("delete collection %s: %w", s.collection, err)
	}
	s.logger.Info("deleted collection")
	return nil
}

// CountByRepo returns an exact count of this repository's points
func (s *QdrantStore) CountByRepo(ctx context.Context) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Filter:         s.repoFilter(),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// ListCollections returns every collection owned by this module
func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	resp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	var names []string
	for _, c := range resp.GetCollections() {
		if strings.HasPrefix(c.GetName(), CollectionPrefix) {
			names = append(names, c.GetName())
		}
	}
	return names, nil
}

// Close releases the gRPC connection
func (s *QdrantStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *QdrantStore) repoFilter() *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{matchKeyword(FieldRepositoryID, s.repo.ID)}}
}

func matchKeyword(key, value string) *pb.Condition {
	return &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
		Key:   key,
		Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
	}}}
}
