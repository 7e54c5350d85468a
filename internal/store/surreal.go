package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/raphaelgruber/storyboard-go/internal/models"
)

func init() {
	// Force HTTP/1.1 for WSS connections to prevent HTTP/2 ALPN negotiation.
	// WebSocket upgrade requires HTTP/1.1 semantics which fail under HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// hnswEF is the HNSW search beam width used by every KNN query.
const hnswEF = 40

// SurrealConfig holds SurrealDB connection configuration.
type SurrealConfig struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

// Surreal is the ANN-backed store implementation on SurrealDB with
// auto-reconnecting WebSocket.
type Surreal struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	cfg    SurrealConfig
	logger logger.Logger
}

// NewSurreal connects, authenticates, selects the namespace/database and
// applies the schema.
func NewSurreal(ctx context.Context, cfg SurrealConfig, log *slog.Logger) (*Surreal, error) {
	var sdkLogger logger.Logger
	if log != nil {
		sdkLogger = logger.New(log.Handler())
	} else {
		sdkLogger = logger.New(slog.Default().Handler())
	}

	// surrealcbor handles SurrealDB custom CBOR tags (record ids, datetimes).
	codec := surrealcbor.New()

	// gorillaws requires the URL without /rpc suffix (it adds /rpc internally).
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			ws := gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			})
			return ws, nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	sdkLogger.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	if cfg.AuthLevel == "database" {
		_, err = db.SignIn(ctx, surrealdb.Auth{
			Namespace: cfg.Namespace,
			Database:  cfg.Database,
			Username:  cfg.Username,
			Password:  cfg.Password,
		})
	} else {
		_, err = db.SignIn(ctx, surrealdb.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use: %w", err)
	}

	s := &Surreal{conn: conn, db: db, cfg: cfg, logger: sdkLogger}
	if err := s.initSchema(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	sdkLogger.Info("SurrealDB store ready", "namespace", cfg.Namespace, "database", cfg.Database)
	return s, nil
}

func (s *Surreal) initSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, s.db, schemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// InsertChunk upserts a canonical chunk keyed by chunk_id.
func (s *Surreal) InsertChunk(ctx context.Context, c models.CanonicalChunk) error {
	_, err := surrealdb.Query[any](ctx, s.db, `
		UPSERT chunk SET
			chunk_id = $chunk_id,
			chunk_text = $chunk_text,
			embedding = $embedding
		WHERE chunk_id = $chunk_id
	`, map[string]any{
		"chunk_id":   c.ChunkID,
		"chunk_text": c.Text,
		"embedding":  c.Embedding,
	})
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// InsertEpisode creates an episodic-text record.
func (s *Surreal) InsertEpisode(ctx context.Context, e models.Episode) error {
	entities := e.Entities
	if entities == nil {
		entities = []string{}
	}
	_, err := surrealdb.Query[any](ctx, s.db, `
		CREATE episode SET
			scene_id = $scene_id,
			shot_id = $shot_id,
			summary = $summary,
			embedding = $embedding,
			entities = $entities,
			quality_score = $quality_score,
			timestamp = type::datetime($timestamp)
	`, map[string]any{
		"scene_id":      e.SceneID,
		"shot_id":       e.ShotID,
		"summary":       e.Summary,
		"embedding":     e.Embedding,
		"entities":      entities,
		"quality_score": e.QualityScore,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

// InsertFrame upserts a visual-context record keyed by frame_id.
func (s *Surreal) InsertFrame(ctx context.Context, f models.Frame) error {
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := surrealdb.Query[any](ctx, s.db, `
		UPSERT frame SET
			frame_id = $frame_id,
			scene_id = $scene_id,
			shot_id = $shot_id,
			embedding = $embedding,
			thumb_path = $thumb_path,
			category = $category,
			entity = $entity,
			tags = $tags,
			source = $source,
			confidence = $confidence,
			prompt = $prompt,
			original_path = $original_path
		WHERE frame_id = $frame_id
	`, map[string]any{
		"frame_id":      f.FrameID,
		"scene_id":      f.SceneID,
		"shot_id":       f.ShotID,
		"embedding":     f.Embedding,
		"thumb_path":    f.ThumbPath,
		"category":      string(f.Category),
		"entity":        f.Entity,
		"tags":          tags,
		"source":        string(f.Source),
		"confidence":    f.Confidence,
		"prompt":        f.Prompt,
		"original_path": f.OriginalPath,
	})
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

// InsertFailure creates a failure record.
func (s *Surreal) InsertFailure(ctx context.Context, f models.Failure) error {
	_, err := surrealdb.Query[any](ctx, s.db, `
		CREATE failure SET
			frame_id = $frame_id,
			err_code = $err_code,
			neg_prompt_token = $neg_prompt_token,
			timestamp = type::datetime($timestamp)
	`, map[string]any{
		"frame_id":         f.FrameID,
		"err_code":         f.ErrCode,
		"neg_prompt_token": f.NegPromptToken,
		"timestamp":        f.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}

type chunkRow struct {
	models.CanonicalChunk
	Dist float64 `json:"dist"`
}

type episodeRow struct {
	models.Episode
	Dist float64 `json:"dist"`
}

type frameRow struct {
	models.Frame
	Dist float64 `json:"dist"`
}

// SearchChunks returns the k nearest canonical chunks via the HNSW index.
func (s *Surreal) SearchChunks(ctx context.Context, query []float32, k int) ([]ChunkHit, error) {
	if k <= 0 {
		return []ChunkHit{}, nil
	}
	// KNN operands must be literals.
	sql := fmt.Sprintf(`
		SELECT chunk_id, chunk_text, embedding, vector::distance::knn() AS dist
		FROM chunk
		WHERE embedding <|%d,%d|> $emb
		ORDER BY dist ASC
	`, k, hnswEF)

	rows, err := queryRows[chunkRow](ctx, s.db, sql, map[string]any{"emb": query})
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	hits := make([]ChunkHit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, ChunkHit{CanonicalChunk: r.CanonicalChunk, Distance: r.Dist})
	}
	return hits, nil
}

// SearchEpisodes returns the k nearest episodes via the HNSW index.
func (s *Surreal) SearchEpisodes(ctx context.Context, query []float32, k int) ([]EpisodeHit, error) {
	if k <= 0 {
		return []EpisodeHit{}, nil
	}
	sql := fmt.Sprintf(`
		SELECT scene_id, shot_id, summary, embedding, entities, quality_score, timestamp,
			vector::distance::knn() AS dist
		FROM episode
		WHERE embedding <|%d,%d|> $emb
		ORDER BY dist ASC
	`, k, hnswEF)

	rows, err := queryRows[episodeRow](ctx, s.db, sql, map[string]any{"emb": query})
	if err != nil {
		return nil, fmt.Errorf("search episodes: %w", err)
	}

	hits := make([]EpisodeHit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, EpisodeHit{Episode: r.Episode, Distance: r.Dist})
	}
	return hits, nil
}

// SearchFrames returns the k nearest visual-context records via the HNSW
// index.
func (s *Surreal) SearchFrames(ctx context.Context, query []float32, k int) ([]FrameHit, error) {
	if k <= 0 {
		return []FrameHit{}, nil
	}
	sql := fmt.Sprintf(`
		SELECT frame_id, scene_id, shot_id, embedding, thumb_path, category, entity,
			tags, source, confidence, prompt, original_path,
			vector::distance::knn() AS dist
		FROM frame
		WHERE embedding <|%d,%d|> $emb
		ORDER BY dist ASC
	`, k, hnswEF)

	rows, err := queryRows[frameRow](ctx, s.db, sql, map[string]any{"emb": query})
	if err != nil {
		return nil, fmt.Errorf("search frames: %w", err)
	}

	hits := make([]FrameHit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, FrameHit{Frame: r.Frame, Distance: r.Dist})
	}
	return hits, nil
}

// FilterFrames returns all frames matching the filter.
func (s *Surreal) FilterFrames(ctx context.Context, filter FrameFilter) ([]models.Frame, error) {
	clauses := []string{}
	vars := map[string]any{}

	if filter.FrameID != "" {
		clauses = append(clauses, "frame_id = $frame_id")
		vars["frame_id"] = filter.FrameID
	}
	if filter.Entity != "" {
		clauses = append(clauses, "entity = $entity")
		vars["entity"] = filter.Entity
	}
	if filter.Source != "" {
		clauses = append(clauses, "source = $source")
		vars["source"] = string(filter.Source)
	}
	if filter.SceneMin != nil {
		clauses = append(clauses, "scene_id >= $scene_min")
		vars["scene_min"] = *filter.SceneMin
	}
	if filter.SceneMax != nil {
		clauses = append(clauses, "scene_id <= $scene_max")
		vars["scene_max"] = *filter.SceneMax
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	sql := fmt.Sprintf(`
		SELECT frame_id, scene_id, shot_id, embedding, thumb_path, category, entity,
			tags, source, confidence, prompt, original_path
		FROM frame %s
	`, where)

	rows, err := queryRows[models.Frame](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("filter frames: %w", err)
	}
	return rows, nil
}

// RecentFailures returns up to limit failures, newest first.
func (s *Surreal) RecentFailures(ctx context.Context, limit int) ([]models.Failure, error) {
	if limit <= 0 {
		return []models.Failure{}, nil
	}
	rows, err := queryRows[models.Failure](ctx, s.db, `
		SELECT frame_id, err_code, neg_prompt_token, timestamp
		FROM failure
		ORDER BY timestamp DESC
		LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	return rows, nil
}

type tableCount struct {
	Count int `json:"count"`
}

// Counts reports the record count of each table.
func (s *Surreal) Counts(ctx context.Context) (TableCounts, error) {
	var counts TableCounts
	for table, dst := range map[string]*int{
		"chunk":   &counts.Chunks,
		"episode": &counts.Episodes,
		"frame":   &counts.Frames,
		"failure": &counts.Failures,
	} {
		sql := fmt.Sprintf("SELECT count() AS count FROM %s GROUP ALL", table)
		rows, err := queryRows[tableCount](ctx, s.db, sql, nil)
		if err != nil {
			return TableCounts{}, fmt.Errorf("count %s: %w", table, err)
		}
		if len(rows) > 0 {
			*dst = rows[0].Count
		}
	}
	return counts, nil
}

// Reset deletes all data while preserving schema.
func (s *Surreal) Reset(ctx context.Context) error {
	s.logger.Warn("wiping all store data")
	for _, table := range []string{"chunk", "episode", "frame", "failure"} {
		sql := fmt.Sprintf("DELETE %s", table)
		if _, err := surrealdb.Query[any](ctx, s.db, sql, nil); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the SurrealDB connection.
func (s *Surreal) Close(ctx context.Context) error {
	s.logger.Info("closing SurrealDB connection")
	return s.conn.Close(ctx)
}

// queryRows runs a query and unwraps the first result set. A missing result
// set yields an empty slice, matching the empty-table contract.
func queryRows[T any](ctx context.Context, db *surrealdb.DB, sql string, vars map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, db, sql, vars)
	if err != nil {
		return nil, err
	}
	if results == nil || len(*results) == 0 {
		return []T{}, nil
	}
	return (*results)[0].Result, nil
}
