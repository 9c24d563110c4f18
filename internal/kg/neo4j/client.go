package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/pkg/circuitbreaker"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
	"github.com/dblp-kgqa/kgqa/pkg/retry"
)

const DefaultIndex = "entityLabels"

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	index       string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// Entity is a DBLP node mirrored into the label index: a person, a venue
// stream or a publication.
type Entity struct {
	URI   string
	Label string
	Type  string
}

type ScoredEntity struct {
	Entity
	Score float64
}

func NewClient(uri, username, password, database, index string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}
	if index == "" {
		index = DefaultIndex
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized",
		zap.String("uri", uri),
		zap.String("database", database),
		zap.String("index", index),
	)

	return &Client{
		driver:      driver,
		database:    database,
		index:       index,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// EnsureIndex creates the uniqueness constraint on Entity.uri and the
// full-text index over labels.
func (c *Client) EnsureIndex(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT entity_uri IF NOT EXISTS FOR (e:Entity) REQUIRE e.uri IS UNIQUE`,
		fmt.Sprintf(`CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (e:Entity) ON EACH [e.label]`, c.index),
	}

	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		for _, stmt := range statements {
			if _, err := session.Run(ctx, stmt, nil); err != nil {
				return fmt.Errorf("failed to create index: %w", err)
			}
		}
		return nil
	})
}

// UpsertEntities merges entities by URI in a single UNWIND statement.
func (c *Client) UpsertEntities(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, map[string]any{
			"uri":   e.URI,
			"label": e.Label,
			"type":  e.Type,
		})
	}

	query := `
		UNWIND $rows AS row
		MERGE (e:Entity {uri: row.uri})
		SET e.label = row.label,
		    e.type = row.type,
		    e.updated_at = timestamp()
	`

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, query, map[string]any{"rows": rows})
		if err != nil {
			return fmt.Errorf("failed to upsert entities: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Entities upserted in KG", zap.Int("count", len(entities)))
	return nil
}

// SearchEntities runs a full-text lookup of mention against entity labels.
func (c *Client) SearchEntities(ctx context.Context, mention string, limit int) ([]ScoredEntity, error) {
	term := EscapeLucene(strings.TrimSpace(mention))
	if term == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	var entities []ScoredEntity

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		entities = entities[:0]

		query := `
			CALL db.index.fulltext.queryNodes($index, $term) YIELD node, score
			RETURN node.uri AS uri, node.label AS label, node.type AS type, score
			ORDER BY score DESC
			LIMIT $limit
		`

		result, err := session.Run(ctx, query, map[string]any{
			"index": c.index,
			"term":  term,
			"limit": limit,
		})
		if err != nil {
			return fmt.Errorf("failed to search entities: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()

			uri, _ := record.Get("uri")
			label, _ := record.Get("label")
			entityType, _ := record.Get("type")
			score, _ := record.Get("score")

			e := ScoredEntity{}
			e.URI, _ = uri.(string)
			e.Label, _ = label.(string)
			e.Type, _ = entityType.(string)
			e.Score, _ = score.(float64)

			entities = append(entities, e)
		}

		if err := result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	logger.Debug("KG entity search completed",
		zap.String("mention", mention),
		zap.Int("results_found", len(entities)),
	)

	return entities, nil
}

func (c *Client) CountEntities(ctx context.Context) (int64, error) {
	var count int64

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, `MATCH (e:Entity) RETURN count(e) AS n`, nil)
		if err != nil {
			return fmt.Errorf("failed to count entities: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return fmt.Errorf("failed to read count: %w", err)
		}
		n, _ := record.Get("n")
		count, _ = n.(int64)
		return nil
	})

	return count, err
}

var luceneReplacer = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `!`, `\!`, `(`, `\(`, `)`, `\)`,
	`:`, `\:`, `^`, `\^`, `[`, `\[`, `]`, `\]`, `"`, `\"`, `{`, `\{`,
	`}`, `\}`, `~`, `\~`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `&`, `\&`,
	`/`, `\/`,
)

// EscapeLucene escapes Lucene query syntax so a mention is matched literally.
func EscapeLucene(s string) string {
	return luceneReplacer.Replace(s)
}
