package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SPARQL     SPARQLConfig
	LLM        LLMConfig
	Linker     LinkerConfig
	Similarity SimilarityConfig
	Neo4j      Neo4jConfig
	Zilliz     ZillizConfig
	Redis      RedisConfig
	SQLite     SQLiteConfig
	Prompt     PromptConfig
	Evaluation EvaluationConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host              string
	Port              int
	ReadTimeout       int
	WriteTimeout      int
	BodyLimit         int
	RequestsPerMinute int
	MaxQuestionLength int
}

type SPARQLConfig struct {
	Endpoint   string
	TimeoutSec int
}

type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type LinkerConfig struct {
	Backend    string
	URL        string
	MinScore   float64
	MaxPerSpan int
	TimeoutSec int
}

type SimilarityConfig struct {
	Backend   string
	PoolPath  string
	IndexPath string
	TopK      int
	Limit     int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
	Index    string
}

type ZillizConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type SQLiteConfig struct {
	Enabled bool
	Path    string
}

type PromptConfig struct {
	ExamplesPath string
}

type EvaluationConfig struct {
	TestSetPath string
	Format      string
	OutputPath  string
	Resume      string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads config.yaml from the standard search paths and the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads the given config file, or searches the standard paths when
// path is empty. A missing file in the search paths is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/kgqa")
	}

	v.SetEnvPrefix("KGQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Similarity.TopK <= 0 {
		return fmt.Errorf("similarity.topK must be positive, got %d", c.Similarity.TopK)
	}
	switch c.Similarity.Backend {
	case "bleve", "milvus", "none":
	default:
		return fmt.Errorf("unknown similarity backend %q", c.Similarity.Backend)
	}
	switch c.Linker.Backend {
	case "http", "graph", "none":
	default:
		return fmt.Errorf("unknown linker backend %q", c.Linker.Backend)
	}
	switch c.Evaluation.Resume {
	case "append", "skip", "retry":
	default:
		return fmt.Errorf("unknown evaluation.resume policy %q", c.Evaluation.Resume)
	}
	switch c.Evaluation.Format {
	case "ask-dblp", "dblp-quad":
	default:
		return fmt.Errorf("unknown evaluation.format %q", c.Evaluation.Format)
	}
	return nil
}

// bindLegacyEnv accepts the variable names used by the earlier tooling.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("llm.apiKey", "KGQA_LLM_APIKEY", "CHATAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.baseURL", "KGQA_LLM_BASEURL", "CHATAI_API_URL")
	_ = v.BindEnv("llm.model", "KGQA_LLM_MODEL", "CHATAI_MODEL")
	_ = v.BindEnv("sparql.endpoint", "KGQA_SPARQL_ENDPOINT", "LOCAL_SPARQL_ENDPOINT", "SPARQL_ENDPOINT")
	_ = v.BindEnv("linker.url", "KGQA_LINKER_URL", "DBLP_ENTITY_LINKER")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.requestsPerMinute", 30)
	v.SetDefault("server.maxQuestionLength", 1000)

	v.SetDefault("sparql.endpoint", "http://localhost:7015/sparql")
	v.SetDefault("sparql.timeoutSec", 60)

	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.model", "qwen2.5-coder-32b-instruct")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 120)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)

	v.SetDefault("linker.backend", "http")
	v.SetDefault("linker.url", "http://localhost:8000/link")
	v.SetDefault("linker.minScore", 0.5)
	v.SetDefault("linker.maxPerSpan", 1)
	v.SetDefault("linker.timeoutSec", 30)

	v.SetDefault("similarity.backend", "bleve")
	v.SetDefault("similarity.poolPath", "experiment/ask-dblp/train_data.json")
	v.SetDefault("similarity.indexPath", "")
	v.SetDefault("similarity.topK", 5)
	v.SetDefault("similarity.limit", 20)

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.index", "entityLabels")

	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.apiKey", "")
	v.SetDefault("zilliz.collectionName", "dblp_questions")
	v.SetDefault("zilliz.vectorDim", 1536)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlHours", 168)

	v.SetDefault("sqlite.enabled", true)
	v.SetDefault("sqlite.path", "./data/kgqa.db")

	v.SetDefault("prompt.examplesPath", "")

	v.SetDefault("evaluation.testSetPath", "experiment/ask-dblp/test_data.json")
	v.SetDefault("evaluation.format", "ask-dblp")
	v.SetDefault("evaluation.outputPath", "experiment/ask-dblp/answer_predictions_test.json")
	v.SetDefault("evaluation.resume", "skip")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stderr")
	v.SetDefault("logging.maxSizeMB", 100)
	v.SetDefault("logging.maxBackups", 5)
	v.SetDefault("logging.maxAgeDays", 30)
}
