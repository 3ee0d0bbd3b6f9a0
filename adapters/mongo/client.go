package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	defaultDatabase    = "lingtin"
	defaultMaxPoolSize = 10
	connectTimeout     = 10 * time.Second
)

// Config holds the MongoDB connection settings
type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
}

// NewConfigFromEnv creates a new Config from environment variables
func NewConfigFromEnv() Config {
	poolSize, _ := strconv.ParseUint(os.Getenv("MONGODB_MAX_POOL_SIZE"), 10, 64)
	return Config{
		URI:         os.Getenv("MONGODB_URI"),
		Database:    os.Getenv("MONGODB_DATABASE"),
		MaxPoolSize: poolSize,
	}
}

// Client owns the connection backing the recording and dish stores
type Client struct {
	client   *mongo.Client
	database *mongo.Database
	logger   *zap.Logger
}

// NewClient connects and pings the server before handing out stores
func NewClient(ctx context.Context, config Config, logger *zap.Logger) (*Client, error) {
	if config.URI == "" {
		return nil, errors.New("mongodb uri is required")
	}

	database := config.Database
	if database == "" {
		database = defaultDatabase
		logger.Info("Using default MongoDB database", zap.String("database", database))
	}

	maxPoolSize := config.MaxPoolSize
	if maxPoolSize == 0 {
		maxPoolSize = defaultMaxPoolSize
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(maxPoolSize).
		SetServerSelectionTimeout(5*time.Second).
		SetConnectTimeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.Info("Connected to MongoDB",
		zap.String("database", database),
		zap.Uint64("maxPoolSize", maxPoolSize))

	return &Client{
		client:   client,
		database: client.Database(database),
		logger:   logger,
	}, nil
}

// Recordings returns the recording store on this connection
func (c *Client) Recordings() *RecordingRepository {
	return NewRecordingRepository(c.database, c.logger)
}

// Dishes returns the dish vocabulary store on this connection
func (c *Client) Dishes() *VocabularyRepository {
	return NewVocabularyRepository(c.database)
}

// Close disconnects, waiting at most until ctx is done
func (c *Client) Close(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		c.logger.Error("Failed to disconnect from MongoDB", zap.Error(err))
		return err
	}
	c.logger.Info("Disconnected from MongoDB")
	return nil
}
