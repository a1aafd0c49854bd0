package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// DefaultConfigCollection holds provider config documents when none is configured.
const DefaultConfigCollection = "provider_configs"

// EnsureIndexes creates the indexes the config collection needs.
func EnsureIndexes(ctx context.Context, client *Client, collection string) error {
	logger := client.Logger().With("operation", "EnsureIndexes", "collection", collection)

	indexes := []mongo.IndexModel{
		// Platform lookups from admin tooling
		{Keys: bson.D{{Key: "platform", Value: 1}}},
		// Recently changed configs first
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	}

	if _, err := client.Collection(collection).Indexes().CreateMany(ctx, indexes); err != nil {
		logger.Error("Failed to create indexes", err)
		return fmt.Errorf("failed to create indexes for %s: %w", collection, err)
	}

	logger.Info("Successfully created indexes", "count", len(indexes))
	return nil
}
