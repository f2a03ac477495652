package elasticsearch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"matrimony_sync_backend/internal/profile"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// profilesMapping describes the documents read by profile.SearchSource.
var profilesMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id":    map[string]interface{}{"type": "keyword"},
			"name":  map[string]interface{}{"type": "text", "fields": map[string]interface{}{"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 256}}},
			"image": map[string]interface{}{"type": "keyword", "index": false},
		},
	},
}

// CreateProfilesIndexIfNotExists creates the profiles index with its mapping
// if it does not already exist.
func CreateProfilesIndexIfNotExists(ctx context.Context, client *ESClientWrapper, logger *zap.Logger) error {
	log := logger.Named("elasticsearch_index_setup")

	req := esapi.IndicesExistsRequest{Index: []string{profile.SearchIndex}}
	res, err := req.Do(ctx, client.Client)
	if err != nil {
		log.Error("Error checking if profiles index exists", zap.Error(err))
		return fmt.Errorf("error checking if profiles index exists: %w", err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		log.Info("Profiles index already exists", zap.String("index_name", profile.SearchIndex))
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("error checking if profiles index exists: status %s", res.Status())
	}

	body, err := json.Marshal(profilesMapping)
	if err != nil {
		return fmt.Errorf("error marshalling profiles mapping to JSON: %w", err)
	}
	createReq := esapi.IndicesCreateRequest{Index: profile.SearchIndex, Body: bytes.NewReader(body)}
	createRes, err := createReq.Do(ctx, client.Client)
	if err != nil {
		log.Error("Error creating profiles index", zap.Error(err))
		return fmt.Errorf("error creating profiles index %s: %w", profile.SearchIndex, err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		var errorBody map[string]interface{}
		if err := decodeJSONBody(createRes.Body, &errorBody); err != nil {
			log.Error("Failed to parse profiles index creation error response body", zap.Error(err), zap.String("status", createRes.Status()))
		} else {
			log.Error("Failed to create profiles index", zap.String("status", createRes.Status()), zap.Any("error_details", errorBody))
		}
		return fmt.Errorf("failed to create profiles index %s: status %s", profile.SearchIndex, createRes.Status())
	}

	log.Info("Profiles index created successfully", zap.String("index_name", profile.SearchIndex))
	return nil
}

// IndexProfiles bulk-indexes summaries into the profiles index, keyed by profile id.
// It returns the number of documents the cluster accepted.
func IndexProfiles(ctx context.Context, client *ESClientWrapper, summaries []profile.Summary, logger *zap.Logger) (int, error) {
	log := logger.Named("elasticsearch_profile_indexer")

	indexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     client.Client,
		Index:      profile.SearchIndex,
		NumWorkers: 2,
		OnError: func(_ context.Context, err error) {
			log.Error("Bulk indexer error", zap.Error(err))
		},
	})
	if err != nil {
		return 0, fmt.Errorf("creating bulk indexer: %w", err)
	}

	for _, s := range summaries {
		doc, err := json.Marshal(s)
		if err != nil {
			return 0, fmt.Errorf("encoding profile %s: %w", s.ID, err)
		}
		err = indexer.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: s.ID,
			Body:       bytes.NewReader(doc),
			OnFailure: func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				log.Warn("Profile not indexed",
					zap.String("profile_id", item.DocumentID),
					zap.String("reason", res.Error.Reason),
					zap.Error(err),
				)
			},
		})
		if err != nil {
			return 0, fmt.Errorf("queueing profile %s: %w", s.ID, err)
		}
	}

	if err := indexer.Close(ctx); err != nil {
		return 0, fmt.Errorf("flushing bulk indexer: %w", err)
	}
	stats := indexer.Stats()
	log.Info("Profiles indexed", zap.Uint64("indexed", stats.NumIndexed), zap.Uint64("failed", stats.NumFailed))
	if stats.NumFailed > 0 {
		return int(stats.NumIndexed), fmt.Errorf("%d profiles failed to index", stats.NumFailed)
	}
	return int(stats.NumIndexed), nil
}
