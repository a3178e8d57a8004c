// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "encoding/json"

// HarvestConfig holds the harvester's configuration, parsed from JSON
// (config.json by default). data_path, batch_size, pmc_base,
// bucket_name, worker_pool_size, and user_agent are the keys the
// pipeline interprets directly; anything
// else (object-store access key, region, endpoint, ...) is preserved in
// Extra and passed through opaquely to the object-store client.
type HarvestConfig struct {
	DataPath   string `json:"data_path"`
	BatchSize  int    `json:"batch_size"`
	PMCBase    string `json:"pmc_base"`
	BucketName string `json:"bucket_name"`

	// WorkerPoolSize bounds the per-phase download/post-process worker
	// pool (default 12 when zero or negative).
	WorkerPoolSize int `json:"worker_pool_size,omitempty"`

	// UserAgent is sent on every download request (default a
	// browser-like string, matching the original harvester's wget
	// invocation).
	UserAgent string `json:"user_agent,omitempty"`

	// Extra carries any additional object-store configuration keys
	// (access_key, region, endpoint, ...) verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

const (
	// DefaultBatchSize is used when batch_size is zero or absent.
	DefaultBatchSize = 100
	// DefaultWorkerPoolSize is used when worker_pool_size is zero or absent.
	DefaultWorkerPoolSize = 12
	// DefaultUserAgent mirrors the original harvester's wget User-Agent.
	DefaultUserAgent = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:60.0) Gecko/20100101 Firefox/60.0"
)

// Resolved returns a copy of cfg with defaults applied for any unset field.
func (cfg HarvestConfig) Resolved() HarvestConfig {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = DefaultWorkerPoolSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return cfg
}

// ObjectStoreEnabled reports whether an object store is configured; when
// false, the post-processor falls back to local content-addressed copies.
func (cfg HarvestConfig) ObjectStoreEnabled() bool {
	return cfg.BucketName != ""
}

var knownConfigFields = map[string]struct{}{
	"data_path":        {},
	"batch_size":       {},
	"pmc_base":         {},
	"bucket_name":      {},
	"worker_pool_size": {},
	"user_agent":       {},
}

// UnmarshalJSON decodes the recognized keys and stashes everything else
// (object-store credentials, endpoint, region, ...) in Extra.
func (cfg *HarvestConfig) UnmarshalJSON(data []byte) error {
	type known HarvestConfig
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*cfg = HarvestConfig(k)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cfg.Extra = make(map[string]json.RawMessage)
	for key, v := range raw {
		if _, known := knownConfigFields[key]; !known {
			cfg.Extra[key] = v
		}
	}
	return nil
}
