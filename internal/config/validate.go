package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateInference(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateSplit(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateInference() error {
	if c.Inference.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/folio/config.toml"
		}
		return fmt.Errorf("inference.api_key is required. Set GEMINI_API_KEY env var or edit %s (create with 'folio config init')", defaultPath)
	}
	if c.Inference.Temperature < 0 || c.Inference.Temperature > 2 {
		return errors.New("inference.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Parallelism < 1 || c.Pipeline.Parallelism > 5 {
		return errors.New("pipeline.parallelism must be between 1 and 5")
	}
	if err := ensurePositiveMap(map[string]int{
		"pipeline.chunk_size":    c.Pipeline.ChunkSize,
		"pipeline.poll_interval": c.Pipeline.PollInterval,
		"pipeline.context_chars": c.Pipeline.ContextChars,
		"batch.poll_interval":    c.Batch.PollInterval,
		"batch.max_image_edge":   c.Batch.MaxImageEdge,
	}); err != nil {
		return err
	}
	if c.Pipeline.HeartbeatInterval <= 0 {
		return errors.New("pipeline.heartbeat_interval must be positive")
	}
	if c.Pipeline.HeartbeatTimeout <= 0 {
		return errors.New("pipeline.heartbeat_timeout must be positive")
	}
	if c.Pipeline.HeartbeatTimeout <= c.Pipeline.HeartbeatInterval {
		return errors.New("pipeline.heartbeat_timeout must be greater than pipeline.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateSplit() error {
	if c.Split.BandStart < 0 || c.Split.BandStart > 1000 {
		return errors.New("split.band_start must be on the 0-1000 scale")
	}
	if c.Split.BandEnd < 0 || c.Split.BandEnd > 1000 {
		return errors.New("split.band_end must be on the 0-1000 scale")
	}
	if c.Split.BandStart >= c.Split.BandEnd {
		return errors.New("split.band_start must be less than split.band_end")
	}
	if c.Split.Overlap < 0 || c.Split.Overlap > 100 {
		return errors.New("split.overlap must be between 0 and 100")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.RetentionDays <= 0 {
		return errors.New("retention.retention_days must be positive")
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
