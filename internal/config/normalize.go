package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeInference()
	c.normalizePipeline()
	c.normalizeBatch()
	c.normalizeSplit()
	c.normalizeRetention()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ImagesDir) == "" {
		c.Paths.ImagesDir = defaultImagesDir
	}
	if c.Paths.ImagesDir, err = expandPath(c.Paths.ImagesDir); err != nil {
		return fmt.Errorf("paths.images_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeInference() {
	c.Inference.APIKey = strings.TrimSpace(c.Inference.APIKey)
	if c.Inference.APIKey == "" {
		if value, ok := os.LookupEnv("GEMINI_API_KEY"); ok {
			c.Inference.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("GOOGLE_API_KEY"); ok {
			c.Inference.APIKey = strings.TrimSpace(value)
		}
	}
	c.Inference.BaseURL = strings.TrimRight(strings.TrimSpace(c.Inference.BaseURL), "/")
	if c.Inference.BaseURL == "" {
		c.Inference.BaseURL = defaultBaseURL
	}
	c.Inference.Model = strings.TrimSpace(c.Inference.Model)
	if c.Inference.Model == "" {
		c.Inference.Model = defaultModel
	}
	c.Inference.BatchModel = strings.TrimSpace(c.Inference.BatchModel)
	c.Inference.TargetLanguage = strings.ToLower(strings.TrimSpace(c.Inference.TargetLanguage))
	if c.Inference.TargetLanguage == "" {
		c.Inference.TargetLanguage = defaultTargetLanguage
	}
	if c.Inference.TimeoutSeconds <= 0 {
		c.Inference.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Inference.MaxRetries <= 0 {
		c.Inference.MaxRetries = defaultMaxRetries
	}
	if c.Inference.Temperature < 0 {
		c.Inference.Temperature = defaultTemperature
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.ChunkSize <= 0 {
		c.Pipeline.ChunkSize = defaultChunkSize
	}
	if c.Pipeline.Parallelism <= 0 {
		c.Pipeline.Parallelism = defaultParallelism
	}
	if c.Pipeline.ContextChars <= 0 {
		c.Pipeline.ContextChars = defaultContextChars
	}
	if c.Pipeline.PollInterval <= 0 {
		c.Pipeline.PollInterval = defaultPollInterval
	}
	if c.Pipeline.HeartbeatInterval <= 0 {
		c.Pipeline.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Pipeline.HeartbeatTimeout <= 0 {
		c.Pipeline.HeartbeatTimeout = defaultHeartbeatTimeout
	}
}

func (c *Config) normalizeBatch() {
	if c.Batch.PollInterval <= 0 {
		c.Batch.PollInterval = defaultBatchPollInterval
	}
	if c.Batch.MaxImageEdge <= 0 {
		c.Batch.MaxImageEdge = defaultMaxImageEdge
	}
	if c.Batch.JPEGQuality <= 0 || c.Batch.JPEGQuality > 100 {
		c.Batch.JPEGQuality = defaultJPEGQuality
	}
}

func (c *Config) normalizeSplit() {
	if c.Split.BandStart <= 0 {
		c.Split.BandStart = defaultBandStart
	}
	if c.Split.BandEnd <= 0 {
		c.Split.BandEnd = defaultBandEnd
	}
	if c.Split.SmoothRadius <= 0 {
		c.Split.SmoothRadius = defaultSmoothRadius
	}
	if c.Split.Overlap < 0 {
		c.Split.Overlap = defaultOverlap
	}
	if c.Split.Overlap == 0 {
		c.Split.Overlap = defaultOverlap
	}
}

func (c *Config) normalizeRetention() {
	if c.Retention.SweepInterval < 0 {
		c.Retention.SweepInterval = 0
	}
	if c.Retention.RetentionDays <= 0 {
		c.Retention.RetentionDays = defaultRetentionDays
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
