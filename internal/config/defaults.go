package config

const (
	defaultDataDir   = "~/.local/share/folio/data"
	defaultImagesDir = "~/.local/share/folio/images"
	defaultLogDir    = "~/.local/share/folio/logs"
	defaultAPIBind   = "127.0.0.1:7787"

	defaultBaseURL        = "https://generativelanguage.googleapis.com"
	defaultModel          = "gemini-2.5-flash"
	defaultTargetLanguage = "en"
	defaultTimeoutSeconds = 120
	defaultMaxRetries     = 3
	defaultTemperature    = 0.1

	defaultChunkSize         = 8
	defaultParallelism       = 2
	defaultContextChars      = 1500
	defaultPollInterval      = 5
	defaultHeartbeatInterval = 15
	defaultHeartbeatTimeout  = 120

	defaultBatchPollInterval = 60
	defaultMaxImageEdge      = 2000
	defaultJPEGQuality       = 85

	defaultBandStart    = 350
	defaultBandEnd      = 650
	defaultSmoothRadius = 7
	defaultOverlap      = 10

	defaultSweepInterval = 3600
	defaultRetentionDays = 30

	defaultNotifyRequestTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			ImagesDir: defaultImagesDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Inference: Inference{
			BaseURL:        defaultBaseURL,
			Model:          defaultModel,
			TargetLanguage: defaultTargetLanguage,
			TimeoutSeconds: defaultTimeoutSeconds,
			MaxRetries:     defaultMaxRetries,
			Temperature:    defaultTemperature,
		},
		Pipeline: Pipeline{
			ChunkSize:         defaultChunkSize,
			Parallelism:       defaultParallelism,
			ContextChars:      defaultContextChars,
			PollInterval:      defaultPollInterval,
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
		},
		Batch: Batch{
			PollInterval: defaultBatchPollInterval,
			MaxImageEdge: defaultMaxImageEdge,
			JPEGQuality:  defaultJPEGQuality,
		},
		Split: Split{
			BandStart:    defaultBandStart,
			BandEnd:      defaultBandEnd,
			SmoothRadius: defaultSmoothRadius,
			Overlap:      defaultOverlap,
		},
		Retention: Retention{
			SweepInterval: defaultSweepInterval,
			RetentionDays: defaultRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobComplete:    true,
			JobFailed:      true,
			Sweep:          true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
