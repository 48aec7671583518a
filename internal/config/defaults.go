package config

const (
	defaultDataDir        = "~/.local/share/imageserver"
	defaultLogDir         = "~/.local/share/imageserver/logs"
	defaultAPIBind        = "127.0.0.1:7788"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultMaxFileSize    = 30 * 1024 * 1024
	defaultFetchTimeout   = 120
	defaultConnectTimeout = 10
	defaultFetchRetries   = 3
	defaultBaseBackoffMS  = 200
	defaultUserAgent      = "ImageServer Downloader"
	defaultTmpPrefix      = "image-server-"
	defaultOriginalDisk   = "downloaded"
	defaultVariantDisk    = "converted"
	defaultDispatchMode   = "chained"
	defaultKafkaTopic     = "imageserver-pipeline"
	defaultKafkaGroup     = "imageserver-workers"
	defaultExpiryHours    = 24
	defaultExpiryBatch    = 50
	defaultExpiryInterval = 60
)

func defaultAllowedExtensions() []string {
	return []string{"jpg", "jpeg", "png", "gif", "bmp", "webp"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Downloads: Downloads{
			AllowedExtensions:     defaultAllowedExtensions(),
			MaxFileSize:           defaultMaxFileSize,
			TimeoutSeconds:        defaultFetchTimeout,
			ConnectTimeoutSeconds: defaultConnectTimeout,
			Retries:               defaultFetchRetries,
			BaseBackoffMS:         defaultBaseBackoffMS,
			UserAgent:             defaultUserAgent,
			TmpPrefix:             defaultTmpPrefix,
		},
		Disks: Disks{
			Original:    defaultOriginalDisk,
			Variant:     defaultVariantDisk,
			Definitions: map[string]DiskDefinition{},
		},
		Dispatch: Dispatch{
			Mode:       defaultDispatchMode,
			KafkaTopic: defaultKafkaTopic,
			KafkaGroup: defaultKafkaGroup,
		},
		Expiry: Expiry{
			AfterHours:      defaultExpiryHours,
			BatchSize:       defaultExpiryBatch,
			IntervalMinutes: defaultExpiryInterval,
		},
	}
}
