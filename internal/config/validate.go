package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDisks(); err != nil {
		return err
	}
	if err := c.validateDownloads(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateExpiry(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDisks() error {
	if strings.TrimSpace(c.Disks.Original) == "" {
		return errors.New("disks.original must be set")
	}
	if strings.TrimSpace(c.Disks.Variant) == "" {
		return errors.New("disks.variant must be set")
	}
	for name, def := range c.Disks.Definitions {
		switch def.Driver {
		case "local":
			if strings.TrimSpace(def.Root) == "" {
				return fmt.Errorf("disks.definitions.%s.root must be set for the local driver", name)
			}
		case "s3":
			if strings.TrimSpace(def.Endpoint) == "" {
				return fmt.Errorf("disks.definitions.%s.endpoint must be set for the s3 driver", name)
			}
			if strings.TrimSpace(def.Bucket) == "" {
				return fmt.Errorf("disks.definitions.%s.bucket must be set for the s3 driver", name)
			}
		default:
			return fmt.Errorf("disks.definitions.%s.driver: unsupported driver %q", name, def.Driver)
		}
	}
	return nil
}

func (c *Config) validateDownloads() error {
	if len(c.Downloads.AllowedExtensions) == 0 {
		return errors.New("downloads.allowed_extensions must not be empty")
	}
	if c.Downloads.MaxFileSize <= 0 {
		return errors.New("downloads.max_file_size must be positive")
	}
	if c.Downloads.TimeoutSeconds <= 0 {
		return errors.New("downloads.timeout_seconds must be positive")
	}
	if c.Downloads.Retries < 1 {
		return errors.New("downloads.retries must be at least 1")
	}
	if c.Downloads.BaseBackoffMS < 0 {
		return errors.New("downloads.base_backoff_ms must not be negative")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	switch c.Dispatch.Mode {
	case DispatchSync, DispatchChained:
		return nil
	case DispatchQueued:
		if len(c.Dispatch.KafkaBrokers) == 0 {
			return errors.New("dispatch.kafka_brokers must be set when dispatch.mode is \"queued\"")
		}
		if strings.TrimSpace(c.Dispatch.KafkaTopic) == "" {
			return errors.New("dispatch.kafka_topic must be set when dispatch.mode is \"queued\"")
		}
		return nil
	default:
		return fmt.Errorf("dispatch.mode: unsupported value %q", c.Dispatch.Mode)
	}
}

func (c *Config) validateExpiry() error {
	if c.Expiry.AfterHours <= 0 {
		return errors.New("expiry.after_hours must be positive")
	}
	if c.Expiry.BatchSize <= 0 {
		return errors.New("expiry.batch_size must be positive")
	}
	if c.Expiry.Auto && c.Expiry.IntervalMinutes <= 0 {
		return errors.New("expiry.interval_minutes must be positive when expiry.auto is true")
	}
	return nil
}
