package storage

import (
	"context"
	"fmt"

	"imageserver/internal/config"
)

// Set resolves configured disk names to drivers.
type Set struct {
	disks    map[string]Disk
	original string
	variant  string
}

// NewSet builds a Set from explicit disks (used in tests).
func NewSet(original, variant string, disks ...Disk) *Set {
	byName := make(map[string]Disk, len(disks))
	for _, disk := range disks {
		byName[disk.Name()] = disk
	}
	return &Set{disks: byName, original: original, variant: variant}
}

// FromConfig constructs every configured disk.
func FromConfig(ctx context.Context, cfg *config.Config) (*Set, error) {
	disks := make(map[string]Disk, len(cfg.Disks.Definitions))
	for name, def := range cfg.Disks.Definitions {
		switch def.Driver {
		case "local":
			disks[name] = NewLocalDisk(name, def.Root, def.BaseURL)
		case "s3":
			disk, err := NewS3Disk(ctx, name, S3Config{
				Endpoint:  def.Endpoint,
				AccessKey: def.AccessKey,
				SecretKey: def.SecretKey,
				Bucket:    def.Bucket,
				Region:    def.Region,
				UseSSL:    def.UseSSL,
				BaseURL:   def.BaseURL,
			})
			if err != nil {
				return nil, err
			}
			disks[name] = disk
		default:
			return nil, fmt.Errorf("disk %s: unsupported driver %q", name, def.Driver)
		}
	}
	return &Set{disks: disks, original: cfg.Disks.Original, variant: cfg.Disks.Variant}, nil
}

// ByName returns the disk registered under name.
func (s *Set) ByName(name string) (Disk, error) {
	disk, ok := s.disks[name]
	if !ok {
		return nil, fmt.Errorf("disk %q is not configured", name)
	}
	return disk, nil
}

// Original returns the disk holding downloaded source images.
func (s *Set) Original() (Disk, error) { return s.ByName(s.original) }

// Variant returns the disk holding generated variants.
func (s *Set) Variant() (Disk, error) { return s.ByName(s.variant) }

// Names returns every configured disk name.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.disks))
	for name := range s.disks {
		names = append(names, name)
	}
	return names
}
