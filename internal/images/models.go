package images

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the lifecycle of an image record.
type Status string

const (
	StatusQueued             Status = "queued"
	StatusDownloading        Status = "downloading_image"
	StatusDownloaded         Status = "image_downloaded"
	StatusGeneratingVariants Status = "generating_variants"
	StatusDone               Status = "done"
	StatusFailed             Status = "failed"
	StatusExpired            Status = "expired"
	// StatusDeleting marks a record whose files are being torn down. Records in
	// this state are invisible to reads and are removed once teardown finishes.
	StatusDeleting Status = "deleting"
)

var allStatuses = []Status{
	StatusQueued,
	StatusDownloading,
	StatusDownloaded,
	StatusGeneratingVariants,
	StatusDone,
	StatusFailed,
	StatusExpired,
	StatusDeleting,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusQueued:             {},
	StatusDownloading:        {},
	StatusDownloaded:         {},
	StatusGeneratingVariants: {},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)
	if _, ok := statusSet[status]; !ok {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return status, nil
}

// IsProcessing reports whether the record is still moving through the
// pipeline and therefore eligible for expiry.
func (s Status) IsProcessing() bool {
	_, ok := processingStatuses[s]
	return ok
}

// IsTerminal reports whether the record has reached a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusExpired:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// FileRef locates one stored blob and carries its probe metadata.
type FileRef struct {
	Disk     string `json:"disk"`
	Key      string `json:"key"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// pendingKey is the reserved name under which planned-but-unconfirmed variant
// outputs are serialized. It cannot collide with variant names, which never
// start with an underscore.
const pendingKey = "_pending"

// VariantFiles maps variant name to encoding extension to stored file. The
// Pending list holds outputs that were announced before generation started;
// a crash leaves them behind so reconciliation can sweep half-written blobs.
type VariantFiles struct {
	Pending  []FileRef
	Variants map[string]map[string]FileRef
}

// Empty reports whether no variant output or pending entry is recorded.
func (v VariantFiles) Empty() bool {
	return len(v.Pending) == 0 && len(v.Variants) == 0
}

// Set records a generated file under variant name and encoding extension.
func (v *VariantFiles) Set(variant, ext string, ref FileRef) {
	if v.Variants == nil {
		v.Variants = make(map[string]map[string]FileRef)
	}
	if v.Variants[variant] == nil {
		v.Variants[variant] = make(map[string]FileRef)
	}
	v.Variants[variant][ext] = ref
}

// All returns every referenced file, pending entries included.
func (v VariantFiles) All() []FileRef {
	refs := make([]FileRef, 0, len(v.Pending))
	refs = append(refs, v.Pending...)
	for _, byExt := range v.Variants {
		for _, ref := range byExt {
			refs = append(refs, ref)
		}
	}
	return refs
}

// MarshalJSON flattens pending entries and variant maps into one object.
func (v VariantFiles) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(v.Variants)+1)
	if len(v.Pending) > 0 {
		out[pendingKey] = v.Pending
	}
	for name, byExt := range v.Variants {
		out[name] = byExt
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits the reserved pending list back out of the object.
func (v *VariantFiles) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = VariantFiles{}
	for name, payload := range raw {
		if name == pendingKey {
			if err := json.Unmarshal(payload, &v.Pending); err != nil {
				return fmt.Errorf("decode pending files: %w", err)
			}
			continue
		}
		byExt := make(map[string]FileRef)
		if err := json.Unmarshal(payload, &byExt); err != nil {
			return fmt.Errorf("decode variant %s: %w", name, err)
		}
		if v.Variants == nil {
			v.Variants = make(map[string]map[string]FileRef)
		}
		v.Variants[name] = byExt
	}
	return nil
}

// Record represents one tracked image persisted in SQLite.
type Record struct {
	ID           int64
	UID          string
	OriginalURL  string
	Status       Status
	OriginalFile *FileRef
	VariantFiles VariantFiles
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Files returns every stored blob the record references.
func (r *Record) Files() []FileRef {
	refs := r.VariantFiles.All()
	if r.OriginalFile != nil {
		refs = append(refs, *r.OriginalFile)
	}
	return refs
}

// StatusCounts aggregates record totals per status for the status endpoint.
type StatusCounts struct {
	Total    int
	ByStatus map[Status]int
}
