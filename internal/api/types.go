// Package api serves the HTTP surface: image submission, inspection,
// deletion, status counts, and Prometheus metrics.
package api

import (
	"time"

	"imageserver/internal/images"
	"imageserver/internal/storage"
)

// FileView is the external projection of one stored file.
type FileView struct {
	Disk     string `json:"disk"`
	Key      string `json:"key"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// ImageView is the external projection of one record. Pending variant
// bookkeeping is internal and never appears here.
type ImageView struct {
	ID           int64                          `json:"id"`
	UID          string                         `json:"uid"`
	OriginalURL  string                         `json:"original_url"`
	Status       string                         `json:"status"`
	LastError    string                         `json:"last_error,omitempty"`
	OriginalFile *FileView                      `json:"original_file,omitempty"`
	Variants     map[string]map[string]FileView `json:"variants,omitempty"`
	CreatedAt    time.Time                      `json:"created_at"`
	UpdatedAt    time.Time                      `json:"updated_at"`
}

// ImageListResponse wraps the list endpoint payload.
type ImageListResponse struct {
	Images []ImageView `json:"images"`
}

// StatusResponse reports record totals per status.
type StatusResponse struct {
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
}

// SubmitRequest is the body of an image submission.
type SubmitRequest struct {
	URL string `json:"url"`
}

func fileView(disks *storage.Set, ref images.FileRef) FileView {
	view := FileView{
		Disk:     ref.Disk,
		Key:      ref.Key,
		MimeType: ref.MimeType,
		Size:     ref.Size,
		Width:    ref.Width,
		Height:   ref.Height,
	}
	if disk, err := disks.ByName(ref.Disk); err == nil {
		view.URL = disk.URL(ref.Key)
	}
	return view
}

// FromRecord projects a record for external consumers.
func FromRecord(disks *storage.Set, rec *images.Record) ImageView {
	view := ImageView{
		ID:          rec.ID,
		UID:         rec.UID,
		OriginalURL: rec.OriginalURL,
		Status:      rec.Status.String(),
		LastError:   rec.LastError,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if rec.OriginalFile != nil {
		original := fileView(disks, *rec.OriginalFile)
		view.OriginalFile = &original
	}
	if len(rec.VariantFiles.Variants) > 0 {
		view.Variants = make(map[string]map[string]FileView, len(rec.VariantFiles.Variants))
		for name, byExt := range rec.VariantFiles.Variants {
			view.Variants[name] = make(map[string]FileView, len(byExt))
			for ext, ref := range byExt {
				view.Variants[name][ext] = fileView(disks, ref)
			}
		}
	}
	return view
}
