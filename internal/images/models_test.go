package images

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestVariantFilesJSONSplitsPendingFromVariants(t *testing.T) {
	files := VariantFiles{
		Pending: []FileRef{
			{Disk: "variants", Key: "aa/bb/cc/base_600x600wh.jpg"},
			{Disk: "variants", Key: "aa/bb/cc/base_600x600wh.png"},
		},
	}
	files.Set("600x600wh", "jpg", FileRef{
		Disk: "variants", Key: "aa/bb/cc/base_600x600wh.jpg",
		MimeType: "image/jpeg", Size: 1024, Width: 600, Height: 600,
	})

	data, err := json.Marshal(files)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("unmarshal flat: %v", err)
	}
	if _, ok := flat[pendingKey]; !ok {
		t.Fatalf("serialized form lacks %s key: %s", pendingKey, data)
	}
	if _, ok := flat["600x600wh"]; !ok {
		t.Fatalf("serialized form lacks variant key: %s", data)
	}

	var decoded VariantFiles
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(decoded.Pending, files.Pending) {
		t.Fatalf("pending mismatch: %+v", decoded.Pending)
	}
	if !reflect.DeepEqual(decoded.Variants, files.Variants) {
		t.Fatalf("variants mismatch: %+v", decoded.Variants)
	}
}

func TestVariantFilesEmpty(t *testing.T) {
	var files VariantFiles
	if !files.Empty() {
		t.Fatal("zero value should be empty")
	}
	files.Pending = []FileRef{{Disk: "variants", Key: "k"}}
	if files.Empty() {
		t.Fatal("pending entries count as non-empty")
	}
}

func TestRecordFilesIncludesPendingAndOriginal(t *testing.T) {
	rec := Record{
		OriginalFile: &FileRef{Disk: "downloaded", Key: "orig"},
	}
	rec.VariantFiles.Pending = []FileRef{{Disk: "variants", Key: "planned"}}
	rec.VariantFiles.Set("150x150wh", "png", FileRef{Disk: "variants", Key: "small"})

	keys := make(map[string]bool)
	for _, ref := range rec.Files() {
		keys[ref.Key] = true
	}
	for _, want := range []string{"orig", "planned", "small"} {
		if !keys[want] {
			t.Fatalf("Files() missing %q: %v", want, keys)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("generating_variants"); err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if _, err := ParseStatus("bogus"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestStatusClassification(t *testing.T) {
	for _, status := range []Status{StatusQueued, StatusDownloading, StatusDownloaded, StatusGeneratingVariants} {
		if !status.IsProcessing() {
			t.Fatalf("%s should be processing", status)
		}
		if status.IsTerminal() {
			t.Fatalf("%s should not be terminal", status)
		}
	}
	for _, status := range []Status{StatusDone, StatusFailed, StatusExpired} {
		if status.IsProcessing() {
			t.Fatalf("%s should not be processing", status)
		}
		if !status.IsTerminal() {
			t.Fatalf("%s should be terminal", status)
		}
	}
}
