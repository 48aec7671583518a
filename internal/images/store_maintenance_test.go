package images

import "testing"

func recordIDs(records []*Record) []int64 {
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestPruneRecordsDropsOnlyMissed(t *testing.T) {
	batch := []*Record{{ID: 1}, {ID: 2}, {ID: 3}}

	got := pruneRecords(batch, map[int64]struct{}{1: {}})
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Fatalf("pruned batch = %v, want [2 3]", recordIDs(got))
	}

	got = pruneRecords(batch, map[int64]struct{}{1: {}, 3: {}})
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("pruned batch = %v, want [2]", recordIDs(got))
	}

	got = pruneRecords(batch, nil)
	if len(got) != 3 {
		t.Fatalf("pruned batch = %v, want all three", recordIDs(got))
	}

	// The input batch must survive intact; callers iterate it after pruning.
	if len(batch) != 3 || batch[0].ID != 1 || batch[1].ID != 2 || batch[2].ID != 3 {
		t.Fatalf("input batch mutated: %v", recordIDs(batch))
	}
}
