package record

import (
	"reflect"
	"testing"
	"time"
)

func TestRecordRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	original := &Record{
		ID:           "12345678",
		IP:           "203.0.113.10",
		Type:         "g2-gpu-rtx4000a1-s",
		Region:       "us-east",
		Label:        "gpudeploy-demo",
		RootPassword: "Xy9#kLm2$Qw8@Zr4Vt6!Bn3p",
		CreatedAt:    time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}

	if err := store.Write(original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	loaded, err := store.Load("12345678")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !reflect.DeepEqual(original, loaded) {
		t.Errorf("round trip mismatch:\n wrote %+v\n read  %+v", original, loaded)
	}
}

func TestListAndDelete(t *testing.T) {
	store := NewStore(t.TempDir())

	for _, id := range []string{"1", "2"} {
		if err := store.Write(&Record{ID: id, Label: "inst-" + id, CreatedAt: time.Now().UTC()}); err != nil {
			t.Fatal(err)
		}
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(records))
	}

	if err := store.Delete("1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	records, err = store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != "2" {
		t.Errorf("after delete, records = %+v, want only id 2", records)
	}
}

func TestListEmptyStore(t *testing.T) {
	store := NewStore(t.TempDir())

	records, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if records != nil {
		t.Errorf("List() on empty store = %+v, want nil", records)
	}
}
