package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

const (
	idA = "0102030405AB"
	idB = "AABBCCDDEEFF"
)

func TestRegistry_UpsertReplaces(t *testing.T) {
	reg := NewRegistry()

	created, err := reg.Upsert(idA, Status{"value": json.Number("1"), "hcho": json.Number("8")})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !created {
		t.Error("first Upsert() created = false, want true")
	}

	created, err = reg.Upsert(idA, Status{"value": json.Number("2")})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if created {
		t.Error("second Upsert() created = true, want false")
	}

	got, ok := reg.Get(idA)
	if !ok {
		t.Fatal("Get() ok = false")
	}
	if got["value"] != json.Number("2") {
		t.Errorf("value = %v, want 2", got["value"])
	}
	if _, present := got["hcho"]; present {
		t.Error("hcho survived a wholesale replace")
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}

func TestRegistry_UpsertInvalidID(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Upsert("nope", Status{}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Upsert(invalid) error = %v, want ErrInvalidID", err)
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d after rejected upsert", reg.Count())
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Get(idA); ok {
		t.Error("Get() on empty registry ok = true")
	}
	if _, err := reg.Entry(idA); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Entry() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_ReadsAreCopies(t *testing.T) {
	reg := NewRegistry()
	input := Status{"value": json.Number("5")}
	reg.Upsert(idA, input) //nolint:errcheck // valid id

	input["value"] = json.Number("6")
	got, _ := reg.Get(idA)
	if got["value"] != json.Number("5") {
		t.Errorf("caller mutation leaked into registry: %v", got["value"])
	}

	got["value"] = json.Number("7")
	snap := reg.Snapshot()
	snap[idA]["value"] = json.Number("8")

	again, _ := reg.Get(idA)
	if again["value"] != json.Number("5") {
		t.Errorf("read copy mutation leaked into registry: %v", again["value"])
	}
}

func TestRegistry_FirstOrAny(t *testing.T) {
	reg := NewRegistry()
	if _, _, ok := reg.FirstOrAny(); ok {
		t.Error("FirstOrAny() on empty registry ok = true")
	}

	reg.Upsert(idB, Status{"value": json.Number("1")}) //nolint:errcheck // valid id
	reg.Upsert(idA, Status{"value": json.Number("2")}) //nolint:errcheck // valid id

	id, status, ok := reg.FirstOrAny()
	if !ok {
		t.Fatal("FirstOrAny() ok = false")
	}
	if id != idB && id != idA {
		t.Errorf("FirstOrAny() id = %q, not a registered device", id)
	}
	if status == nil {
		t.Error("FirstOrAny() status = nil")
	}
}

func TestRegistry_EntriesAndIDs(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(idB, Status{}) //nolint:errcheck // valid id
	reg.Upsert(idA, Status{}) //nolint:errcheck // valid id
	reg.Upsert(idB, Status{}) //nolint:errcheck // valid id

	ids := reg.IDs()
	if len(ids) != 2 || ids[0] != idB || ids[1] != idA {
		t.Errorf("IDs() = %v, want [%s %s]", ids, idB, idA)
	}

	entries := reg.Entries()
	if len(entries) != 2 {
		t.Fatalf("Entries() len = %d, want 2", len(entries))
	}
	if entries[0].Updates != 2 {
		t.Errorf("entries[0].Updates = %d, want 2", entries[0].Updates)
	}
	if entries[0].UpdatedAt.IsZero() {
		t.Error("entries[0].UpdatedAt is zero")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("%012X", i%10)
				reg.Upsert(id, Status{"value": json.Number(fmt.Sprint(w))}) //nolint:errcheck // valid id
				reg.Get(id)
				reg.Snapshot()
			}
		}(w)
	}
	wg.Wait()

	if reg.Count() != 10 {
		t.Errorf("Count() = %d, want 10", reg.Count())
	}
}
