package spies

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/debriefhq/debrief/model"
)

func TestLoadProfilesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	profile := "id: spy-7\nname: Vera Cruz\ncodename: NIGHTSHADE\nspecialty: signals intelligence\n"
	if err := os.WriteFile(filepath.Join(dir, "spy-7.yaml"), []byte(profile), 0644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}

	r, err := NewRepository(dir)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}

	got, err := r.Resolve("spy-7")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Name != "Vera Cruz" || got.Codename != "NIGHTSHADE" {
		t.Errorf("unexpected profile: %+v", got)
	}
}

func TestProfileIDDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ghost.yaml"), []byte("name: The Ghost\n"), 0644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}

	r, err := NewRepository(dir)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	if _, err := r.Resolve("ghost"); err != nil {
		t.Errorf("expected profile keyed by filename, got %v", err)
	}
}

func TestResolveUnknownSpy(t *testing.T) {
	r, err := NewRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	if _, err := r.Resolve("spy-99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMissingDirectoryStartsEmpty(t *testing.T) {
	r, err := NewRepository(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	if got := r.List(); len(got) != 0 {
		t.Errorf("expected empty roster, got %d profiles", len(got))
	}
}

func TestMalformedProfileSkipped(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(":\n\t- nope"), 0644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "good.yaml"), []byte("id: good\nname: Fine\n"), 0644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}

	r, err := NewRepository(dir)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	if len(r.List()) != 1 {
		t.Errorf("expected malformed profile to be skipped, roster: %+v", r.List())
	}
}

func TestCreateAndDelete(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRepository(dir)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}

	created, err := r.Create(model.SpyProfile{Name: "New Recruit"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated ID")
	}

	// Persisted to disk, so a fresh repository sees it.
	r2, err := NewRepository(dir)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	if _, err := r2.Resolve(created.ID); err != nil {
		t.Errorf("created profile not persisted: %v", err)
	}

	if !r.Delete(created.ID) {
		t.Error("expected Delete to report the profile present")
	}
	if r.Delete(created.ID) {
		t.Error("expected second Delete to report the profile absent")
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	r, _ := NewRepository("")
	if _, err := r.Create(model.SpyProfile{ID: "dup"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := r.Create(model.SpyProfile{ID: "dup"}); err == nil {
		t.Error("expected duplicate Create to fail")
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	r, _ := NewRepository("")
	r.Seed(DefaultRoster())
	r.Seed(DefaultRoster())

	if got := len(r.List()); got != len(DefaultRoster()) {
		t.Errorf("expected %d profiles after double seed, got %d", len(DefaultRoster()), got)
	}
}

func TestSearchBySpecialty(t *testing.T) {
	r, _ := NewRepository("")
	r.Seed(DefaultRoster())

	got := r.SearchBySpecialty("Extraction")
	if len(got) != 1 || got[0].ID != "spy-12" {
		t.Errorf("unexpected search result: %+v", got)
	}
}

func TestUpdate(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRepository(dir)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	r.Seed(DefaultRoster())

	updated, err := r.Update(model.SpyProfile{
		ID:        "spy-7",
		Name:      "Vera Cruz",
		Codename:  "LANTERN",
		Specialty: "signals intelligence",
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Codename != "LANTERN" {
		t.Errorf("unexpected profile: %+v", updated)
	}

	got, err := r.Resolve("spy-7")
	if err != nil || got.Codename != "LANTERN" {
		t.Errorf("update not visible on Resolve: %+v (err %v)", got, err)
	}

	// The new profile survives a reload from disk.
	r2, err := NewRepository(dir)
	if err != nil {
		t.Fatalf("NewRepository reload failed: %v", err)
	}
	got, err = r2.Resolve("spy-7")
	if err != nil || got.Codename != "LANTERN" {
		t.Errorf("update not persisted: %+v (err %v)", got, err)
	}

	if _, err := r.Update(model.SpyProfile{ID: "spy-99"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown spy, got %v", err)
	}
}

func TestResolveByCodename(t *testing.T) {
	r, err := NewRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	r.Seed(DefaultRoster())

	got, err := r.ResolveByCodename("halcyon")
	if err != nil {
		t.Fatalf("ResolveByCodename failed: %v", err)
	}
	if got.ID != "spy-12" {
		t.Errorf("expected spy-12, got %+v", got)
	}

	if _, err := r.ResolveByCodename("SPECTER"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
