package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Tyrowin/formsync/internal/form"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()

	st, err := OpenSQLite(filepath.Join(t.TempDir(), "forms.db"), 4, nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return st
}

func testDefinition() form.Definition {
	return form.Definition{
		Name: "Survey",
		Fields: []form.FieldDefinition{
			{Type: form.TypeDropdown, Label: "Color", Options: []string{"red", "blue"}, Order: 2},
			{Type: form.TypeText, Label: "Name", Order: 0, Required: true},
			{Type: form.TypeNumber, Label: "Age", Order: 1},
		},
	}
}

func TestSQLiteCreateAndGetForm(t *testing.T) {
	st := openTestSQLite(t)
	ctx := context.Background()

	created, err := st.CreateForm(ctx, testDefinition())
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	if created.ID == "" || created.ShareToken == "" || created.ID == created.ShareToken {
		t.Fatalf("unexpected identifiers: %+v", created)
	}

	got, err := st.GetForm(ctx, created.ShareToken)
	if err != nil {
		t.Fatalf("GetForm: %v", err)
	}
	if got.ID != created.ID || got.Name != "Survey" {
		t.Errorf("GetForm = %+v", got)
	}
	if len(got.Fields) != 3 {
		t.Fatalf("fields = %d, want 3", len(got.Fields))
	}

	wantLabels := []string{"Name", "Age", "Color"}
	for i, label := range wantLabels {
		if got.Fields[i].Label != label {
			t.Errorf("field %d label = %q, want %q", i, got.Fields[i].Label, label)
		}
	}
	if !got.Fields[0].Required {
		t.Error("required flag lost")
	}
	if opts := got.Fields[2].Options; len(opts) != 2 || opts[0] != "red" || opts[1] != "blue" {
		t.Errorf("dropdown options = %v", opts)
	}
	if got.Fields[0].Options == nil {
		t.Error("options should be an empty list, not nil")
	}
	if len(got.Response) != 0 {
		t.Errorf("new response document = %v, want empty", got.Response)
	}
}

func TestSQLiteResolveForm(t *testing.T) {
	st := openTestSQLite(t)
	ctx := context.Background()

	created, err := st.CreateForm(ctx, testDefinition())
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}

	formID, err := st.ResolveForm(ctx, created.ShareToken)
	if err != nil {
		t.Fatalf("ResolveForm: %v", err)
	}
	if formID != created.ID {
		t.Errorf("ResolveForm = %q, want %q", formID, created.ID)
	}

	if _, err := st.ResolveForm(ctx, "no-such-token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveForm(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := st.GetForm(ctx, "no-such-token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetForm(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteGetField(t *testing.T) {
	st := openTestSQLite(t)
	ctx := context.Background()

	created, err := st.CreateForm(ctx, testDefinition())
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	full, err := st.GetForm(ctx, created.ShareToken)
	if err != nil {
		t.Fatalf("GetForm: %v", err)
	}
	color := full.Fields[2]

	f, err := st.GetField(ctx, created.ID, color.ID)
	if err != nil {
		t.Fatalf("GetField: %v", err)
	}
	if f.Type != form.TypeDropdown || len(f.Options) != 2 {
		t.Errorf("GetField = %+v", f)
	}

	if _, err := st.GetField(ctx, created.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetField(missing) error = %v, want ErrNotFound", err)
	}

	other, err := st.CreateForm(ctx, testDefinition())
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	if _, err := st.GetField(ctx, other.ID, color.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetField across forms error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteMergeResponse(t *testing.T) {
	st := openTestSQLite(t)
	ctx := context.Background()

	created, err := st.CreateForm(ctx, testDefinition())
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}

	fieldA := "6f0d5c1e-0000-4000-8000-00000000000a"
	if err := st.MergeResponse(ctx, created.ID, fieldA, "red"); err != nil {
		t.Fatalf("MergeResponse: %v", err)
	}
	if err := st.MergeResponse(ctx, created.ID, "age", 42.0); err != nil {
		t.Fatalf("MergeResponse: %v", err)
	}
	if err := st.MergeResponse(ctx, created.ID, fieldA, "blue"); err != nil {
		t.Fatalf("MergeResponse overwrite: %v", err)
	}

	got, err := st.GetForm(ctx, created.ShareToken)
	if err != nil {
		t.Fatalf("GetForm: %v", err)
	}
	if got.Response[fieldA] != "blue" {
		t.Errorf("response[%s] = %v, want blue (last write wins)", fieldA, got.Response[fieldA])
	}
	if got.Response["age"] != 42.0 {
		t.Errorf("response[age] = %v (%T), want numeric 42", got.Response["age"], got.Response["age"])
	}

	if err := st.MergeResponse(ctx, "missing-form", "x", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("MergeResponse(missing form) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteConcurrentMerges(t *testing.T) {
	st := openTestSQLite(t)
	ctx := context.Background()

	created, err := st.CreateForm(ctx, testDefinition())
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := st.MergeResponse(ctx, created.ID, fmt.Sprintf("f%d", i), i); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent merge: %v", err)
	}

	got, err := st.GetForm(ctx, created.ShareToken)
	if err != nil {
		t.Fatalf("GetForm: %v", err)
	}
	if len(got.Response) != writers {
		t.Errorf("response has %d keys, want %d: %v", len(got.Response), writers, got.Response)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "oracle"}, nil); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
