package workspace

import "testing"

func TestRegistry_SyncReplacesWholeSet(t *testing.T) {
	r := New()
	r.Sync([]Snapshot{
		{ID: "w1", Name: "one", RepoRoot: "/repo1"},
		{ID: "w2", Name: "two", RepoRoot: "/repo2"},
	})
	if _, ok := r.Get("w1"); !ok {
		t.Fatalf("expected w1 to be present after first sync")
	}

	r.Sync([]Snapshot{{ID: "w3", Name: "three", RepoRoot: "/repo3"}})

	if _, ok := r.Get("w1"); ok {
		t.Errorf("expected w1 to be gone after second sync (whole-set replace)")
	}
	if _, ok := r.Get("w2"); ok {
		t.Errorf("expected w2 to be gone after second sync (whole-set replace)")
	}
	got, ok := r.Get("w3")
	if !ok {
		t.Fatalf("expected w3 to be present after second sync")
	}
	if got.Name != "three" {
		t.Errorf("Name = %q, want %q", got.Name, "three")
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	r := New()
	if _, ok := r.Get("missing"); ok {
		t.Errorf("expected ok=false for missing workspace id")
	}
}

func TestRegistry_List(t *testing.T) {
	r := New()
	r.Sync([]Snapshot{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	})
	got := r.List()
	if len(got) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(got))
	}
}

func TestRegistry_SyncDuplicateIDsLastWins(t *testing.T) {
	r := New()
	r.Sync([]Snapshot{
		{ID: "w1", Name: "first"},
		{ID: "w1", Name: "second"},
	})
	got, ok := r.Get("w1")
	if !ok {
		t.Fatalf("expected w1 to be present")
	}
	if got.Name != "second" {
		t.Errorf("Name = %q, want %q (later entry should win)", got.Name, "second")
	}
	if len(r.List()) != 1 {
		t.Errorf("List() length = %d, want 1", len(r.List()))
	}
}

func TestSnapshot_HasPanes(t *testing.T) {
	cases := []struct {
		name string
		s    Snapshot
		want bool
	}{
		{"no panes", Snapshot{}, false},
		{"empty slice", Snapshot{PaneIDs: []string{}}, false},
		{"one pane", Snapshot{PaneIDs: []string{"pane-1"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.s.HasPanes(); got != tc.want {
				t.Errorf("HasPanes() = %v, want %v", got, tc.want)
			}
		})
	}
}
