package document

import (
	"testing"
	"time"
)

func TestIdentityFor(t *testing.T) {
	id1, err := IdentityFor("testdata/../testdata/notes.md")
	if err != nil {
		t.Fatalf("IdentityFor() error = %v", err)
	}
	id2, err := IdentityFor("testdata/notes.md")
	if err != nil {
		t.Fatalf("IdentityFor() error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("equivalent paths produced different identities: %q vs %q", id1, id2)
	}
}

func TestDocumentDirtyTracking(t *testing.T) {
	doc := New("id", "hello", time.Now())

	if doc.IsDirty() {
		t.Error("new document should be clean")
	}

	if changed := doc.SetContent("hello world"); !changed {
		t.Error("SetContent() should report dirty flip on first edit")
	}
	if !doc.IsDirty() {
		t.Error("document should be dirty after edit")
	}

	// A second edit does not flip the flag again.
	if changed := doc.SetContent("hello world!"); changed {
		t.Error("SetContent() should not report a flip while already dirty")
	}

	// Editing back to the saved content makes it clean again.
	if changed := doc.SetContent("hello"); !changed {
		t.Error("SetContent() should report flip when content matches saved state")
	}
	if doc.IsDirty() {
		t.Error("document should be clean after undoing the edit")
	}
}

func TestDocumentMarkSaved(t *testing.T) {
	doc := New("id", "a", time.Now())
	doc.SetContent("b")

	saveTime := time.Now().Add(time.Second)
	doc.MarkSaved(saveTime)

	if doc.IsDirty() {
		t.Error("document should be clean after save")
	}
	if !doc.LastModified().Equal(saveTime) {
		t.Errorf("LastModified() = %v, want %v", doc.LastModified(), saveTime)
	}
}

func TestDocumentReload(t *testing.T) {
	doc := New("id", "a", time.Now())
	v0 := doc.Version()

	newTime := time.Now().Add(time.Minute)
	if !doc.Reload("b", newTime) {
		t.Fatal("Reload() with new content should report change")
	}
	if doc.Content() != "b" {
		t.Errorf("Content() = %q, want %q", doc.Content(), "b")
	}
	if doc.IsDirty() {
		t.Error("reloaded document should be clean")
	}
	if doc.Version() <= v0 {
		t.Error("Reload() should bump the version")
	}

	// Reloading identical content is a no-op.
	if doc.Reload("b", newTime.Add(time.Second)) {
		t.Error("Reload() with identical content should report no change")
	}
}

func TestDocumentHasExternalChange(t *testing.T) {
	base := time.Now()
	doc := New("id", "a", base)

	if doc.HasExternalChange(base) {
		t.Error("same mod time is not an external change")
	}
	if !doc.HasExternalChange(base.Add(time.Second)) {
		t.Error("newer disk mod time is an external change")
	}
}

func TestViewStateClone(t *testing.T) {
	v := ViewState{
		Cursor:       Position{Line: 3, Column: 7},
		ScrollOffset: 42.5,
		Selections: []Range{
			{Start: Position{Line: 1}, End: Position{Line: 2}},
		},
	}

	c := v.Clone()
	c.Selections[0].Start.Line = 99

	if v.Selections[0].Start.Line != 1 {
		t.Error("Clone() should deep-copy selections")
	}
	if c.Cursor != v.Cursor || c.ScrollOffset != v.ScrollOffset {
		t.Error("Clone() should copy scalar fields")
	}
}
