package mapper

import (
	"testing"
)

func TestChangeLog(t *testing.T) {
	l := &changeLog{}
	for _, f := range []string{"a", "b", "c"} {
		l.add(ChangeRecord{Kind: ChangeSet, Field: f})
	}
	drained := l.drain()
	if len(drained) != 3 || drained[0].Field != "c" || drained[2].Field != "a" {
		t.Fatalf("drain() = %+v", drained)
	}
	if len(l.snapshot()) != 0 {
		t.Fatal("drain() left records")
	}
	l.add(ChangeRecord{Kind: ChangeSet, Field: "d"})
	l.restore([]ChangeRecord{{Field: "a"}, {Field: "b"}})
	var got []string
	for _, r := range l.snapshot() {
		got = append(got, r.Field)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "d" {
		t.Errorf("restore() = %v", got)
	}
}

func TestChangeTarget(t *testing.T) {
	set := ChangeRecord{Kind: ChangeSet, Field: "street"}
	inArray := ChangeRecord{Kind: ChangeSetInArray, Field: "street", Container: "addresses", OwnerID: "a1"}
	other := ChangeRecord{Kind: ChangeSetInArray, Field: "street", Container: "addresses", OwnerID: "a2"}
	if set.target() == inArray.target() || inArray.target() == other.target() {
		t.Error("distinct paths share a target")
	}
	if inArray.target() != (ChangeRecord{Kind: ChangeSetInArray, Field: "street", Container: "addresses", OwnerID: "a1"}).target() {
		t.Error("same path has distinct targets")
	}
	if ChangePushLinked.String() != "pushLinked" {
		t.Errorf("String() = %q", ChangePushLinked.String())
	}
}
