package classify

import (
	"reflect"
	"testing"
)

func TestTechniquesFromTags(t *testing.T) {
	tags := []string{
		"attack.t1110",
		"attack.t1110.001",
		"attack.credential_access",
		"cve.2021.44228",
		" ATTACK.T1059 ",
	}

	got := techniquesFromTags(tags)
	want := []string{"T1110", "T1110.001", "T1059"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestTechniquesFromTagsEmpty(t *testing.T) {
	if got := techniquesFromTags(nil); got != nil {
		t.Fatalf("expected nil for no tags, got %v", got)
	}
	if got := techniquesFromTags([]string{"attack.persistence"}); got != nil {
		t.Fatalf("tactic tags are not techniques, got %v", got)
	}
}
