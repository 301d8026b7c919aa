package entkv

import "testing"

func TestDiffStrings(t *testing.T) {
	tests := []struct {
		old, new       []string
		removed, added []string
	}{
		{nil, nil, nil, nil},
		{[]string{"a"}, []string{"a"}, nil, nil},
		{[]string{"a", "b"}, []string{"b", "c"}, []string{"a"}, []string{"c"}},
		{[]string{"a", "b"}, nil, []string{"a", "b"}, nil},
		{nil, []string{"z", "a"}, nil, []string{"a", "z"}},
		{[]string{"a", "a", "b"}, []string{"b", "b"}, []string{"a", "a"}, nil},
		{[]string{"b", "a"}, []string{"a", "b"}, nil, nil},
	}
	for _, test := range tests {
		removed, added := diffStrings(test.old, test.new)
		deepEqual(t, removed, test.removed)
		deepEqual(t, added, test.added)
	}
}

func TestSameStringSet(t *testing.T) {
	if !sameStringSet([]string{"a", "b"}, []string{"b", "a"}) {
		t.Fatalf("sameStringSet ignored order incorrectly")
	}
	if sameStringSet([]string{"a"}, []string{"a", "b"}) {
		t.Fatalf("sameStringSet = true for different sets")
	}
	if !sameStringSet(nil, nil) {
		t.Fatalf("sameStringSet(nil, nil) = false")
	}
}
