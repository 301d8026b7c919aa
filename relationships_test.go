package entkv

import (
	"errors"
	"testing"
)

func members(t testing.TB, drv Driver, key string) []string {
	t.Helper()
	ids, err := drv.GetSet(key)
	if err != nil {
		t.Fatalf("GetSet(%s) failed: %v", key, err)
	}
	return ids
}

func sortedIDs(t testing.TB, drv Driver, key string) []string {
	t.Helper()
	scored, err := drv.GetSorted(key)
	if err != nil {
		t.Fatalf("GetSorted(%s) failed: %v", key, err)
	}
	var ids []string
	for _, m := range scored {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestBidirectionalToOne(t *testing.T) {
	em, drv := setup(t)
	ann := &Author{ID: "1", Name: "ann"}
	a5 := &Article{ID: "5", Title: "five", Words: 100, Author: ann}
	flush(t, em, ann, a5)

	// Forward slot and mirrored inverse membership.
	fwd, ok, err := drv.GetValue("Article:5:author")
	if err != nil || !ok || fwd != "1" {
		t.Fatalf("forward slot = (%q, %v, %v), wanted (\"1\", true, nil)", fwd, ok, err)
	}
	deepEqual(t, members(t, drv, "Author:1:articles"), []string{"5"})

	qr, err := retrieve(t, em, "Author", "1").RelatedAll("articles")
	if err != nil {
		t.Fatalf("RelatedAll failed: %v", err)
	}
	if !qr.Contains("5") {
		t.Fatalf("Author(1).articles = %v, wanted to contain 5", qr.IDs())
	}

	ap, err := retrieve(t, em, "Article", "5").Related("author")
	if err != nil {
		t.Fatalf("Related failed: %v", err)
	}
	deepEqual(t, ap.Record().(*Author).Name, "ann")
}

func TestReassignToOne(t *testing.T) {
	em, drv := setup(t)
	ann := &Author{ID: "1", Name: "ann"}
	bob := &Author{ID: "2", Name: "bob"}
	a5 := &Article{ID: "5", Title: "five", Words: 100, Author: ann}
	flush(t, em, ann, bob, a5)

	p := retrieve(t, em, "Article", "5")
	if err := p.Set("author", bob); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	flush(t, em, p)

	deepEqual(t, members(t, drv, "Author:1:articles"), []string(nil))
	deepEqual(t, members(t, drv, "Author:2:articles"), []string{"5"})
	deepEqual(t, sortedIDs(t, drv, "Author:1:articles:Words"), []string(nil))
	deepEqual(t, sortedIDs(t, drv, "Author:2:articles:Words"), []string{"5"})
}

func TestClearToOneViaProxy(t *testing.T) {
	em, drv := setup(t)
	ann := &Author{ID: "1", Name: "ann"}
	a5 := &Article{ID: "5", Author: ann}
	flush(t, em, ann, a5)

	p := retrieve(t, em, "Article", "5")
	if err := p.Set("author", nil); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	flush(t, em, p)

	_, ok, err := drv.GetValue("Article:5:author")
	if err != nil || ok {
		t.Fatalf("forward slot still set (ok=%v, err=%v)", ok, err)
	}
	deepEqual(t, members(t, drv, "Author:1:articles"), []string(nil))
}

func TestToOneInverseExclusivity(t *testing.T) {
	em, drv := setup(t)
	a5 := &Article{ID: "5", Title: "five", Words: 100}
	ann := &Author{ID: "1", Name: "ann", Articles: []*Article{a5}}
	flush(t, em, a5, ann)

	fwd, ok, _ := drv.GetValue("Article:5:author")
	if !ok || fwd != "1" {
		t.Fatalf("inverse slot = (%q, %v), wanted (\"1\", true)", fwd, ok)
	}

	// A second owner claims the same article: the to-one inverse slot has
	// room for one owner only, so ann's forward edge must be broken.
	bob := &Author{ID: "2", Name: "bob", Articles: []*Article{a5}}
	flush(t, em, bob)

	fwd, ok, _ = drv.GetValue("Article:5:author")
	if !ok || fwd != "2" {
		t.Fatalf("inverse slot = (%q, %v), wanted (\"2\", true)", fwd, ok)
	}
	deepEqual(t, members(t, drv, "Author:1:articles"), []string(nil))
	deepEqual(t, members(t, drv, "Author:2:articles"), []string{"5"})
	deepEqual(t, sortedIDs(t, drv, "Author:1:articles:Words"), []string(nil))
	deepEqual(t, sortedIDs(t, drv, "Author:2:articles:Words"), []string{"5"})
}

func TestDeleteTearsDownRelationships(t *testing.T) {
	em, drv := setup(t)
	ann := &Author{ID: "1", Name: "ann"}
	bob := &Author{ID: "2", Name: "bob"}
	a5 := &Article{ID: "5", Title: "five", Words: 100, Author: ann}
	flush(t, em, ann, bob, a5)

	p := retrieve(t, em, "Article", "5")
	if err := p.Set("author", bob); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	flush(t, em, p)

	if err := em.Delete(p); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	deepEqual(t, members(t, drv, "Author:2:articles"), []string(nil))
	deepEqual(t, sortedIDs(t, drv, "Author:2:articles:Words"), []string(nil))
	if _, ok, _ := drv.GetValue("Article:5:author"); ok {
		t.Fatalf("forward slot survived deletion")
	}
}

func TestDirtyTrackingMinimality(t *testing.T) {
	em, drv := setup(t)
	ann := &Author{ID: "1", Name: "ann"}
	a5 := &Article{ID: "5", Author: ann}
	flush(t, em, ann, a5)

	p := retrieve(t, em, "Article", "5")
	drv.writes = 0
	flush(t, em, p)
	if drv.writes != 0 {
		t.Fatalf("re-flushing an unmodified proxy issued %d relationship writes, wanted 0", drv.writes)
	}
}

func TestDeltaIdempotence(t *testing.T) {
	em, drv := setup(t)
	a5 := &Article{ID: "5", Title: "five"}
	a6 := &Article{ID: "6", Title: "six"}
	tag := &Tag{ID: "go", Label: "Go", Articles: []*Article{a5, a6}}
	flush(t, em, a5, a6, tag)

	drv.writes = 0
	flush(t, em, &Tag{ID: "go", Label: "Go", Articles: []*Article{a5, a6}})
	if drv.writes != 0 {
		t.Fatalf("re-applying an identical member set issued %d relationship writes, wanted 0", drv.writes)
	}
	deepEqual(t, members(t, drv, "Tag:go:articles"), []string{"5", "6"})
	deepEqual(t, members(t, drv, "Article:5:tags"), []string{"go"})
	deepEqual(t, members(t, drv, "Article:6:tags"), []string{"go"})
}

func TestToManyDelta(t *testing.T) {
	em, drv := setup(t)
	a5 := &Article{ID: "5"}
	a6 := &Article{ID: "6"}
	a7 := &Article{ID: "7"}
	flush(t, em, a5, a6, a7, &Tag{ID: "go", Articles: []*Article{a5, a6}})

	p := retrieve(t, em, "Tag", "go")
	if err := p.Set("articles", []*Article{a6, a7}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	flush(t, em, p)

	deepEqual(t, members(t, drv, "Tag:go:articles"), []string{"6", "7"})
	deepEqual(t, members(t, drv, "Article:5:tags"), []string(nil))
	deepEqual(t, members(t, drv, "Article:6:tags"), []string{"go"})
	deepEqual(t, members(t, drv, "Article:7:tags"), []string{"go"})
}

func TestNewRecordDoesNotClearExistingEdges(t *testing.T) {
	em, drv := setup(t)
	ann := &Author{ID: "1", Name: "ann"}
	a5 := &Article{ID: "5", Author: ann}
	flush(t, em, ann, a5)

	// A brand-new record with an unset relationship inherits whatever the
	// other side already wrote; it must not clear the slot.
	flush(t, em, &Author{ID: "1", Name: "ann renamed"})
	deepEqual(t, members(t, drv, "Author:1:articles"), []string{"5"})

	// A proxy clearing the relationship explicitly does tear it down.
	p := retrieve(t, em, "Author", "1")
	if err := p.Set("articles", []*Article{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	flush(t, em, p)
	deepEqual(t, members(t, drv, "Author:1:articles"), []string(nil))
	if _, ok, _ := drv.GetValue("Article:5:author"); ok {
		t.Fatalf("inverse slot survived explicit clearing")
	}
}

func TestSortedIndexParity(t *testing.T) {
	em, drv := setup(t)
	a5 := &Article{ID: "5", Words: 300}
	a6 := &Article{ID: "6", Words: 100}
	a7 := &Article{ID: "7", Words: 200}
	ann := &Author{ID: "1", Articles: []*Article{a5, a6, a7}}
	flush(t, em, a5, a6, a7, ann)

	plain := members(t, drv, "Author:1:articles")
	sorted := sortedIDs(t, drv, "Author:1:articles:Words")
	if len(plain) != len(sorted) {
		t.Fatalf("parity violated: plain %v, sorted %v", plain, sorted)
	}
	deepEqual(t, sorted, []string{"6", "7", "5"}) // by ascending word count

	p := retrieve(t, em, "Author", "1")
	qr, err := p.RelatedRange("articles", "Words", 150, 400)
	if err != nil {
		t.Fatalf("RelatedRange failed: %v", err)
	}
	deepEqual(t, qr.IDs(), []string{"7", "5"})
}

func TestSortedScoreRefresh(t *testing.T) {
	em, drv := setup(t)
	a5 := &Article{ID: "5", Words: 300}
	a6 := &Article{ID: "6", Words: 100}
	ann := &Author{ID: "1", Articles: []*Article{a5, a6}}
	flush(t, em, a5, a6, ann)
	deepEqual(t, sortedIDs(t, drv, "Author:1:articles:Words"), []string{"6", "5"})

	// Same membership, changed score: the sorted index must be rebuilt.
	a6.Words = 900
	p := retrieve(t, em, "Author", "1")
	if err := p.Set("articles", []*Article{a5, a6}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	flush(t, em, p)
	deepEqual(t, sortedIDs(t, drv, "Author:1:articles:Words"), []string{"5", "6"})
}

func TestInvertRelationship(t *testing.T) {
	em, _ := setup(t)
	rm := em.Relationships()

	inv, err := rm.InvertRelationship(articleEntity.RelationshipNamed("author"))
	if err != nil {
		t.Fatalf("InvertRelationship failed: %v", err)
	}
	if inv.Name() != "articles" || inv.Kind() != RelToMany {
		t.Fatalf("inverse = %s (%v), wanted articles (to-many)", inv.Name(), inv.Kind())
	}

	t.Run("no inverse declared", func(t *testing.T) {
		scm := NewSchema()
		type Leaf struct {
			ID string `entkv:"id"`
		}
		type Node struct {
			ID   string `entkv:"id"`
			Leaf *Leaf
		}
		AddEntity[Leaf](scm, "Leaf")
		node := AddEntity[Node](scm, "Node", ToOne("leaf", "Leaf"))
		rm := NewRelationshipManager(scm, NewMemDriver(nil), nil)
		_, err := rm.InvertRelationship(node.RelationshipNamed("leaf"))
		if !errors.Is(err, ErrNoInverse) {
			t.Fatalf("InvertRelationship = %v, wanted ErrNoInverse", err)
		}
	})

	t.Run("inverse not found on target", func(t *testing.T) {
		scm := NewSchema()
		type Leaf struct {
			ID string `entkv:"id"`
		}
		type Node struct {
			ID   string `entkv:"id"`
			Leaf *Leaf
		}
		AddEntity[Leaf](scm, "Leaf")
		node := AddEntity[Node](scm, "Node", ToOne("leaf", "Leaf").Inverse("nodes"))
		rm := NewRelationshipManager(scm, NewMemDriver(nil), nil)
		_, err := rm.InvertRelationship(node.RelationshipNamed("leaf"))
		var ee *EntityError
		if !errors.As(err, &ee) {
			t.Fatalf("InvertRelationship = %v, wanted *EntityError", err)
		}
	})

	t.Run("unknown target entity", func(t *testing.T) {
		scm := NewSchema()
		type Node struct {
			ID   string `entkv:"id"`
			Next *Node
		}
		node := AddEntity[Node](scm, "Node", ToOne("next", "Ghost").Inverse("prev"))
		rm := NewRelationshipManager(scm, NewMemDriver(nil), nil)
		_, err := rm.InvertRelationship(node.RelationshipNamed("next"))
		var ee *EntityError
		if !errors.As(err, &ee) {
			t.Fatalf("InvertRelationship = %v, wanted *EntityError", err)
		}
	})
}

func TestManyToMany(t *testing.T) {
	em, drv := setup(t)
	a5 := &Article{ID: "5"}
	a6 := &Article{ID: "6"}
	gopher := &Tag{ID: "go", Label: "Go"}
	news := &Tag{ID: "news", Label: "News"}
	flush(t, em, a5, a6, gopher, news)

	p5 := retrieve(t, em, "Article", "5")
	if err := p5.Set("tags", []*Tag{gopher, news}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	p6 := retrieve(t, em, "Article", "6")
	if err := p6.Set("tags", []*Tag{gopher}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	flush(t, em, p5, p6)

	deepEqual(t, members(t, drv, "Tag:go:articles"), []string{"5", "6"})
	deepEqual(t, members(t, drv, "Tag:news:articles"), []string{"5"})
	deepEqual(t, members(t, drv, "Article:5:tags"), []string{"go", "news"})

	// Removing one side's membership only deltas the shared inverse set.
	if err := p5.Set("tags", []*Tag{news}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	flush(t, em, p5)
	deepEqual(t, members(t, drv, "Tag:go:articles"), []string{"6"})
	deepEqual(t, members(t, drv, "Tag:news:articles"), []string{"5"})
}
