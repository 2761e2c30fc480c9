package tinybase

import (
	"errors"
	"testing"
)

func setupPeople(t testing.TB) (*Table[person], *Index[string, person]) {
	t.Helper()
	store := openTestStore(t)
	tbl, err := OpenTable[person](store, "people")
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	lastName, err := CreateIndex(tbl, "last_name", func(p *person) string { return p.LastName }, false)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	return tbl, lastName
}

func TestIndexLookupOrderedByInsertion(t *testing.T) {
	tbl, lastName := setupPeople(t)

	id1, _ := tbl.Insert(person{Name: "John", LastName: "Smith", Age: 30})
	id2, _ := tbl.Insert(person{Name: "Bill", LastName: "Smith", Age: 40})
	id3, _ := tbl.Insert(person{Name: "Coraline", LastName: "Jones", Age: 25})
	_ = id3

	ids, err := lastName.Select("Smith")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	deepEqual(t, ids, []RecordId{id1, id2})

	ids, err = lastName.Select("Jones")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	deepEqual(t, ids, []RecordId{id3})

	ids, err = lastName.Select("Nobody")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	deepEqual(t, ids, []RecordId(nil))
}

func TestIndexNoCommonPrefixAmbiguity(t *testing.T) {
	tbl, lastName := setupPeople(t)

	idAb, _ := tbl.Insert(person{LastName: "Ab"})
	_, _ = tbl.Insert(person{LastName: "Abc"})

	ids, err := lastName.Select("Ab")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	deepEqual(t, ids, []RecordId{idAb})
}

func TestUniqueIndexRejectsDuplicateOnInsert(t *testing.T) {
	store := openTestStore(t)
	tbl, err := OpenTable[person](store, "people")
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	name, err := CreateIndex(tbl, "name", func(p *person) string { return p.Name }, true)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := tbl.Insert(person{Name: "John", LastName: "Smith"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := tbl.Insert(person{Name: "Bill", LastName: "Smith"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := tbl.Insert(person{Name: "Coraline", LastName: "Jones"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, err = tbl.Insert(person{Name: "John", LastName: "Doe"})
	var cv *ConstraintViolatedError
	if !errors.As(err, &cv) {
		t.Fatalf("Insert: got %v, want ConstraintViolatedError", err)
	}
	if cv.Kind != ConstraintUnique || cv.Name != "name" {
		t.Fatalf("got %+v, want unique violation on 'name'", cv)
	}

	stats, err := tbl.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	deepEqual(t, stats.Rows, 3)

	ids, err := name.Select("John")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	deepEqual(t, len(ids), 1)
}

func TestUniqueIndexAllowsNoOpRewriteOnUpdate(t *testing.T) {
	store := openTestStore(t)
	tbl, err := OpenTable[person](store, "people")
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	name, err := CreateIndex(tbl, "name", func(p *person) string { return p.Name }, true)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	id, err := tbl.Insert(person{Name: "John", Age: 30})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := tbl.Update(id, person{Name: "John", Age: 31}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	ids, err := name.Select("John")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	deepEqual(t, ids, []RecordId{id})
}

func TestIndexBackfillOnCreation(t *testing.T) {
	store := openTestStore(t)
	tbl, err := OpenTable[person](store, "people")
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	id1, _ := tbl.Insert(person{Name: "John", LastName: "Smith"})
	id2, _ := tbl.Insert(person{Name: "Bill", LastName: "Smith"})

	lastName, err := CreateIndex(tbl, "last_name", func(p *person) string { return p.LastName }, false)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	ids, err := lastName.Select("Smith")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	deepEqual(t, ids, []RecordId{id1, id2})
}

func TestIndexBackfillUniqueConflictFailsAtomically(t *testing.T) {
	store := openTestStore(t)
	tbl, err := OpenTable[person](store, "people")
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	tbl.Insert(person{Name: "John"})
	tbl.Insert(person{Name: "John"})

	_, err = CreateIndex(tbl, "name", func(p *person) string { return p.Name }, true)
	var cv *ConstraintViolatedError
	if !errors.As(err, &cv) {
		t.Fatalf("CreateIndex: got %v, want ConstraintViolatedError", err)
	}

	exists, err := store.treeExists("people_name")
	if err != nil {
		t.Fatalf("treeExists: %v", err)
	}
	if exists {
		s, err := (&Tree{store: store, name: "people_name"}).Stats()
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if s.KeyN != 0 {
			t.Fatalf("back-fill failure left %d partial entries visible", s.KeyN)
		}
	}
}

func TestIndexAlreadyExists(t *testing.T) {
	tbl, _ := setupPeople(t)
	_, err := CreateIndex(tbl, "last_name", func(p *person) string { return p.LastName }, false)
	var ae *IndexAlreadyExistsError
	if !errors.As(err, &ae) {
		t.Fatalf("CreateIndex: got %v, want IndexAlreadyExistsError", err)
	}
}

func TestUniqueConstraintPromotionVerifiesExistingData(t *testing.T) {
	store := openTestStore(t)
	tbl, err := OpenTable[person](store, "people")
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	name, err := CreateIndex(tbl, "name", func(p *person) string { return p.Name }, false)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	tbl.Insert(person{Name: "John"})
	tbl.Insert(person{Name: "John"})

	err = tbl.Constraint(Unique(name))
	var cv *ConstraintViolatedError
	if !errors.As(err, &cv) {
		t.Fatalf("Constraint: got %v, want ConstraintViolatedError", err)
	}
	if name.Unique() {
		t.Fatalf("index was promoted despite a conflict")
	}
}

func TestUniqueConstraintPromotionSucceedsOnCleanData(t *testing.T) {
	store := openTestStore(t)
	tbl, err := OpenTable[person](store, "people")
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	name, err := CreateIndex(tbl, "name", func(p *person) string { return p.Name }, false)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	id, _ := tbl.Insert(person{Name: "John"})

	if err := tbl.Constraint(Unique(name)); err != nil {
		t.Fatalf("Constraint: %v", err)
	}
	if !name.Unique() {
		t.Fatalf("index was not promoted")
	}

	ids, err := name.Select("John")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	deepEqual(t, ids, []RecordId{id})

	_, err = tbl.Insert(person{Name: "John"})
	var cv *ConstraintViolatedError
	if !errors.As(err, &cv) {
		t.Fatalf("Insert after promotion: got %v, want ConstraintViolatedError", err)
	}
}

func TestUniqueConstraintOnForeignIndexFails(t *testing.T) {
	store := openTestStore(t)
	tbl1, err := OpenTable[person](store, "people")
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	name, err := CreateIndex(tbl1, "name", func(p *person) string { return p.Name }, false)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	tbl2, err := OpenTable[person](store, "other_people")
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}

	err = tbl2.Constraint(Unique(name))
	var im *IndexMissingError
	if !errors.As(err, &im) {
		t.Fatalf("Constraint: got %v, want IndexMissingError", err)
	}
	if im.Table != "other_people" || im.Index != "name" {
		t.Fatalf("got %+v, want {other_people name}", im)
	}
	if name.Unique() {
		t.Fatalf("foreign index was promoted despite not being registered on the table")
	}
}

func TestDeleteClearsIndexEntry(t *testing.T) {
	tbl, lastName := setupPeople(t)
	id1, _ := tbl.Insert(person{Name: "John", LastName: "Smith"})
	id2, _ := tbl.Insert(person{Name: "Bill", LastName: "Smith"})

	if _, err := tbl.Delete(id2); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ids, err := lastName.Select("Smith")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	deepEqual(t, ids, []RecordId{id1})
}

func TestReopenAndRedeclareIndexReusesTree(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/store.db"

	store, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tbl, err := OpenTable[person](store, "people")
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	lastName, err := CreateIndex(tbl, "last_name", func(p *person) string { return p.LastName }, false)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	id1, _ := tbl.Insert(person{Name: "John", LastName: "Smith"})
	id2, _ := tbl.Insert(person{Name: "Bill", LastName: "Smith"})
	_, _ = tbl.Insert(person{Name: "Coraline", LastName: "Jones"})
	_, _ = tbl.Delete(id2)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = lastName

	store2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { store2.Close() })
	tbl2, err := OpenTable[person](store2, "people")
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	lastName2, err := CreateIndex(tbl2, "last_name", func(p *person) string { return p.LastName }, false)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	ids, err := lastName2.Select("Smith")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	deepEqual(t, ids, []RecordId{id1})
}
