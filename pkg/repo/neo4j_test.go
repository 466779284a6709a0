package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// --- Mock infrastructure ---

type mockResult struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }
func (m *mockResult) Err() error            { return m.err }

type mockRunner struct {
	result  *mockResult
	err     error
	cyphers []string
	params  []map[string]any
	modes   []neo4j.AccessMode
	closed  int
}

func (m *mockRunner) Run(_ context.Context, cypher string, params map[string]any) (Result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &mockResult{}, nil
	}
	return m.result, nil
}

func (m *mockRunner) Close(context.Context) error {
	m.closed++
	return nil
}

type item struct {
	ID   string
	Name string
}

func itemRecord(id, name string) *neo4j.Record {
	return &neo4j.Record{
		Values: []any{map[string]any{"id": id, "name": name}},
		Keys:   []string{"n"},
	}
}

func newTestRepo(r *mockRunner) *Neo4jRepo[item, string] {
	return NewNeo4jRepo[item, string](
		nil, "Item",
		func(e item) map[string]any { return map[string]any{"id": e.ID, "name": e.Name} },
		func(rec *neo4j.Record) (item, error) {
			m, ok := rec.Values[0].(map[string]any)
			if !ok {
				return item{}, errors.New("bad type")
			}
			return item{ID: m["id"].(string), Name: m["name"].(string)}, nil
		},
		WithSessionFactory[item, string](func(_ context.Context, mode neo4j.AccessMode) Runner {
			r.modes = append(r.modes, mode)
			return r
		}),
	)
}

// --- Tests ---

func TestDefaults(t *testing.T) {
	r := NewNeo4jRepo[item, string](nil, "Item", nil, nil)
	if r.idKey != "id" || r.label != "Item" {
		t.Fatalf("unexpected defaults %q %q", r.idKey, r.label)
	}
	r = NewNeo4jRepo[item, string](nil, "Item", nil, nil, WithIDKey[item, string]("product_id"))
	if r.idKey != "product_id" {
		t.Fatalf("idKey = %q", r.idKey)
	}
}

func TestGet(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{itemRecord("1", "Alice")}}}
	got, err := newTestRepo(r).Get(context.Background(), "1")
	if err != nil || got.Name != "Alice" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if r.modes[0] != neo4j.AccessModeRead || r.closed != 1 {
		t.Fatalf("expected one closed read session, modes=%v closed=%d", r.modes, r.closed)
	}
}

func TestGet_NotFound(t *testing.T) {
	_, err := newTestRepo(&mockRunner{}).Get(context.Background(), "x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_RunError(t *testing.T) {
	boom := errors.New("db down")
	_, err := newTestRepo(&mockRunner{err: boom}).Get(context.Background(), "x")
	if !errors.Is(err, boom) {
		t.Fatalf("expected db down, got %v", err)
	}
}

func TestExists(t *testing.T) {
	rec := &neo4j.Record{Values: []any{true}, Keys: []string{"found"}}
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{rec}}}
	ok, err := newTestRepo(r).Exists(context.Background(), "1")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if !strings.Contains(r.cyphers[0], "count(n) > 0") {
		t.Fatalf("unexpected cypher %q", r.cyphers[0])
	}
}

func TestList(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{itemRecord("1", "A"), itemRecord("2", "B")}}}
	items, err := newTestRepo(r).List(context.Background(), ListOpts{})
	if err != nil || len(items) != 2 {
		t.Fatalf("List = %v, %v", items, err)
	}
	if r.params[0]["limit"] != 100 {
		t.Fatalf("default limit not applied: %v", r.params[0])
	}
}

func TestList_DecodeError(t *testing.T) {
	bad := &neo4j.Record{Values: []any{"not a map"}, Keys: []string{"n"}}
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{bad}}}
	if _, err := newTestRepo(r).List(context.Background(), ListOpts{Limit: 10}); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{itemRecord("3", "C")}}}
	got, err := newTestRepo(r).Upsert(context.Background(), item{ID: "3", Name: "C"})
	if err != nil || got.ID != "3" {
		t.Fatalf("Upsert = %+v, %v", got, err)
	}
	if !strings.HasPrefix(r.cyphers[0], "MERGE (n:Item {id: $id})") {
		t.Fatalf("upsert must MERGE on the key, got %q", r.cyphers[0])
	}
	if r.params[0]["id"] != "3" || r.modes[0] != neo4j.AccessModeWrite {
		t.Fatalf("unexpected params %v modes %v", r.params[0], r.modes)
	}
}

func TestUpsert_NoRow(t *testing.T) {
	if _, err := newTestRepo(&mockRunner{}).Upsert(context.Background(), item{ID: "1"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDelete(t *testing.T) {
	r := &mockRunner{}
	if err := newTestRepo(r).Delete(context.Background(), "1"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.cyphers[0], "DETACH DELETE n") {
		t.Fatalf("unexpected cypher %q", r.cyphers[0])
	}
}

func TestExec_ResultError(t *testing.T) {
	boom := errors.New("constraint")
	r := &mockRunner{result: &mockResult{err: boom}}
	if err := newTestRepo(r).Exec(context.Background(), "RETURN 1", nil); !errors.Is(err, boom) {
		t.Fatalf("expected result error, got %v", err)
	}
}

type fakeDriver struct {
	neo4j.DriverWithContext
	cfg neo4j.SessionConfig
}

type fakeSession struct {
	neo4j.SessionWithContext
}

func (d *fakeDriver) NewSession(_ context.Context, cfg neo4j.SessionConfig) neo4j.SessionWithContext {
	d.cfg = cfg
	return &fakeSession{}
}

func TestSession_UsesDriver(t *testing.T) {
	fd := &fakeDriver{}
	r := NewNeo4jRepo[item, string](fd, "Item", nil, nil)
	sess := r.Session(context.Background(), neo4j.AccessModeWrite)
	if _, ok := sess.(*sessionAdapter); !ok {
		t.Fatalf("expected sessionAdapter, got %T", sess)
	}
	if fd.cfg.AccessMode != neo4j.AccessModeWrite {
		t.Fatalf("access mode = %v", fd.cfg.AccessMode)
	}
}
