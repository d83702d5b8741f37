package graphorm

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

type scalars struct {
	S    string
	I    int
	I64  int64
	U    uint16
	F    float64
	B    bool
	T    time.Time
	P    *string
	Raw  []byte
	N    sql.NullString
	UUID uuid.UUID
}

func TestAssignValue(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		field string
		src   any
		want  any
	}{
		{"S", "x", "x"},
		{"S", []byte("bytes"), "bytes"},
		{"S", int64(3), "3"},
		{"I", int64(42), 42},
		{"I", "42", 42},
		{"I64", int64(-7), int64(-7)},
		{"U", []byte("9"), uint16(9)},
		{"F", 1.5, 1.5},
		{"F", "2.25", 2.25},
		{"B", int64(1), true},
		{"B", "false", false},
		{"B", true, true},
		{"T", ts, ts},
		{"T", "2024-05-01 10:30:00", ts},
		{"Raw", []byte{1, 2}, []byte{1, 2}},
		{"N", "v", sql.NullString{String: "v", Valid: true}},
		{"N", nil, sql.NullString{}},
		{"UUID", id.String(), id},
		{"I", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			var s scalars
			field := reflect.ValueOf(&s).Elem().FieldByName(tt.field)
			if err := assignValue(field, tt.src); err != nil {
				t.Fatalf("assignValue(%s, %v) failed: %v", tt.field, tt.src, err)
			}
			if got := field.Interface(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("assignValue(%s, %v) = %v, want %v", tt.field, tt.src, got, tt.want)
			}
		})
	}
}

func TestAssignValue_Pointer(t *testing.T) {
	var s scalars
	field := reflect.ValueOf(&s).Elem().FieldByName("P")

	if err := assignValue(field, "set"); err != nil {
		t.Fatal(err)
	}
	if s.P == nil || *s.P != "set" {
		t.Errorf("expected pointer to set, got %v", s.P)
	}

	if err := assignValue(field, nil); err != nil {
		t.Fatal(err)
	}
	if s.P != nil {
		t.Error("expected nil to clear the pointer")
	}
}

func TestAssignValue_Errors(t *testing.T) {
	var s scalars
	v := reflect.ValueOf(&s).Elem()

	if err := assignValue(v.FieldByName("I"), "abc"); err == nil {
		t.Error("expected a parse error")
	}
	if err := assignValue(v.FieldByName("T"), "yesterday"); err == nil {
		t.Error("expected a time parse error")
	}
	if err := assignValue(v.FieldByName("I"), struct{}{}); err == nil {
		t.Error("expected a conversion error")
	}
}

func TestLazy(t *testing.T) {
	ctx := context.Background()

	var empty Lazy[*Profile]
	got, err := empty.Get(ctx)
	if err != nil || got != nil || empty.Loaded() {
		t.Errorf("unbound lazy should be empty, got %v %v", got, err)
	}

	calls := 0
	var l Lazy[[]*Book]
	l.bind(func(context.Context) error {
		calls++
		l.assign(reflect.ValueOf([]*Book{{Title: "a"}}))
		return nil
	})

	if _, ok := l.Peek(); ok {
		t.Error("Peek should not report a pending value as loaded")
	}
	for i := 0; i < 2; i++ {
		books, err := l.Get(ctx)
		if err != nil || len(books) != 1 {
			t.Fatalf("unexpected Get result %v %v", books, err)
		}
	}
	if calls != 1 {
		t.Errorf("expected one load, got %d", calls)
	}

	failing := Lazy[*Profile]{}
	boom := errors.New("boom")
	failing.bind(func(context.Context) error { return boom })
	if _, err := failing.Get(ctx); !errors.Is(err, boom) {
		t.Errorf("expected load error, got %v", err)
	}
	if failing.Loaded() {
		t.Error("failed load should stay unloaded")
	}

	failing.Set(&Profile{Bio: "manual"})
	if p, ok := failing.Peek(); !ok || p.Bio != "manual" {
		t.Error("Set should replace a pending load")
	}
}
