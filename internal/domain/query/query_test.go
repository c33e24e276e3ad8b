package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/fieldmate-ai/raggate/internal/domain"
)

func TestNew_Validation(t *testing.T) {
	_, err := New("", 10, "", "", "", false, false)
	if err == nil {
		t.Fatal("empty text must be rejected")
	}
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}

	_, err = New(strings.Repeat("a", MaxTextLength+1), 10, "", "", "", false, false)
	if err == nil {
		t.Fatal("over-long text must be rejected")
	}
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestNew_TopKDefaults(t *testing.T) {
	q, err := New("질문", 0, "", "", "", false, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if q.TopK() != DefaultTopK {
		t.Errorf("expected default topK %d, got %d", DefaultTopK, q.TopK())
	}

	q, err = New("질문", 9999, "", "", "", false, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if q.TopK() != MaxTopK {
		t.Errorf("expected topK clamped to %d, got %d", MaxTopK, q.TopK())
	}
}

func TestNew_CarriesOptions(t *testing.T) {
	q, err := New("질문", 5, "company", "notice", "regulation", true, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if q.Namespace() != "company" || q.Category() != "notice" || q.DocType() != "regulation" {
		t.Errorf("options lost: ns=%s cat=%s dt=%s", q.Namespace(), q.Category(), q.DocType())
	}
	if !q.SkipClarify() || !q.Stream() {
		t.Error("flags lost")
	}
}

func TestHash_StableAndOpaque(t *testing.T) {
	a := Hash("이번 달 정산 얼마야?")
	b := Hash("이번 달 정산 얼마야?")
	if a != b {
		t.Error("hash must be deterministic")
	}
	if a == Hash("다른 질문") {
		t.Error("different queries must hash differently")
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(a))
	}
	if strings.Contains(a, "정산") {
		t.Error("hash must not leak query content")
	}
}
