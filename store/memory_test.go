package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/debriefhq/debrief/model"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	s := NewMemoryStore()

	conv, err := s.Create("spy-7")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("expected non-empty conversation ID")
	}
	if conv.SpyID != "spy-7" {
		t.Errorf("expected spy-7, got %s", conv.SpyID)
	}

	got, err := s.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != conv.ID || len(got.Messages) != 0 {
		t.Errorf("unexpected conversation: %+v", got)
	}
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Append("missing", model.NewUserMessage("hi")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on append, got %v", err)
	}
}

func TestMemoryStoreGetOrCreateReturnsSameConversation(t *testing.T) {
	s := NewMemoryStore()

	first, err := s.GetOrCreateForSpy("spy-7")
	if err != nil {
		t.Fatalf("GetOrCreateForSpy failed: %v", err)
	}
	if err := s.Append(first.ID, model.NewUserMessage("hello")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	second, err := s.GetOrCreateForSpy("spy-7")
	if err != nil {
		t.Fatalf("second GetOrCreateForSpy failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same conversation %s, got %s", first.ID, second.ID)
	}
	if len(second.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(second.Messages))
	}
}

func TestMemoryStoreGetOrCreateConcurrent(t *testing.T) {
	s := NewMemoryStore()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			conv, err := s.GetOrCreateForSpy("spy-7")
			if err != nil {
				t.Errorf("GetOrCreateForSpy failed: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent get-or-create produced different conversations: %s vs %s", ids[0], ids[i])
		}
	}

	convs, err := s.ListBySpy("spy-7")
	if err != nil {
		t.Fatalf("ListBySpy failed: %v", err)
	}
	if len(convs) != 1 {
		t.Errorf("expected exactly 1 conversation, got %d", len(convs))
	}
}

func TestMemoryStoreConcurrentAppendsNoLostWrites(t *testing.T) {
	s := NewMemoryStore()
	conv, err := s.Create("spy-7")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				msg := model.NewUserMessage(fmt.Sprintf("writer-%d-msg-%d", w, i))
				if err := s.Append(conv.ID, msg); err != nil {
					t.Errorf("Append failed: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	got, err := s.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Messages) != writers*perWriter {
		t.Errorf("lost writes: expected %d messages, got %d", writers*perWriter, len(got.Messages))
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore()
	conv, _ := s.Create("spy-7")

	ok, err := s.Delete(conv.ID)
	if err != nil || !ok {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = s.Delete(conv.ID)
	if err != nil || ok {
		t.Fatalf("second Delete = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestMemoryStoreListPagination(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		if _, err := s.Create(fmt.Sprintf("spy-%d", i)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	page, err := s.List(0, 3)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page) != 3 {
		t.Errorf("expected 3 conversations, got %d", len(page))
	}

	rest, err := s.List(3, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("expected 2 conversations, got %d", len(rest))
	}

	empty, err := s.List(10, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty page, got %d", len(empty))
	}
}
