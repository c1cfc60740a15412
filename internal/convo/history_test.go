package convo

import "testing"

func TestHistoryRecentContext(t *testing.T) {
	h := NewHistory()
	h.AddUserMessage("one")
	h.AddAssistantMessage("two")
	h.AddUserMessage("three")

	got := h.RecentContext(2)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Content != "two" || got[0].Role != "assistant" {
		t.Fatalf("got[0] = %+v", got[0])
	}
	if got[1].Content != "three" || got[1].Role != "user" {
		t.Fatalf("got[1] = %+v", got[1])
	}

	if got := h.RecentContext(10); len(got) != 3 {
		t.Fatalf("oversized limit: len = %d", len(got))
	}
	if got := h.RecentContext(0); len(got) != 3 {
		t.Fatalf("zero limit: len = %d", len(got))
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory()
	h.AddUserMessage("hello")
	h.Clear()
	if h.Len() != 0 {
		t.Fatalf("len after clear = %d", h.Len())
	}
}

func TestHistoryAllIsACopy(t *testing.T) {
	h := NewHistory()
	h.AddUserMessage("hello")
	all := h.All()
	all[0].Content = "mutated"
	if h.All()[0].Content != "hello" {
		t.Fatal("All leaked internal storage")
	}
}
