package orchestrator

import "testing"

func TestContextStore_AppendAndFull(t *testing.T) {
	c := NewContextStore("persona")
	c.AppendUser("안녕")
	c.AppendAssistant("반가워.")

	full := c.Full()
	if len(full) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(full))
	}
	if full[0].Role != RoleUser || full[1].Role != RoleAssistant {
		t.Fatalf("unexpected roles: %+v", full)
	}
}

func TestContextStore_ToolLoopOrder(t *testing.T) {
	c := NewContextStore("")
	c.AppendUser("what time is it")
	c.AppendToolUse("call1", "get_time", "")
	c.AppendToolResult("call1", "get_time", "10:30")
	c.AppendAssistant("10시 반이야.")

	full := c.Full()
	wantRoles := []string{RoleUser, RoleToolUse, RoleToolResult, RoleAssistant}
	if len(full) != len(wantRoles) {
		t.Fatalf("expected %d messages, got %d", len(wantRoles), len(full))
	}
	for i, want := range wantRoles {
		if full[i].Role != want {
			t.Fatalf("message %d: expected role %s, got %s", i, want, full[i].Role)
		}
	}
}

func TestContextStore_WindowKeepsToolPairsIntact(t *testing.T) {
	c := NewContextStore("")
	c.AppendUser("turn1")
	c.AppendAssistant("reply1")

	c.AppendUser("turn2")
	c.AppendToolUse("call1", "get_time", "")
	c.AppendToolResult("call1", "get_time", "10:30")
	c.AppendAssistant("reply2")

	window := c.Window(1)
	if len(window) != 4 {
		t.Fatalf("expected 4 messages in last-1-turn window, got %d: %+v", len(window), window)
	}
	if window[0].Content != "turn2" {
		t.Fatalf("expected window to start at turn2, got %+v", window[0])
	}
	// No dangling tool_result: the tool_use must also be present.
	sawToolUse := false
	for _, m := range window {
		if m.Role == RoleToolUse {
			sawToolUse = true
		}
	}
	if !sawToolUse {
		t.Fatal("expected tool_use to be pulled into the window alongside its tool_result")
	}
}

func TestContextStore_WindowDropsOrphanedToolResult(t *testing.T) {
	c := &ContextStore{
		messages: []Message{
			{Role: RoleToolResult, ToolUseID: "orphan", Content: "stale"},
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		},
	}
	window := windowWellFormed(c.messages, 0)
	if len(window) != 2 {
		t.Fatalf("expected orphaned tool_result dropped, got %+v", window)
	}
	if window[0].Role != RoleUser {
		t.Fatalf("expected window to start at user message, got %+v", window[0])
	}
}

func TestContextStore_WindowAllWhenFewerTurnsThanN(t *testing.T) {
	c := NewContextStore("")
	c.AppendUser("only turn")
	c.AppendAssistant("only reply")

	window := c.Window(5)
	if len(window) != 2 {
		t.Fatalf("expected full 2-message log when n exceeds turn count, got %d", len(window))
	}
}

func TestContextStore_Clear(t *testing.T) {
	c := NewContextStore("persona")
	c.AppendUser("hi")
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty log after Clear, got %d", c.Len())
	}
}

func TestPromptBlocks_AssembleOrderAndDynamicLast(t *testing.T) {
	b := PromptBlocks{Persona: "persona", Retrieved: "retrieved", Dynamic: "dynamic"}
	got := b.Assemble()
	wantOrder := []string{"persona", "retrieved", "dynamic"}
	lastIdx := -1
	for _, w := range wantOrder {
		idx := indexOf(got, w)
		if idx == -1 {
			t.Fatalf("expected block %q to appear in assembled prompt %q", w, got)
		}
		if idx <= lastIdx {
			t.Fatalf("expected blocks in persona, retrieved, dynamic order; got %q", got)
		}
		lastIdx = idx
	}
}

func TestPromptBlocks_SkipsEmptyBlocks(t *testing.T) {
	b := PromptBlocks{Persona: "", Retrieved: "", Dynamic: "only this"}
	got := b.Assemble()
	if got != "only this" {
		t.Fatalf("expected empty blocks to be skipped, got %q", got)
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
