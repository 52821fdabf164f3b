package persistence

import (
	"os"
	"testing"
	"time"
)

func TestConversationLogWriteAndReadDay(t *testing.T) {
	dir := t.TempDir()
	log, err := NewConversationLog(dir)
	if err != nil {
		t.Fatalf("NewConversationLog: %v", err)
	}
	defer log.Close()

	now := time.Now()
	rec := TurnRecord{SessionID: "s1", Role: "user", Content: "hello", Timestamp: now}
	if err := log.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := log.Write(TurnRecord{SessionID: "s1", Role: "assistant", Content: "hi there", Timestamp: now}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	records, err := ReadDay(dir, now)
	if err != nil {
		t.Fatalf("ReadDay: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Content != "hello" || records[1].Content != "hi there" {
		t.Errorf("unexpected record contents: %+v", records)
	}
}

func TestReadDayMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	records, err := ReadDay(dir, time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("ReadDay: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty slice, got %d records", len(records))
	}
}

func TestConversationLogRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	log, err := NewConversationLog(dir)
	if err != nil {
		t.Fatalf("NewConversationLog: %v", err)
	}
	defer log.Close()

	yesterday := time.Now().AddDate(0, 0, -1)
	today := time.Now()

	if err := log.Write(TurnRecord{SessionID: "s1", Role: "user", Content: "old", Timestamp: yesterday}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := log.Write(TurnRecord{SessionID: "s1", Role: "user", Content: "new", Timestamp: today}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 daily files after a day rollover, got %d", len(entries))
	}

	oldRecords, err := ReadDay(dir, yesterday)
	if err != nil {
		t.Fatalf("ReadDay(yesterday): %v", err)
	}
	if len(oldRecords) != 1 || oldRecords[0].Content != "old" {
		t.Errorf("unexpected yesterday records: %+v", oldRecords)
	}
}
