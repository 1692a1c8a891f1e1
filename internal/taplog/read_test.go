package taplog

import (
	"context"
	"testing"
)

func TestReadPagination(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, "", []byte{byte('a' + i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	frames, next, err := l.Read(ReadOptions{Limit: 2})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(frames) != 2 || frames[0].Seq != 1 || frames[1].Seq != 2 {
		t.Fatalf("unexpected first page: %+v", frames)
	}
	if next != 3 {
		t.Fatalf("want next=3, got %d", next)
	}

	frames, next, err = l.Read(ReadOptions{From: next, Limit: 10})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(frames) != 3 || frames[0].Seq != 3 || frames[2].Seq != 5 {
		t.Fatalf("unexpected second page: %+v", frames)
	}
	if next != 0 {
		t.Fatalf("want exhausted token, got %d", next)
	}
}

func TestReadFromMissingSeq(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	if _, err := l.Append(ctx, "", []byte("x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	frames, next, err := l.Read(ReadOptions{From: 99})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(frames) != 0 || next != 0 {
		t.Fatalf("want empty result, got %d frames next=%d", len(frames), next)
	}
}

func TestReadEmptyLog(t *testing.T) {
	l := newTestLog(t)
	frames, next, err := l.Read(ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(frames) != 0 || next != 0 {
		t.Fatalf("want empty result, got %d frames next=%d", len(frames), next)
	}
}
