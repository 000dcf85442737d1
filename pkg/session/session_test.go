package session

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestBeginTerminationSingleWinner(t *testing.T) {
	sess := New("CA1", "MZ1", "trace-1", "+15550001111", "intake")
	sess.Activate()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sess.BeginTermination() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
	if !sess.HangingUp() {
		t.Fatalf("expected hanging-up latch set")
	}
	if sess.State() != StateHangingUp {
		t.Fatalf("expected hanging_up state, got %s", sess.State())
	}
}

func TestRunTerminationRunsOnce(t *testing.T) {
	sess := New("CA1", "MZ1", "trace-1", "+15550001111", "intake")

	var runs atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.RunTermination(func() { runs.Add(1) })
		}()
	}
	wg.Wait()

	if runs.Load() != 1 {
		t.Fatalf("expected teardown to run once, ran %d times", runs.Load())
	}
}

func TestMarkTranscriptSentOnce(t *testing.T) {
	sess := New("CA1", "MZ1", "trace-1", "+15550001111", "intake")

	if !sess.MarkTranscriptSent() {
		t.Fatalf("expected first mark to win")
	}
	if sess.MarkTranscriptSent() {
		t.Fatalf("expected second mark to lose")
	}
	if !sess.TranscriptSent() {
		t.Fatalf("expected transcript-sent latch set")
	}
}

func TestClaimInvocationDedup(t *testing.T) {
	sess := New("CA1", "MZ1", "trace-1", "+15550001111", "intake")

	if !sess.ClaimInvocation("inv-1") {
		t.Fatalf("expected first claim to win")
	}
	if sess.ClaimInvocation("inv-1") {
		t.Fatalf("expected duplicate claim to lose")
	}
	if !sess.ClaimInvocation("inv-2") {
		t.Fatalf("expected distinct id to claim")
	}
	if !sess.ClaimInvocation("") {
		t.Fatalf("expected empty id to always pass")
	}
	if !sess.ClaimInvocation("") {
		t.Fatalf("expected empty id to always pass")
	}
}

func TestTranscriptAppendAndCopy(t *testing.T) {
	sess := New("CA1", "MZ1", "trace-1", "+15550001111", "intake")

	sess.AppendTranscript("agent", "Hello, how can I help?")
	sess.AppendTranscript("user", "I need to verify my policy.")
	sess.AppendTranscript("agent", "")

	lines := sess.Transcript()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Role != "agent" || lines[1].Role != "user" {
		t.Fatalf("unexpected roles: %+v", lines)
	}

	lines[0].Text = "mutated"
	if sess.Transcript()[0].Text != "Hello, how can I help?" {
		t.Fatalf("expected Transcript to return a copy")
	}
}

func TestStateLifecycle(t *testing.T) {
	sess := New("CA1", "MZ1", "trace-1", "+15550001111", "intake")
	if sess.State() != StateCreated {
		t.Fatalf("expected created, got %s", sess.State())
	}
	sess.Activate()
	if sess.State() != StateActive {
		t.Fatalf("expected active, got %s", sess.State())
	}
	sess.Close()
	if sess.State() != StateClosed {
		t.Fatalf("expected closed, got %s", sess.State())
	}
	if sess.EndedAt.IsZero() {
		t.Fatalf("expected EndedAt stamped")
	}
	ended := sess.EndedAt
	sess.Close()
	if !sess.EndedAt.Equal(ended) {
		t.Fatalf("expected second Close to keep EndedAt")
	}
}

func TestStageField(t *testing.T) {
	sess := New("CA1", "MZ1", "trace-1", "+15550001111", "intake")
	if sess.Stage() != "intake" {
		t.Fatalf("expected intake, got %q", sess.Stage())
	}
	sess.SetStage("main_convo")
	if sess.Stage() != "main_convo" {
		t.Fatalf("expected main_convo, got %q", sess.Stage())
	}
}
