package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"faultline/internal/events"
	"faultline/internal/report"
)

func TestNewProgress(t *testing.T) {
	c := report.NewCollector()
	defer c.Close()

	progress := NewProgress(c, false)

	if progress.collector != c {
		t.Error("collector not assigned")
	}
	if progress.quiet {
		t.Error("quiet should be false")
	}
}

func TestNewProgress_Quiet(t *testing.T) {
	c := report.NewCollector()
	defer c.Close()

	progress := NewProgress(c, true)

	if !progress.quiet {
		t.Error("quiet should be true")
	}
}

func TestProgress_QuietMode(t *testing.T) {
	c := report.NewCollector()
	defer c.Close()

	progress := NewProgress(c, true) // quiet mode

	// Start and stop should not panic in quiet mode
	progress.Start()
	time.Sleep(10 * time.Millisecond)
	progress.Stop()
}

func TestProgress_DoubleStop(t *testing.T) {
	c := report.NewCollector()
	defer c.Close()

	progress := NewProgress(c, true)
	progress.Start()

	// Double stop should not panic
	progress.Stop()
	progress.Stop()
}

func TestProgress_StopWithoutStart(t *testing.T) {
	c := report.NewCollector()
	defer c.Close()

	progress := NewProgress(c, false)

	// Stop without start should not panic
	progress.Stop()
}

func TestProgress_Print(t *testing.T) {
	c := report.NewCollector()
	defer c.Close()

	var buf bytes.Buffer
	progress := NewProgress(c, false)
	progress.SetOutput(&buf)

	progress.Print("run 3f2a started (mutation, udp)")

	output := buf.String()

	// Should contain the escape sequence to clear line before message
	if !strings.Contains(output, "\033[K") {
		t.Error("expected output to contain line clear escape sequence")
	}

	// Should contain the message
	if !strings.Contains(output, "run 3f2a started (mutation, udp)") {
		t.Errorf("expected output to contain message, got: %q", output)
	}

	// Message should end with newline
	if !strings.Contains(output, "run 3f2a started (mutation, udp)\n") {
		t.Error("expected message to end with newline")
	}
}

func TestProgress_Print_QuietModeDoesNotPrint(t *testing.T) {
	c := report.NewCollector()
	defer c.Close()

	var buf bytes.Buffer
	progress := NewProgress(c, true) // quiet mode
	progress.SetOutput(&buf)

	progress.Print("run 3f2a started")

	output := buf.String()

	// In quiet mode, Print should not output
	if output != "" {
		t.Errorf("expected no output in quiet mode, got: %q", output)
	}
}

func TestProgress_Printf(t *testing.T) {
	c := report.NewCollector()
	defer c.Close()

	var buf bytes.Buffer
	progress := NewProgress(c, false)
	progress.SetOutput(&buf)

	progress.Printf("plan: %d ports x %d instances", 3, 2)

	output := buf.String()

	if !strings.Contains(output, "plan: 3 ports x 2 instances\n") {
		t.Errorf("expected formatted message, got: %q", output)
	}
}

func TestProgress_SetOutput(t *testing.T) {
	c := report.NewCollector()
	defer c.Close()

	var buf1, buf2 bytes.Buffer
	progress := NewProgress(c, false)

	progress.SetOutput(&buf1)
	progress.Print("message1")

	progress.SetOutput(&buf2)
	progress.Print("message2")

	if !strings.Contains(buf1.String(), "message1") {
		t.Error("expected message1 in buf1")
	}
	if !strings.Contains(buf2.String(), "message2") {
		t.Error("expected message2 in buf2")
	}
	if strings.Contains(buf1.String(), "message2") {
		t.Error("buf1 should not contain message2")
	}
}

func TestLine(t *testing.T) {
	line := Line(report.Totals{Runs: 3, Finished: 1, Sent: 90, Errors: 10}, 65*time.Second)

	if !strings.HasPrefix(line, "\r\033[K") {
		t.Errorf("line should start by clearing the terminal line: %q", line)
	}
	for _, want := range []string{"[01:05]", "Runs: 2 active", "Sent: 90", "Rate: 1.4/s", "Errors: 10 (10.0%)"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if strings.HasSuffix(line, "\n") {
		t.Error("status line must not end with a newline")
	}
}

func TestLine_NoTraffic(t *testing.T) {
	line := Line(report.Totals{}, 0)
	if !strings.Contains(line, "Rate: 0.0/s | Errors: 0 (0.0%)") {
		t.Errorf("unexpected zero line: %q", line)
	}
}

func TestProgress_PrintProgressReadsCollector(t *testing.T) {
	c := report.NewCollector()
	ev := events.Heartbeat(42, 0)
	ev.RunID = "run-1"
	c.Report(ev)
	c.Close()

	var buf bytes.Buffer
	progress := NewProgress(c, false)
	progress.SetOutput(&buf)
	progress.startTime = time.Now().Add(-2 * time.Second)
	progress.printProgress()

	if !strings.Contains(buf.String(), "Sent: 42") {
		t.Errorf("expected collector totals in output, got %q", buf.String())
	}
}
