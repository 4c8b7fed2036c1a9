package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Test helpers
// =============================================================================

// isolate gives the test a private listener list and restores the level.
func isolate(t *testing.T, level LogLevel) {
	t.Helper()
	originalLevel := Level()
	originalListeners := listeners
	listeners = make([]chan LogEntry, 0)
	minLevel.Store(string(level))
	t.Cleanup(func() {
		minLevel.Store(string(originalLevel))
		listeners = originalListeners
	})
}

func receive(t *testing.T, ch chan LogEntry) LogEntry {
	t.Helper()
	select {
	case entry := <-ch:
		return entry
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Did not receive log entry")
		return LogEntry{}
	}
}

// =============================================================================
// Level tests
// =============================================================================

func TestLevelPriority_Ordering(t *testing.T) {
	if levelPriority(Debug) >= levelPriority(Info) {
		t.Error("Debug should be lower priority than Info")
	}
	if levelPriority(Info) >= levelPriority(Warn) {
		t.Error("Info should be lower priority than Warn")
	}
	if levelPriority(Warn) >= levelPriority(Error) {
		t.Error("Warn should be lower priority than Error")
	}
	if levelPriority(LogLevel("unknown")) != levelPriority(Info) {
		t.Error("Unknown levels should rank as Info")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{"debug", Debug, false},
		{"INFO", Info, false},
		{" Warn ", Warn, false},
		{"warning", Warn, false},
		{"error", Error, false},
		{"verbose", Info, true},
		{"", Info, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParseLevel(%q) = %s, want %s", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	isolate(t, Info)

	SetLevel("debug")
	if Level() != Debug {
		t.Errorf("Level() = %s, want DEBUG", Level())
	}

	SetLevel("nonsense")
	if Level() != Info {
		t.Errorf("Level() = %s, want INFO after unknown level", Level())
	}
}

// =============================================================================
// Subscribe/Unsubscribe tests
// =============================================================================

func TestSubscribe_MultipleSubscribers(t *testing.T) {
	isolate(t, Info)

	ch1 := Subscribe()
	ch2 := Subscribe()

	if len(listeners) != 2 {
		t.Errorf("Expected 2 listeners, got %d", len(listeners))
	}
	if ch1 == ch2 {
		t.Error("Each subscriber should get a unique channel")
	}
}

func TestUnsubscribe(t *testing.T) {
	isolate(t, Info)

	ch1 := Subscribe()
	ch2 := Subscribe()

	Unsubscribe(ch1)

	if len(listeners) != 1 {
		t.Fatalf("After unsubscribe, expected 1 listener, got %d", len(listeners))
	}
	if _, ok := <-ch1; ok {
		t.Error("Channel should be closed after unsubscribe")
	}
	if listeners[0] != ch2 {
		t.Error("Wrong listener was removed")
	}
}

func TestUnsubscribe_NotSubscribed(t *testing.T) {
	isolate(t, Info)

	// Should not panic when unsubscribing a channel that wasn't subscribed
	Unsubscribe(make(chan LogEntry, 1))

	if len(listeners) != 0 {
		t.Error("Listeners should remain empty")
	}
}

func TestBroadcast_DropsWhenFull(t *testing.T) {
	isolate(t, Info)

	ch := Subscribe()
	for i := 0; i < cap(ch); i++ {
		broadcast(LogEntry{Message: "fill"})
	}

	done := make(chan struct{})
	go func() {
		broadcast(LogEntry{Message: "overflow"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("broadcast() blocked when channel was full")
	}
	if len(ch) != cap(ch) {
		t.Errorf("channel holds %d entries, want %d", len(ch), cap(ch))
	}
}

// =============================================================================
// Log tests
// =============================================================================

func TestLog_Filtering(t *testing.T) {
	isolate(t, Info)
	ch := Subscribe()

	tests := []struct {
		name      string
		minLevel  LogLevel
		logLevel  LogLevel
		expectMsg bool
	}{
		{"debug at debug level", Debug, Debug, true},
		{"debug at info level", Info, Debug, false},
		{"info at info level", Info, Info, true},
		{"warn at info level", Info, Warn, true},
		{"warn at error level", Error, Warn, false},
		{"error at error level", Error, Error, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minLevel.Store(string(tt.minLevel))
			for len(ch) > 0 {
				<-ch
			}

			Log(tt.logLevel, "test message")

			select {
			case <-ch:
				if !tt.expectMsg {
					t.Error("Message should have been filtered")
				}
			case <-time.After(50 * time.Millisecond):
				if tt.expectMsg {
					t.Error("Message should have been received")
				}
			}
		})
	}
}

func TestLog_MessageFormatting(t *testing.T) {
	isolate(t, Debug)
	ch := Subscribe()

	Log(Info, "tick %d took %s", 3, "120ms")

	entry := receive(t, ch)
	if entry.Level != Info {
		t.Errorf("Level = %s, want INFO", entry.Level)
	}
	if entry.Message != "tick 3 took 120ms" {
		t.Errorf("Message = %q", entry.Message)
	}
	if _, err := time.Parse(time.RFC3339, entry.Timestamp); err != nil {
		t.Errorf("Timestamp %q is not RFC3339: %v", entry.Timestamp, err)
	}
}

func TestConvenienceFunctions(t *testing.T) {
	isolate(t, Debug)
	ch := Subscribe()

	tests := []struct {
		name  string
		logf  func(string, ...interface{})
		level LogLevel
	}{
		{"Debugf", Debugf, Debug},
		{"Infof", Infof, Info},
		{"Warnf", Warnf, Warn},
		{"Errorf", Errorf, Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.logf("%s message", tt.name)
			entry := receive(t, ch)
			if entry.Level != tt.level {
				t.Errorf("%s logged at %s, want %s", tt.name, entry.Level, tt.level)
			}
		})
	}
}

// =============================================================================
// Init tests
// =============================================================================

func TestInit_EmptyDirIsConsoleOnly(t *testing.T) {
	if err := Init(""); err != nil {
		t.Fatalf("Init(\"\") error = %v", err)
	}
	if GetLogDir() != "" {
		t.Errorf("GetLogDir() = %q, want empty", GetLogDir())
	}
}

func TestInit_CreatesDirectory(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "subdir", "logs")

	if err := Init(logDir); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()

	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		t.Error("Init() should create log directory")
	}
	if GetLogDir() != logDir {
		t.Errorf("GetLogDir() = %q, want %q", GetLogDir(), logDir)
	}
}

func TestInit_DirectoryIsAFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := Init(filepath.Join(path, "logs")); err == nil {
		t.Error("Init() should fail when the directory cannot be created")
	}
}

func TestClose_WithoutInit(t *testing.T) {
	if err := Close(); err != nil {
		t.Errorf("Close() without Init = %v, want nil", err)
	}
}

// =============================================================================
// Integration tests
// =============================================================================

func TestLog_WritesToFile(t *testing.T) {
	isolate(t, Debug)
	tmpDir := t.TempDir()

	if err := Init(tmpDir); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	uniqueMsg := "unique-test-message-12345"
	Infof("%s", uniqueMsg)

	if err := Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, FileName))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "[INFO] "+uniqueMsg) {
		t.Errorf("Log file should contain the logged message, got %q", content)
	}
}
