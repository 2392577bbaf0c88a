package audit

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseLiteral_StringIntTuple(t *testing.T) {
	v, ok := ParseLiteral(`('/tmp/install.log','w',524865)`)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	want := Tuple{Str("/tmp/install.log"), Str("w"), Int(524865)}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("got %#v, want %#v", v, want)
	}
}

func TestParseLiteral_NestedTupleWithSentinel(t *testing.T) {
	v, ok := ParseLiteral(`(<socket>,('pypi.org',443))`)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	want := Tuple{Other("<socket>"), Tuple{Str("pypi.org"), Int(443)}}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("got %#v, want %#v", v, want)
	}
}

func TestParseLiteral_InvalidFallsBack(t *testing.T) {
	if _, ok := ParseLiteral(`not a literal at all ((`); ok {
		t.Fatal("expected parse failure for malformed input")
	}
}

func TestParseLiteral_SingleElementTupleWithTrailingComma(t *testing.T) {
	v, ok := ParseLiteral(`(1,)`)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if !reflect.DeepEqual(v, Tuple{Int(1)}) {
		t.Errorf("got %#v", v)
	}
}

func TestClassifyFileEvent_OpenWriteMode(t *testing.T) {
	rec, ok := ParseLine(`{"event":"open","args":"('/tmp/install.log','w',524865)"}`)
	if !ok {
		t.Fatal("expected line to parse")
	}
	path, isWrite, ok := ClassifyFileEvent(rec)
	if !ok || path != "/tmp/install.log" || !isWrite {
		t.Errorf("got path=%q isWrite=%v ok=%v", path, isWrite, ok)
	}
}

func TestClassifyFileEvent_OpenReadMode(t *testing.T) {
	rec, _ := ParseLine(`{"event":"open","args":"('/etc/hosts','r')"}`)
	path, isWrite, ok := ClassifyFileEvent(rec)
	if !ok || path != "/etc/hosts" || isWrite {
		t.Errorf("got path=%q isWrite=%v ok=%v", path, isWrite, ok)
	}
}

func TestClassifyFileEvent_OsOpenFlags(t *testing.T) {
	// O_WRONLY(1) | O_CREAT(64) | O_TRUNC(512) = 577
	rec, _ := ParseLine(`{"event":"os.open","args":"('/tmp/output.txt',577,420)"}`)
	path, isWrite, ok := ClassifyFileEvent(rec)
	if !ok || path != "/tmp/output.txt" || !isWrite {
		t.Errorf("got path=%q isWrite=%v ok=%v", path, isWrite, ok)
	}
}

func TestNetworkEndpoint_HostPortPair(t *testing.T) {
	rec, _ := ParseLine(`{"event":"socket.connect","args":"(<socket>,('pypi.org',443))"}`)
	ep, ok := NetworkEndpoint(rec)
	if !ok || ep != "connect pypi.org:443" {
		t.Errorf("got %q ok=%v", ep, ok)
	}
}

func TestNetworkEndpoint_URLDefaultsPort(t *testing.T) {
	rec, _ := ParseLine(`{"event":"http.client.urlopen","args":"('https://example.com/path',)"}`)
	ep, ok := NetworkEndpoint(rec)
	if !ok || ep != "network example.com:443" {
		t.Errorf("got %q ok=%v", ep, ok)
	}
}

func TestNetworkEndpoint_DNSLookup(t *testing.T) {
	rec, _ := ParseLine(`{"event":"socket.getaddrinfo","args":"('pypi.org',443)"}`)
	ep, ok := NetworkEndpoint(rec)
	if !ok || ep != "dns pypi.org" {
		t.Errorf("got %q ok=%v", ep, ok)
	}
}

func TestNetworkEndpoint_AF_INET_NotHostlike(t *testing.T) {
	rec, _ := ParseLine(`{"event":"socket.socket","args":"(AF_INET,1)"}`)
	if _, ok := NetworkEndpoint(rec); ok {
		t.Fatal("AF_INET is not hostlike, expected no endpoint")
	}
}

func TestIsSubprocessEvent(t *testing.T) {
	for _, event := range []string{"subprocess.Popen", "subprocess.run", "os.system", "os.execve", "os.posix_spawn", "os.spawnve"} {
		if !IsSubprocessEvent(event) {
			t.Errorf("expected %q to be a subprocess event", event)
		}
	}
	if IsSubprocessEvent("open") {
		t.Error("open must not be classified as subprocess")
	}
}

func TestSubprocessCommand_ListArgsJoinedAndCapped(t *testing.T) {
	rec, _ := ParseLine(`{"event":"subprocess.Popen","args":"(['python3','-c','print(1)','extra1','extra2','extra3','extra4','extra5','extra6'],)"}`)
	cmd, ok := SubprocessCommand(rec)
	if !ok {
		t.Fatal("expected a command")
	}
	if cmd == "" {
		t.Fatal("expected non-empty command")
	}
	// only first 8 elements are retained, so "extra6" (the 9th) must be absent
	if containsAll(cmd, "extra6") {
		t.Errorf("expected 9th argv element to be dropped, got %q", cmd)
	}
}

func containsAll(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestMiddleTruncate_Boundaries(t *testing.T) {
	if got := MiddleTruncate("", 350); got != "" {
		t.Errorf("empty string must stay empty, got %q", got)
	}
	short := "short string"
	if got := MiddleTruncate(short, 350); got != short {
		t.Errorf("string under cap must be unchanged, got %q", got)
	}
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	got := MiddleTruncate(string(long), 350)
	if len(got) > 350 {
		t.Errorf("truncated length = %d, want <= 350", len(got))
	}
	if got == string(long) {
		t.Error("expected truncation to actually shorten the string")
	}
}

func TestOrderedSet_DeduplicatesPreservesOrderAndCaps(t *testing.T) {
	s := NewOrderedSet(2)
	s.Add("a")
	s.Add("b")
	s.Add("a") // duplicate: no reorder, no growth
	if got := s.Items(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("got %v, want [a b]", got)
	}
	s.Add("c") // over capacity: evict oldest ("a")
	if got := s.Items(); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("got %v, want [b c]", got)
	}
}

func TestTopEvents_SortsByCountThenName(t *testing.T) {
	counts := map[string]int{"open": 3, "connect": 3, "listen": 1}
	rows := TopEvents(counts, 25)
	want := []EventCount{{"connect", 3}, {"open", 3}, {"listen", 1}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("got %#v, want %#v", rows, want)
	}
}

func TestParseLine_StagePrefixRoundTrip(t *testing.T) {
	line := `{"event":"open","args":"('/tmp/x','w')"}`
	plain, ok1 := ParseLine(line)
	prefixed, ok2 := ParseLine("install:" + line)
	if !ok1 || !ok2 {
		t.Fatal("expected both forms to parse")
	}
	if plain.Event != prefixed.Event || plain.Args != prefixed.Args {
		t.Errorf("prefix must not change decoded event/args: %+v vs %+v", plain, prefixed)
	}
	if prefixed.Stage != "install" {
		t.Errorf("Stage = %q, want install", prefixed.Stage)
	}
	if plain.Stage != "" {
		t.Errorf("Stage = %q, want empty for unprefixed line", plain.Stage)
	}
}

func TestParseLine_SkipsMalformedLines(t *testing.T) {
	for _, line := range []string{"", "not json", `{"args":"()"}`, `{"event":""}`} {
		if _, ok := ParseLine(line); ok {
			t.Errorf("expected line %q to be skipped", line)
		}
	}
}

// TestHighlights_ExecuteWithAuditScenario reproduces the literal
// install+execute example: install audit records a log write, sandbox
// audit records an output write and a network connect.
func TestHighlights_ExecuteWithAuditScenario(t *testing.T) {
	dir := t.TempDir()
	installPath := filepath.Join(dir, "install.jsonl")
	sandboxPath := filepath.Join(dir, "sandbox.jsonl")

	if err := os.WriteFile(installPath, []byte(
		`{"event":"open","args":"('/tmp/install.log','w',524865)"}`+"\n",
	), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sandboxPath, []byte(
		`{"event":"os.open","args":"('/tmp/output.txt',577,420)"}`+"\n"+
			`{"event":"socket.connect","args":"(<socket>,('pypi.org',443))"}`+"\n",
	), 0o600); err != nil {
		t.Fatal(err)
	}

	h := NewHighlights()
	if err := h.IngestFile("install", installPath); err != nil {
		t.Fatal(err)
	}
	if err := h.IngestFile("sandbox", sandboxPath); err != nil {
		t.Fatal(err)
	}

	written := h.FilesWritten.Items()
	if !reflect.DeepEqual(written, []string{"install: /tmp/install.log", "sandbox: /tmp/output.txt"}) {
		t.Errorf("files_written = %v", written)
	}
	conns := h.NetworkConnections.Items()
	if !reflect.DeepEqual(conns, []string{"sandbox: connect pypi.org:443"}) {
		t.Errorf("network_connections = %v", conns)
	}
}

func TestHighlights_IngestFile_MissingFileIsNotAnError(t *testing.T) {
	h := NewHighlights()
	if err := h.IngestFile("install", filepath.Join(t.TempDir(), "missing.jsonl")); err != nil {
		t.Errorf("missing file should be treated as absent telemetry, got error: %v", err)
	}
	if len(h.FilesWritten.Items()) != 0 {
		t.Error("expected no highlights from a missing file")
	}
}
