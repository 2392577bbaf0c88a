package orchestrator

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

// buildAttachment produces the single telemetry attachment for a run's
// audit files: when both exist, their lines are merged in stage order,
// each prefixed "install:" or "sandbox:", then gzipped; when only one
// exists, that file alone is gzipped; when neither exists, there is no
// telemetry attachment. The raw audit files are always removed once
// folded into the merged/compressed output (or once confirmed absent).
func buildAttachment(runID, installAuditPath, sandboxAuditPath string) (string, error) {
	installPresent := filePresent(installAuditPath)
	sandboxPresent := filePresent(sandboxAuditPath)

	switch {
	case installPresent && sandboxPresent:
		dest := fmt.Sprintf("/tmp/audit-%s-merged.jsonl.gz", runID)
		if err := gzipMergedLines(dest,
			stagedSource{stage: "install", path: installAuditPath},
			stagedSource{stage: "sandbox", path: sandboxAuditPath},
		); err != nil {
			return "", err
		}
		os.Remove(installAuditPath)
		os.Remove(sandboxAuditPath)
		return dest, nil
	case installPresent:
		return gzipSingle(installAuditPath)
	case sandboxPresent:
		return gzipSingle(sandboxAuditPath)
	default:
		return "", nil
	}
}

func filePresent(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

type stagedSource struct {
	stage string
	path  string
}

// gzipMergedLines writes every line of each source, prefixed with its
// stage and a colon, into a single gzip-compressed file at dest.
func gzipMergedLines(dest string, sources ...stagedSource) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	defer gw.Close()

	for _, src := range sources {
		f, err := os.Open(src.path)
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			if _, err := fmt.Fprintf(gw, "%s:%s\n", src.stage, sc.Text()); err != nil {
				f.Close()
				return err
			}
		}
		f.Close()
	}
	return nil
}

// gzipSingle compresses path in place, producing path+".gz" and removing
// the raw source file.
func gzipSingle(path string) (string, error) {
	dest := path + ".gz"
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return "", err
	}
	if err := gw.Close(); err != nil {
		return "", err
	}
	os.Remove(path)
	return dest, nil
}
