// Package evidence implements the Evidence Writer: given a terminated
// job, it emits a deterministic artifact bundle under a per-job
// directory, with the canonical manifest written last so its presence is
// the signal that the bundle is complete.
package evidence

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fathomquant/supervisor/pkg/log"
	"github.com/fathomquant/supervisor/pkg/types"
)

const defaultLogTailBytes = 64 * 1024

// LogTruncation records how many bytes were discarded from the head of
// stdout.log/stderr.log when bounding them to the retention limit. The
// worker bootstrap redirects os.Stdout/os.Stderr directly into these
// files during execution; TailLogFiles bounds them in place afterward.
type LogTruncation struct {
	StdoutBytesDiscarded int64
	StderrBytesDiscarded int64
}

// TailLogFiles bounds stdout.log and stderr.log under dir to the last
// maxBytes each, rewriting the files in place. maxBytes <= 0 uses the
// 64 KiB default named in spec §4.3.
func TailLogFiles(dir string, maxBytes int64) (LogTruncation, error) {
	if maxBytes <= 0 {
		maxBytes = defaultLogTailBytes
	}
	var trunc LogTruncation
	discardedStdout, err := tailFileInPlace(filepath.Join(dir, "stdout.log"), maxBytes)
	if err != nil {
		return trunc, err
	}
	discardedStderr, err := tailFileInPlace(filepath.Join(dir, "stderr.log"), maxBytes)
	if err != nil {
		return trunc, err
	}
	trunc.StdoutBytesDiscarded = discardedStdout
	trunc.StderrBytesDiscarded = discardedStderr
	return trunc, nil
}

func tailFileInPlace(path string, maxBytes int64) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("evidence: stat %s: %w", path, err)
	}
	if info.Size() <= maxBytes {
		return 0, nil
	}
	discarded := info.Size() - maxBytes

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("evidence: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Seek(discarded, 0); err != nil {
		return 0, fmt.Errorf("evidence: seek %s: %w", path, err)
	}
	tail := make([]byte, maxBytes)
	n, err := io.ReadFull(f, tail)
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, fmt.Errorf("evidence: read tail of %s: %w", path, err)
	}
	if err := os.WriteFile(path, tail[:n], 0o644); err != nil {
		return 0, fmt.Errorf("evidence: rewrite %s: %w", path, err)
	}
	return discarded, nil
}

// Manifest is the canonical receipt written as both manifest.json and
// <job_type>_manifest.json.
type Manifest struct {
	JobID          string            `json:"job_id"`
	JobType        string            `json:"job_type"`
	State          types.JobState    `json:"state"`
	Reason         string            `json:"reason,omitempty"`
	CreatedAt      string            `json:"created_at"`
	StartedAt      string            `json:"started_at,omitempty"`
	FinishedAt     string            `json:"finished_at,omitempty"`
	Files          []ManifestFile    `json:"files"`
	InputsFingerprint string         `json:"inputs_fingerprint"`
}

// ManifestFile records one artifact's name and size in bytes.
type ManifestFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Writer produces evidence bundles under root/jobs/<job_id>/.
type Writer struct {
	Root string
}

// New returns a Writer rooted at outputsRoot (spec's outputs_root).
func New(outputsRoot string) *Writer {
	return &Writer{Root: outputsRoot}
}

// Dir returns the evidence directory for jobID, creating it if absent.
// This is the path handed to handlers as RunContext.EvidenceDir().
func (w *Writer) Dir(jobID string) (string, error) {
	dir := filepath.Join(w.Root, "jobs", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("evidence: create dir for %s: %w", jobID, err)
	}
	return dir, nil
}

// Write emits the full artifact set for a terminal job. stdout.log and
// stderr.log are expected to already exist in the evidence directory
// (the worker bootstrap redirects onto them directly during execution
// and calls TailLogFiles before Write); Write records their sizes and
// writes everything else. The manifest is written last via
// temp-file-then-rename, matching spec §4.3's atomicity requirement;
// its presence is the sole completeness signal.
func (w *Writer) Write(job *types.Job, trunc LogTruncation) error {
	dir, err := w.Dir(job.ID)
	if err != nil {
		return err
	}
	logger := log.WithComponent("evidence")

	var written []ManifestFile

	specBytes, err := canonicalJSON(job.Spec)
	if err != nil {
		return fmt.Errorf("evidence: marshal spec.json: %w", err)
	}
	if err := writeFile(dir, "spec.json", specBytes); err != nil {
		return err
	}
	written = append(written, ManifestFile{Name: "spec.json", Size: int64(len(specBytes))})

	stateDoc := stateDocument(job, trunc)
	stateBytes, err := canonicalJSON(stateDoc)
	if err != nil {
		return fmt.Errorf("evidence: marshal state.json: %w", err)
	}
	if err := writeFile(dir, "state.json", stateBytes); err != nil {
		return err
	}
	written = append(written, ManifestFile{Name: "state.json", Size: int64(len(stateBytes))})

	result := job.Result
	if result == nil {
		result = types.Result{}
	}
	resultBytes, err := canonicalJSON(result)
	if err != nil {
		return fmt.Errorf("evidence: marshal result.json: %w", err)
	}
	if err := writeFile(dir, "result.json", resultBytes); err != nil {
		return err
	}
	written = append(written, ManifestFile{Name: "result.json", Size: int64(len(resultBytes))})

	for _, logName := range []string{"stdout.log", "stderr.log"} {
		size, err := ensureLogFile(dir, logName)
		if err != nil {
			return err
		}
		written = append(written, ManifestFile{Name: logName, Size: size})
	}

	sort.Slice(written, func(i, j int) bool { return written[i].Name < written[j].Name })

	manifest := Manifest{
		JobID:             job.ID,
		JobType:           job.JobType,
		State:             job.State,
		Reason:            job.StateReason,
		CreatedAt:         formatTime(&job.CreatedAt),
		StartedAt:         formatTime(job.StartedAt),
		FinishedAt:        formatTime(job.FinishedAt),
		Files:             written,
		InputsFingerprint: fingerprint(specBytes),
	}
	manifestBytes, err := canonicalJSON(manifest)
	if err != nil {
		return fmt.Errorf("evidence: marshal manifest: %w", err)
	}

	// Written last, and atomically, via the duplicate-alias names spec
	// §6.3 requires.
	if err := atomicWriteFile(dir, "manifest.json", manifestBytes); err != nil {
		return err
	}
	aliasName := fmt.Sprintf("%s_manifest.json", job.JobType)
	if err := atomicWriteFile(dir, aliasName, manifestBytes); err != nil {
		return err
	}

	logger.Info().Str("job_id", job.ID).Str("state", string(job.State)).Msg("evidence bundle complete")
	return nil
}

func stateDocument(job *types.Job, trunc LogTruncation) map[string]interface{} {
	doc := map[string]interface{}{
		"job_id":     job.ID,
		"job_type":   job.JobType,
		"state":      job.State,
		"created_at": formatTime(&job.CreatedAt),
	}
	if job.StateReason != "" {
		doc["reason"] = job.StateReason
	}
	if job.WorkerID != nil {
		doc["worker_id"] = *job.WorkerID
	}
	if job.StartedAt != nil {
		doc["started_at"] = formatTime(job.StartedAt)
	}
	if job.FinishedAt != nil {
		doc["finished_at"] = formatTime(job.FinishedAt)
	}
	if job.Failure != nil {
		doc["failure"] = job.Failure
	}
	if trunc.StdoutBytesDiscarded > 0 || trunc.StderrBytesDiscarded > 0 {
		doc["truncated_bytes"] = map[string]int64{
			"stdout": trunc.StdoutBytesDiscarded,
			"stderr": trunc.StderrBytesDiscarded,
		}
	}
	return doc
}

// ensureLogFile makes sure name exists under dir (creating it empty if
// the handler produced no output on that stream) and returns its size.
func ensureLogFile(dir, name string) (int64, error) {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if werr := os.WriteFile(path, []byte{}, 0o644); werr != nil {
			return 0, fmt.Errorf("evidence: create %s: %w", name, werr)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("evidence: stat %s: %w", name, err)
	}
	return info.Size(), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func fingerprint(specBytes []byte) string {
	sum := sha256.Sum256(specBytes)
	return hex.EncodeToString(sum[:])
}

func writeFile(dir, name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("evidence: write %s: %w", name, err)
	}
	return nil
}

// atomicWriteFile writes to a temp file in dir then renames it into
// place, so a reader never observes a partially-written manifest.
func atomicWriteFile(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("evidence: create temp for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("evidence: write temp for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("evidence: close temp for %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("evidence: rename into place for %s: %w", name, err)
	}
	return nil
}

// canonicalJSON marshals v with sorted object keys and no HTML escaping,
// so re-reading and re-serializing a manifest is the identity function.
// encoding/json already sorts map keys; this additionally normalizes
// struct-derived output by round-tripping through a generic value.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
