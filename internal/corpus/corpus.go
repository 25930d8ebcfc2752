// Package corpus provides the content-addressed test corpus and its
// append-only provenance log.
package corpus

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fentz26/crashcorpus/internal/directive"
	"github.com/fentz26/crashcorpus/internal/models"
)

// LogName is the provenance log file inside the corpus root.
const LogName = "reductions.log"

// tempPrefix marks in-flight entries; they are never valid tests.
const tempPrefix = ".incoming-"

// ErrNotRunnable indicates a candidate without a valid RUN directive.
var ErrNotRunnable = errors.New("candidate has no valid run directive")

// Store is a corpus directory keyed by content hash.
type Store struct {
	root string
}

// Open returns the store rooted at root, which must be an existing directory.
func Open(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open corpus: %s is not a directory", abs)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute corpus directory.
func (s *Store) Root() string {
	return s.root
}

// LogPath returns the provenance log path.
func (s *Store) LogPath() string {
	return filepath.Join(s.root, LogName)
}

// HashFile returns the hex SHA-1 of a file's bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EntryPath returns where content with hash and ext is stored.
func (s *Store) EntryPath(hash, ext string) string {
	return filepath.Join(s.root, hash+ext)
}

// Add stores candidate under its content hash and logs a provenance record
// naming source. It returns the new entry path and true, or "" and false
// when identical content is already present. The entry is written to a
// temporary file and renamed into place, so no reader sees a partial entry.
func (s *Store) Add(tag, source, candidate string) (string, bool, error) {
	if !directive.Valid(candidate) {
		return "", false, fmt.Errorf("%w: %s", ErrNotRunnable, candidate)
	}

	hash, err := HashFile(candidate)
	if err != nil {
		return "", false, fmt.Errorf("hash candidate: %w", err)
	}
	target := s.EntryPath(hash, filepath.Ext(candidate))
	if _, err := os.Stat(target); err == nil {
		return "", false, nil
	}

	if err := s.place(candidate, target); err != nil {
		return "", false, err
	}

	if err := s.appendRecord(tag, source, target); err != nil {
		return target, true, err
	}
	return target, true, nil
}

// Contains reports whether content identical to path is stored.
func (s *Store) Contains(path string) (bool, error) {
	hash, err := HashFile(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.EntryPath(hash, filepath.Ext(path)))
	return err == nil, nil
}

func (s *Store) place(candidate, target string) error {
	src, err := os.Open(candidate)
	if err != nil {
		return fmt.Errorf("open candidate: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.root, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("copy candidate: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp entry: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("rename entry: %w", err)
	}
	return nil
}

func (s *Store) rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return rel
}

func (s *Store) appendRecord(tag, source, target string) error {
	line, err := json.Marshal([]string{tag, s.rel(source), s.rel(target)})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.LogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open provenance log: %w", err)
	}
	defer f.Close()
	// One write per record keeps concurrent appenders line-atomic.
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append provenance record: %w", err)
	}
	return nil
}

// ReadLog returns every provenance record in append order. Malformed lines
// are reported as errors with their line number.
func (s *Store) ReadLog() ([]models.ProvenanceRecord, error) {
	f, err := os.Open(s.LogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open provenance log: %w", err)
	}
	defer f.Close()

	var records []models.ProvenanceRecord
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var fields []string
		if err := json.Unmarshal([]byte(text), &fields); err != nil || len(fields) != 3 {
			return records, fmt.Errorf("provenance log line %d: malformed record", lineNo)
		}
		records = append(records, models.ProvenanceRecord{Tag: fields[0], Source: fields[1], Result: fields[2]})
	}
	return records, scanner.Err()
}

// Walk calls fn for every regular file in the corpus except the provenance
// log and hidden names, with absolute paths in lexical order. Hidden
// directories such as .git are not entered; in-flight entries are hidden.
func (s *Store) Walk(fn func(path string) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		hidden := path != s.root && strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if hidden {
				return fs.SkipDir
			}
			return nil
		}
		if path == s.LogPath() || hidden {
			return nil
		}
		return fn(path)
	})
}

// Files returns every corpus file path.
func (s *Store) Files() ([]string, error) {
	var files []string
	err := s.Walk(func(path string) error {
		files = append(files, path)
		return nil
	})
	return files, err
}
