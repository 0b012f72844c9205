// Package loader ingests documents dropped into a watched directory through
// the same pipeline the upload endpoint uses. It exists for bulk loading;
// the watcher is disabled unless a source directory is configured.
package loader

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mercurial/extract"
	"mercurial/rag"
)

type Config struct {
	SourceDir      string
	ArchiveDir     string
	MonitoringTime time.Duration
}

// Watcher polls the source directory and sends a file to ingest once it has
// stopped changing for the monitoring window. Bad files land in the archive
// dir under a "bad" prefix instead of being retried forever.
type Watcher struct {
	cfg    Config
	engine *rag.Engine

	mu        sync.Mutex
	firstSeen map[string]time.Time
	inFlight  map[string]bool
}

func NewWatcher(cfg Config, engine *rag.Engine) (*Watcher, error) {
	for _, dir := range []string{cfg.SourceDir, cfg.ArchiveDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	if cfg.MonitoringTime <= 0 {
		cfg.MonitoringTime = 3 * time.Second
	}
	return &Watcher{
		cfg:       cfg,
		engine:    engine,
		firstSeen: make(map[string]time.Time),
		inFlight:  make(map[string]bool),
	}, nil
}

// Run blocks until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	log.Printf("[LOADER] monitoring folder: %s", w.cfg.SourceDir)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[LOADER] watcher stopped")
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	files, err := os.ReadDir(w.cfg.SourceDir)
	if err != nil {
		log.Printf("[LOADER] reading source directory: %v", err)
		return
	}

	current := make(map[string]bool)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.SourceDir, file.Name())
		current[path] = true

		w.mu.Lock()
		if w.inFlight[path] {
			w.mu.Unlock()
			continue
		}
		seen, known := w.firstSeen[path]
		if !known {
			w.firstSeen[path] = time.Now()
			log.Printf("[LOADER] new file detected: %s", path)
			w.mu.Unlock()
			continue
		}
		ready := time.Since(seen) > w.cfg.MonitoringTime
		if ready {
			w.inFlight[path] = true
		}
		w.mu.Unlock()

		if ready {
			w.process(ctx, path)
			w.mu.Lock()
			delete(w.inFlight, path)
			delete(w.firstSeen, path)
			w.mu.Unlock()
		}
	}

	// Forget files that disappeared from the directory.
	w.mu.Lock()
	for path := range w.firstSeen {
		if !current[path] {
			delete(w.firstSeen, path)
			delete(w.inFlight, path)
		}
	}
	w.mu.Unlock()
}

func (w *Watcher) process(ctx context.Context, path string) {
	name := filepath.Base(path)
	if !extract.Supported(name) {
		log.Printf("[LOADER] unsupported file type, archiving as bad: %s", path)
		w.archive(path, true)
		return
	}

	doc, chunks, err := w.engine.IngestFile(ctx, name, path)
	if err != nil {
		log.Printf("[LOADER] error processing %s: %v", path, err)
		w.archive(path, true)
		return
	}

	log.Printf("[LOADER] ingested %s: doc %s, %d chunks", name, doc.ID, chunks)
	w.archive(path, false)
}

// archive copies the file into a dated archive directory and removes the
// original, suffixing the name on collision.
func (w *Watcher) archive(path string, bad bool) {
	destDir := filepath.Join(w.cfg.ArchiveDir, time.Now().Format("2006-01-02"))
	if bad {
		destDir = filepath.Join(w.cfg.ArchiveDir, "bad", time.Now().Format("2006-01-02"))
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		log.Printf("[LOADER] creating archive directory: %v", err)
		return
	}

	destPath := filepath.Join(destDir, filepath.Base(path))
	counter := 1
	for {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		ext := filepath.Ext(path)
		base := strings.TrimSuffix(filepath.Base(path), ext)
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", base, counter, ext))
		counter++
	}

	if err := copyFile(path, destPath); err != nil {
		log.Printf("[LOADER] archiving %s: %v", path, err)
		return
	}
	os.Remove(path)
	log.Printf("[LOADER] file moved to archive: %s", destPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
