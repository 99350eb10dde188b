package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rag/store"
	"rag/types"
)

// Loader watches a source directory for PDF files, indexes them into the
// vector store once they stop changing and moves them to the archive
// directory (or the bad directory when processing fails).
type Loader struct {
	cfg          types.Config
	contextStore store.VectorStorer
	logger       *slog.Logger

	fileMutex     sync.Mutex
	fileFirstSeen map[string]time.Time
}

func New(cfg types.Config, contextStore store.VectorStorer) (*Loader, error) {
	for _, dir := range []string{cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create loader directory %s: %w", dir, err)
		}
	}
	return &Loader{
		cfg:           cfg,
		contextStore:  contextStore,
		logger:        slog.Default(),
		fileFirstSeen: make(map[string]time.Time),
	}, nil
}

// Run polls the source directory until the context is cancelled. A file is
// picked up once it has been sitting unchanged for the monitoring window.
func (l *Loader) Run(ctx context.Context) {
	l.logger.Info("start monitoring folder", "dir", l.cfg.SourceDir)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("file watcher stopped")
			return
		case <-ticker.C:
			l.scan(ctx)
		}
	}
}

func (l *Loader) scan(ctx context.Context) {
	files, err := os.ReadDir(l.cfg.SourceDir)
	if err != nil {
		l.logger.Error("error while reading source directory", "error", err)
		return
	}

	currentFiles := make(map[string]bool)
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(strings.ToLower(file.Name()), ".pdf") {
			continue
		}

		filePath := filepath.Join(l.cfg.SourceDir, file.Name())
		currentFiles[filePath] = true

		l.fileMutex.Lock()
		firstSeen, seen := l.fileFirstSeen[filePath]
		if !seen {
			l.fileFirstSeen[filePath] = time.Now()
			l.logger.Info("new file detected", "file", filePath)
			l.fileMutex.Unlock()
			continue
		}
		l.fileMutex.Unlock()

		if time.Since(firstSeen) < l.cfg.MonitoringTime {
			continue
		}

		l.process(ctx, filePath)

		l.fileMutex.Lock()
		delete(l.fileFirstSeen, filePath)
		l.fileMutex.Unlock()
	}

	// Drop tracking entries for files that disappeared from the directory.
	l.fileMutex.Lock()
	for filePath := range l.fileFirstSeen {
		if !currentFiles[filePath] {
			delete(l.fileFirstSeen, filePath)
		}
	}
	l.fileMutex.Unlock()
}

func (l *Loader) process(ctx context.Context, filePath string) {
	l.logger.Info("processing file", "file", filePath)

	text, pages, err := ExtractText(filePath)
	if err != nil {
		l.logger.Error("failed to extract text", "file", filePath, "error", err)
		l.moveTo(filePath, l.cfg.BadDir)
		return
	}

	info, err := os.Stat(filePath)
	if err != nil {
		l.logger.Error("file disappeared during processing", "file", filePath, "error", err)
		return
	}

	metadata := types.Metadata{
		"filename":    filepath.Base(filePath),
		"upload_time": info.ModTime().UTC().Format(time.RFC3339),
		"pages":       pages,
		"size_mb":     float64(info.Size()) / (1024 * 1024),
	}

	chunks, err := l.contextStore.Index(ctx, text, metadata)
	if err != nil {
		l.logger.Error("failed to index document", "file", filePath, "error", err)
		l.moveTo(filePath, l.cfg.BadDir)
		return
	}

	l.logger.Info("successfully indexed document", "file", filePath, "pages", pages, "chunks", chunks)
	l.moveTo(filePath, l.cfg.ArchiveDir)
}

// moveTo copies the file into a dated subdirectory and removes the
// original. Name conflicts get a numeric suffix.
func (l *Loader) moveTo(filePath, baseDir string) {
	destDir := filepath.Join(baseDir, time.Now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		l.logger.Error("error creating directory", "dir", destDir, "error", err)
		return
	}

	destPath := filepath.Join(destDir, filepath.Base(filePath))
	counter := 1
	for {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		ext := filepath.Ext(filePath)
		base := strings.TrimSuffix(filepath.Base(filePath), ext)
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", base, counter, ext))
		counter++
	}

	if err := copyFile(filePath, destPath); err != nil {
		l.logger.Error("error moving file to archive", "file", filePath, "error", err)
		return
	}
	os.Remove(filePath)
	l.logger.Info("file moved", "dest", destPath)
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
