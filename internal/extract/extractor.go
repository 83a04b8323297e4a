// Package extract decompresses downloaded archives and reclaims disk space.
package extract

import (
	"compress/flate"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/apopov/chairdump/internal/logger"
)

// ErrCorruptArchive is returned when an archive cannot be decompressed. The
// archive is kept on disk so it can be re-fetched or inspected.
var ErrCorruptArchive = errors.New("corrupt or truncated archive")

type Outcome int

const (
	OutcomeExtracted Outcome = iota
	OutcomeAlreadySatisfied
)

func (o Outcome) String() string {
	if o == OutcomeAlreadySatisfied {
		return "already satisfied"
	}
	return "extracted"
}

type Extractor struct {
	log zerolog.Logger
}

func New() *Extractor {
	return &Extractor{log: logger.With("extract")}
}

// Extract streams archivePath through gzip into destPath. The whole archive
// is never held in memory. If destPath already holds content whose size is
// consistent with the archive's recorded uncompressed size, extraction is
// skipped. The output appears atomically: data is written to a .partial file
// and renamed into place.
func (e *Extractor) Extract(archivePath, destPath string) (Outcome, error) {
	if isize, ok := recordedOutputSize(archivePath); ok {
		if info, err := os.Stat(destPath); err == nil && uint32(info.Size()) == isize {
			e.log.Debug().Str("dest", destPath).Msg("destination already extracted, skipping")
			return OutcomeAlreadySatisfied, nil
		}
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return OutcomeExtracted, fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	reader, err := gzip.NewReader(archive)
	if err != nil {
		return OutcomeExtracted, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, archivePath, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return OutcomeExtracted, fmt.Errorf("failed to create destination directory: %w", err)
	}

	partialPath := destPath + ".partial"
	out, err := os.Create(partialPath)
	if err != nil {
		return OutcomeExtracted, fmt.Errorf("failed to create output file: %w", err)
	}

	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		os.Remove(partialPath)
		if isDecompressionError(err) {
			return OutcomeExtracted, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, archivePath, err)
		}
		return OutcomeExtracted, fmt.Errorf("failed to write extracted data: %w", err)
	}

	// Close validates the gzip checksum trailer.
	if err := reader.Close(); err != nil {
		out.Close()
		os.Remove(partialPath)
		return OutcomeExtracted, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, archivePath, err)
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return OutcomeExtracted, fmt.Errorf("failed to sync output file: %w", err)
	}
	if err := out.Close(); err != nil {
		return OutcomeExtracted, fmt.Errorf("failed to close output file: %w", err)
	}

	if err := os.Rename(partialPath, destPath); err != nil {
		return OutcomeExtracted, fmt.Errorf("failed to finalize output file: %w", err)
	}

	return OutcomeExtracted, nil
}

// Remove deletes the compressed archive after a confirmed extraction. This is
// best-effort disk reclamation: failure is logged, never escalated.
func (e *Extractor) Remove(archivePath string) {
	if err := os.Remove(archivePath); err != nil {
		e.log.Warn().Str("archive", archivePath).Err(err).Msg("failed to remove archive")
		return
	}
	e.log.Debug().Str("archive", archivePath).Msg("archive removed")
}

// recordedOutputSize reads the gzip ISIZE trailer: the uncompressed data size
// modulo 2^32, stored little-endian in the archive's final four bytes.
func recordedOutputSize(archivePath string) (uint32, bool) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() < 20 {
		return 0, false
	}

	var trailer [4]byte
	if _, err := f.ReadAt(trailer[:], info.Size()-4); err != nil {
		return 0, false
	}

	return binary.LittleEndian.Uint32(trailer[:]), true
}

// isDecompressionError distinguishes bad archive bytes from real write
// failures. Corruption can surface from the gzip layer or from the deflate
// stream underneath it.
func isDecompressionError(err error) bool {
	var corruptInput flate.CorruptInputError
	var internalErr flate.InternalError
	return errors.Is(err, gzip.ErrHeader) ||
		errors.Is(err, gzip.ErrChecksum) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &corruptInput) ||
		errors.As(err, &internalErr)
}
