package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/civichain/votegate/internal/capture"
	"github.com/civichain/votegate/internal/models"
)

const metadataFile = "metadata.json"

// Entry describes one registered reference image.
type Entry struct {
	IdentityKey string    `json:"identity_key"`
	FileName    string    `json:"file_name"`
	Source      string    `json:"source"`
	AddedAt     time.Time `json:"added_at"`
}

// Store manages the local reference-image directory used when the face
// factor runs against local references instead of the backend. Images
// live next to a metadata.json that maps identity keys to files.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore opens (creating if needed) the reference-image directory.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// AddImage copies an existing image file into the store and registers
// it for the identity.
func (s *Store) AddImage(identityKey, sourcePath string) (*Entry, error) {
	if identityKey == "" {
		return nil, &models.ValidationError{Field: "identityKey", Reason: "is required"}
	}

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("read source image: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(sourcePath))
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
		return nil, &models.ValidationError{Field: "image", Reason: fmt.Sprintf("unsupported format %q", ext)}
	}

	return s.write(identityKey, data, ext, "file")
}

// CaptureFromDevice grabs one frame from the capture device and
// registers it for the identity. The stream is stopped before return.
func (s *Store) CaptureFromDevice(ctx context.Context, device capture.Device, identityKey string) (*Entry, error) {
	if identityKey == "" {
		return nil, &models.ValidationError{Field: "identityKey", Reason: "is required"}
	}

	stream, err := device.Open(ctx)
	if err != nil {
		return nil, &models.DeviceError{Op: "register", Err: err}
	}
	defer func() {
		if err := stream.Stop(); err != nil {
			s.logger.Warn("failed to stop capture stream", slog.Any("error", err))
		}
	}()

	frame, err := stream.ReadFrame(ctx)
	if err != nil {
		return nil, &models.DeviceError{Op: "register", Err: err}
	}

	return s.write(identityKey, frame, ".jpg", "camera")
}

// Lookup returns the entry for an identity key, or nil.
func (s *Store) Lookup(identityKey string) (*Entry, error) {
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].IdentityKey == identityKey {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// ImagePath returns the on-disk path for an entry.
func (s *Store) ImagePath(e *Entry) string {
	return filepath.Join(s.dir, e.FileName)
}

// List returns all registered entries, newest first.
func (s *Store) List() ([]Entry, error) {
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AddedAt.After(entries[j].AddedAt)
	})
	return entries, nil
}

// Remove deletes the identity's image and metadata entry.
func (s *Store) Remove(identityKey string) error {
	entries, err := s.load()
	if err != nil {
		return err
	}

	kept := entries[:0]
	var removed *Entry
	for i := range entries {
		if entries[i].IdentityKey == identityKey {
			e := entries[i]
			removed = &e
			continue
		}
		kept = append(kept, entries[i])
	}
	if removed == nil {
		return fmt.Errorf("no reference image registered for identity")
	}

	if err := os.Remove(s.ImagePath(removed)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image file: %w", err)
	}
	return s.save(kept)
}

// write stores the image bytes and upserts the metadata entry. An
// existing image for the same identity is replaced.
func (s *Store) write(identityKey string, data []byte, ext, source string) (*Entry, error) {
	entries, err := s.load()
	if err != nil {
		return nil, err
	}

	entry := Entry{
		IdentityKey: identityKey,
		FileName:    identityKey + ext,
		Source:      source,
		AddedAt:     time.Now(),
	}

	kept := entries[:0]
	for i := range entries {
		if entries[i].IdentityKey == identityKey {
			old := filepath.Join(s.dir, entries[i].FileName)
			if old != filepath.Join(s.dir, entry.FileName) {
				if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
					s.logger.Warn("failed to remove stale reference image", slog.Any("error", err))
				}
			}
			continue
		}
		kept = append(kept, entries[i])
	}
	kept = append(kept, entry)

	if err := os.WriteFile(filepath.Join(s.dir, entry.FileName), data, 0o644); err != nil {
		return nil, fmt.Errorf("write image file: %w", err)
	}
	if err := s.save(kept); err != nil {
		return nil, err
	}

	s.logger.Info("reference image registered",
		slog.String("identity_key", identityKey),
		slog.String("source", source))
	return &entry, nil
}

func (s *Store) load() ([]Entry, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, metadataFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return entries, nil
}

func (s *Store) save(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, metadataFile), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
