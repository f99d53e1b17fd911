package entitlements

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/eternisai/purchases-bridge/models"
)

// FileStore persists the receipts in a JSON document keyed by CacheKey.
// Writes go to a temporary file that is renamed over the document.
type FileStore struct {
	mu   sync.Mutex
	path string
}

type fileDocument map[string]json.RawMessage

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("entitlement file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create entitlement dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Get(_ context.Context) ([]models.Receipt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, false, err
	}
	raw, ok := doc[CacheKey]
	if !ok {
		return nil, false, nil
	}

	receipts, err := decodeReceipts(raw)
	if err != nil {
		return nil, false, err
	}
	return receipts, true, nil
}

func (s *FileStore) Set(_ context.Context, receipts []models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		// An unreadable document is replaced rather than blocking every write.
		doc = fileDocument{}
	}

	if receipts == nil {
		delete(doc, CacheKey)
	} else {
		data, err := encodeReceipts(receipts)
		if err != nil {
			return err
		}
		doc[CacheKey] = data
	}

	return s.write(doc)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return fileDocument{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read entitlement file: %w", err)
	}
	if len(data) == 0 {
		return fileDocument{}, nil
	}

	doc := fileDocument{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse entitlement file: %w", err)
	}
	return doc, nil
}

func (s *FileStore) write(doc fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode entitlement file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".entitlements-*.json")
	if err != nil {
		return fmt.Errorf("create temp entitlement file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write entitlement file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close entitlement file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace entitlement file: %w", err)
	}
	return nil
}
