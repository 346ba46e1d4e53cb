package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

var (
	ErrIdentifiersNotFound  = errors.New("identifier list not found")
	ErrIdentifiersMalformed = errors.New("identifier list is not a JSON array of strings")
)

const jsonIndent = "    "

// JSONFileHandler writes the identifier list as an indented JSON array.
type JSONFileHandler struct {
	path string
}

func NewJSONFileHandler(path string) *JSONFileHandler {
	return &JSONFileHandler{path: path}
}

func (h *JSONFileHandler) Name() string { return "json:" + h.path }

func (h *JSONFileHandler) Path() string { return h.path }

func (h *JSONFileHandler) WriteIdentifiers(_ context.Context, identifiers []string) error {
	data, err := MarshalIdentifiers(identifiers)
	if err != nil {
		return err
	}
	if err := os.WriteFile(h.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write identifier list to %s: %w", h.path, err)
	}
	return nil
}

func (h *JSONFileHandler) Close() error { return nil }

// MarshalIdentifiers renders identifiers deterministically. An empty list is rendered as [] rather than null.
func MarshalIdentifiers(identifiers []string) ([]byte, error) {
	if identifiers == nil {
		identifiers = []string{}
	}
	data, err := json.MarshalIndent(identifiers, "", jsonIndent)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal identifier list: %w", err)
	}
	return data, nil
}

// ReadIdentifiers loads an identifier list written by JSONFileHandler.
func ReadIdentifiers(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIdentifiersNotFound, path)
		}
		return nil, fmt.Errorf("failed to read identifier list %s: %w", path, err)
	}

	var identifiers *[]string
	if err := json.Unmarshal(data, &identifiers); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIdentifiersMalformed, path, err)
	}
	if identifiers == nil {
		return nil, fmt.Errorf("%w: %s: null document", ErrIdentifiersMalformed, path)
	}
	return *identifiers, nil
}
