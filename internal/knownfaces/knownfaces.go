// Package knownfaces reads and writes the serialized known-face file: two
// parallel arrays of labels and 128-d encodings.
package knownfaces

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/andresmejia3/vigil/internal/logger"
	"github.com/andresmejia3/vigil/internal/matcher"
)

// File is the on-disk layout.
type File struct {
	Names     []string    `json:"names"`
	Encodings [][]float64 `json:"encodings"`
}

// Load reads a known-face file.
func Load(path string) (matcher.KnownFaceSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return matcher.KnownFaceSet{}, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return matcher.KnownFaceSet{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return matcher.NewKnownFaceSet(f.Names, f.Encodings)
}

// LoadOrEmpty reads a known-face file, falling back to an empty set when the
// file is missing or unreadable. Every face then resolves to Unknown.
func LoadOrEmpty(path string) matcher.KnownFaceSet {
	set, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warning("known-face file not found, starting empty", logger.LoggerOptions{Key: "path", Data: path})
		} else {
			logger.Error("failed to load known faces, starting empty",
				logger.LoggerOptions{Key: "path", Data: path},
				logger.LoggerOptions{Key: "error", Data: err.Error()})
		}
		return matcher.KnownFaceSet{}
	}
	logger.Info("loaded known faces", logger.LoggerOptions{Key: "count", Data: set.Len()})
	return set
}

// Save writes set to path, replacing any existing file.
func Save(path string, set matcher.KnownFaceSet) error {
	f := File{
		Names:     make([]string, 0, set.Len()),
		Encodings: make([][]float64, 0, set.Len()),
	}
	for i := 0; i < set.Len(); i++ {
		label, vec := set.Entry(i)
		f.Names = append(f.Names, label)
		f.Encodings = append(f.Encodings, vec)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
