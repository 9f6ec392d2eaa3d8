package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the record's name inside a destination directory.
const FileName = "record.json"

// Record identifies what a destination directory was downloaded from.
// The checksum ties the directory's contents to one exact version of
// the remote media playlist: if the remote bytes change, the record no
// longer matches and the whole directory is considered stale.
type Record struct {
	Target  string            `json:"target"`
	Headers map[string]string `json:"headers"`
	M3U8Sum string            `json:"m3u8_sum"`
}

// New assembles a record for the given target identity.
func New(target string, headers map[string]string, sum string) *Record {
	if headers == nil {
		headers = map[string]string{}
	}
	return &Record{Target: target, Headers: headers, M3U8Sum: sum}
}

// Load reads the record from dir. Any failure (missing file, bad JSON)
// is returned as an error; callers treat it as a cache miss.
func Load(dir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read record in %s: %w", dir, err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record in %s: %w", dir, err)
	}
	return &r, nil
}

// Save writes the record into dir as indented JSON, so it stays
// readable when debugging a half-finished download directory.
func (r *Record) Save(dir string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write record in %s: %w", dir, err)
	}
	return nil
}
