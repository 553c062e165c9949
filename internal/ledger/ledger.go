// Package ledger reads the externally edited order ledger. The ledger is
// pull-only: the engine never writes back to it, whoever syncs it into the
// data directory (cloud client, human with an editor) is outside the engine.
package ledger

import (
	"context"
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
	yamlutil "github.com/timofeysmykov/print-queue-agent/internal/yaml"
)

// FetchError marks an external-source I/O failure. A cycle failing at fetch
// leaves the store untouched and ends early.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("ledger fetch: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// Source is a pull-only supplier of raw order records.
type Source interface {
	Fetch(ctx context.Context) ([]model.RawOrderRecord, error)
}

// FileSource reads the YAML ledger from the workshop data directory. The
// file may sit on a synced network mount, so reads honor the caller's
// timeout and a corrupted file is quarantined rather than trusted.
type FileSource struct {
	dataDir string
	path    string
}

func NewFileSource(dataDir string) *FileSource {
	return &FileSource{dataDir: dataDir, path: model.LedgerPath(dataDir)}
}

func (f *FileSource) Fetch(ctx context.Context) ([]model.RawOrderRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Err: err}
	}
	type result struct {
		records []model.RawOrderRecord
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		records, err := f.load()
		ch <- result{records: records, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &FetchError{Err: ctx.Err()}
	case res := <-ch:
		if res.err != nil {
			return nil, &FetchError{Err: res.err}
		}
		return res.records, nil
	}
}

func (f *FileSource) load() ([]model.RawOrderRecord, error) {
	content, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	if err := yamlutil.ValidateSchemaHeaderFromBytes(content, model.FileTypeLedger); err != nil {
		// Move the corrupt ledger aside; the synced copy or the backup will
		// repopulate it before the next cycle.
		if rerr := yamlutil.RecoverCorruptedFile(f.dataDir, f.path, model.FileTypeLedger); rerr != nil {
			return nil, fmt.Errorf("ledger corrupt (%v), recovery failed: %w", err, rerr)
		}
		return nil, fmt.Errorf("ledger corrupt, quarantined: %w", err)
	}

	var file model.LedgerFile
	if err := yamlv3.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	return file.Orders, nil
}
