// Package migrate moves a local ledger in and out of JSONL files.
//
// Each line is one record with a kind discriminator:
//
//	{"kind":"book","data":{...}}
//	{"kind":"category","data":{...}}
//	{"kind":"transaction","data":{...}}
//	{"kind":"setting","data":{...}}
//
// Books come before their categories and transactions. Server ids and the
// sync watermark are never written, so an imported ledger is unsynced until
// its next push.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/intheblack/ledger/internal/ledger/db"
	"github.com/intheblack/ledger/internal/ledger/schema"
)

// Record kinds.
const (
	KindBook        = "book"
	KindCategory    = "category"
	KindTransaction = "transaction"
	KindSetting     = "setting"
)

// Record is one JSONL line.
type Record struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Result contains counts for one export or import.
type Result struct {
	Books        int
	Categories   int
	Transactions int
	Settings     int
	Errors       []string
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	DryRun bool // Parse and validate without writing
}

// Export writes every book, category, transaction and syncable setting to w.
func Export(ctx context.Context, store *db.DB, w io.Writer) (*Result, error) {
	if store == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	result := &Result{}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	books, err := store.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range books {
		book := *b
		book.ServerID = nil
		if err := encode(enc, KindBook, &book); err != nil {
			return nil, err
		}
		result.Books++

		cats, err := store.ListCategories(ctx, b.ID, nil)
		if err != nil {
			return nil, err
		}
		for _, c := range cats {
			cat := *c
			cat.ServerID = nil
			if err := encode(enc, KindCategory, &cat); err != nil {
				return nil, err
			}
			result.Categories++
		}

		txs, err := store.ListTransactions(ctx, b.ID, nil)
		if err != nil {
			return nil, err
		}
		for _, t := range txs {
			tx := *t
			tx.ServerID = nil
			if err := encode(enc, KindTransaction, &tx); err != nil {
				return nil, err
			}
			result.Transactions++
		}
	}

	settings, err := store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range settings {
		if schema.IsLocalOnly(s.Key) {
			continue
		}
		if err := encode(enc, KindSetting, s); err != nil {
			return nil, err
		}
		result.Settings++
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush export: %w", err)
	}
	return result, nil
}

// ExportFile writes the export to path atomically via a temp file.
func ExportFile(ctx context.Context, store *db.DB, path string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	result, err := Export(ctx, store, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// Import reads records from r and creates them as new local rows. Book ids
// in the input are remapped to the ids assigned on insert; categories and
// transactions whose book is not in the input are reported in
// Result.Errors and skipped. A malformed line aborts the import.
func Import(ctx context.Context, store *db.DB, r io.Reader, opts ImportOptions) (*Result, error) {
	if store == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	result := &Result{}
	books := make(map[int64]int64) // input id -> local id
	dec := json.NewDecoder(r)
	lineNum := 0

	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, fmt.Errorf("invalid JSON at record %d: %w", lineNum+1, err)
		}
		lineNum++

		if err := importRecord(ctx, store, &rec, books, opts, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d (%s): %v", lineNum, rec.Kind, err))
		}
	}
	return result, nil
}

// ImportFile imports the JSONL file at path.
func ImportFile(ctx context.Context, store *db.DB, path string, opts ImportOptions) (*Result, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer f.Close()
	return Import(ctx, store, f, opts)
}

func importRecord(ctx context.Context, store *db.DB, rec *Record, books map[int64]int64, opts ImportOptions, result *Result) error {
	switch rec.Kind {
	case KindBook:
		var b schema.Book
		if err := json.Unmarshal(rec.Data, &b); err != nil {
			return err
		}
		inputID := b.ID
		b.SetDefaults()
		if err := b.Validate(); err != nil {
			return err
		}
		if opts.DryRun {
			books[inputID] = inputID
		} else {
			if err := store.CreateBook(ctx, &b); err != nil {
				return err
			}
			books[inputID] = b.ID
		}
		result.Books++

	case KindCategory:
		var c schema.Category
		if err := json.Unmarshal(rec.Data, &c); err != nil {
			return err
		}
		bookID, ok := books[c.BookID]
		if !ok {
			return fmt.Errorf("unknown book %d", c.BookID)
		}
		c.BookID = bookID
		if err := c.Validate(); err != nil {
			return err
		}
		if !opts.DryRun {
			if err := store.CreateCategory(ctx, &c); err != nil {
				return err
			}
		}
		result.Categories++

	case KindTransaction:
		var t schema.Transaction
		if err := json.Unmarshal(rec.Data, &t); err != nil {
			return err
		}
		bookID, ok := books[t.BookID]
		if !ok {
			return fmt.Errorf("unknown book %d", t.BookID)
		}
		t.BookID = bookID
		if err := t.Validate(); err != nil {
			return err
		}
		if !opts.DryRun {
			if err := store.CreateTransaction(ctx, &t); err != nil {
				return err
			}
		}
		result.Transactions++

	case KindSetting:
		var s schema.Setting
		if err := json.Unmarshal(rec.Data, &s); err != nil {
			return err
		}
		if err := s.Validate(); err != nil {
			return err
		}
		if schema.IsLocalOnly(s.Key) {
			return nil
		}
		if s.Key == schema.SettingLastOpenBookID {
			id, err := schema.ParseBookID(s.Value)
			if err != nil {
				return err
			}
			local, ok := books[id]
			if !ok {
				return fmt.Errorf("unknown book %d", id)
			}
			s.Value = strconv.FormatInt(local, 10)
		}
		if !opts.DryRun {
			if err := store.SetSetting(ctx, s.Key, s.Value); err != nil {
				return err
			}
		}
		result.Settings++

	default:
		return fmt.Errorf("unknown kind %q", rec.Kind)
	}
	return nil
}

func encode(enc *json.Encoder, kind string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	if err := enc.Encode(Record{Kind: kind, Data: data}); err != nil {
		return fmt.Errorf("failed to write %s: %w", kind, err)
	}
	return nil
}

// BackupName returns a timestamped sibling path for path.
func BackupName(path string, now time.Time) string {
	return path + ".backup." + now.Format("20060102-150405")
}
