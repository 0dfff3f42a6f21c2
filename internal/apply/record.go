package apply

import (
	"fmt"
	"path/filepath"
	"time"

	mendErrors "github.com/randalmurphal/mend/internal/errors"
	"github.com/randalmurphal/mend/internal/util"
)

// ChangeRecordFile is the record's file name at the repository root.
const ChangeRecordFile = ".last_executor_change.json"

// ChangeRecord describes the last successful execution so a later finalize
// can commit exactly those files.
type ChangeRecord struct {
	Phase     string    `json:"phase"`
	ItemID    string    `json:"item_id"`
	Title     string    `json:"title"`
	Files     []string  `json:"files"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordPath returns the record's path under root.
func RecordPath(root string) string {
	return filepath.Join(root, ChangeRecordFile)
}

// RecordChange overwrites the change record.
func RecordChange(root string, rec ChangeRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Files == nil {
		rec.Files = []string{}
	}
	if err := util.AtomicWriteJSON(RecordPath(root), rec); err != nil {
		return fmt.Errorf("write change record: %w", err)
	}
	return nil
}

// LoadChange reads the change record. A missing record is NO_CHANGE_RECORD.
func LoadChange(root string) (*ChangeRecord, error) {
	var rec ChangeRecord
	found, err := util.ReadJSON(RecordPath(root), &rec)
	if err != nil {
		return nil, fmt.Errorf("read change record: %w", err)
	}
	if !found {
		return nil, mendErrors.ErrNoChangeRecord()
	}
	return &rec, nil
}

// ClearChange deletes the change record. A missing record is not an error.
func ClearChange(root string) error {
	if err := util.RemoveIfExists(RecordPath(root)); err != nil {
		return fmt.Errorf("clear change record: %w", err)
	}
	return nil
}
