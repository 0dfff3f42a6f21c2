package git

import (
	"context"
	"fmt"
	"time"
)

// MaxSubjectLength is the longest commit subject written.
const MaxSubjectLength = 72

// Checkpoint represents a commit recording one completed work item.
type Checkpoint struct {
	ItemID    string    `json:"item_id"`
	Phase     string    `json:"phase"`
	CommitSHA string    `json:"commit_sha"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// CommitMessage builds "<Label>: <id> <title>" truncated to MaxSubjectLength
// with a trailing "...".
func CommitMessage(label, itemID, title string) string {
	return TruncateSubject(fmt.Sprintf("%s: %s %s", label, itemID, title))
}

// TruncateSubject shortens msg to MaxSubjectLength runes.
func TruncateSubject(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxSubjectLength {
		return msg
	}
	return string(r[:MaxSubjectLength-3]) + "..."
}

// CreateCheckpoint stages the given files (all changes when files is empty)
// and commits them with message.
func (g *Git) CreateCheckpoint(ctx context.Context, itemID, phase, message string, files []string) (*Checkpoint, error) {
	var err error
	if len(files) == 0 {
		err = g.AddAll(ctx)
	} else {
		err = g.Add(ctx, files...)
	}
	if err != nil {
		return nil, fmt.Errorf("stage changes: %w", err)
	}

	sha, err := g.Commit(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("create commit: %w", err)
	}

	g.logger.Info("checkpoint committed", "item", itemID, "phase", phase, "sha", shortSHA(sha))
	return &Checkpoint{
		ItemID:    itemID,
		Phase:     phase,
		CommitSHA: sha,
		Message:   message,
		CreatedAt: time.Now(),
	}, nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
