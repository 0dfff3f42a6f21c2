package executor

import (
	"strings"

	"github.com/randalmurphal/mend/internal/analyzer"
	"github.com/randalmurphal/mend/internal/apply"
	"github.com/randalmurphal/mend/internal/ledger"
)

// itemView is the executor prompt's view of a work item.
type itemView struct {
	ID          string
	Title       string
	Priority    string
	Description string
	Files       []string
	Code        string
	File        string
	Line        int
	Rendered    string
}

func viewOf(it *ledger.Item) itemView {
	return itemView{
		ID:          it.ID,
		Title:       it.Title,
		Priority:    it.Priority,
		Description: it.Description,
		Files:       it.FilesAffected,
		Code:        it.MetaString(ledger.MetaCode),
		File:        it.MetaString(ledger.MetaFile),
		Line:        it.MetaInt(ledger.MetaLine),
		Rendered:    it.MetaString(ledger.MetaRendered),
	}
}

// promptData is the executor prompt's template data.
type promptData struct {
	Project  string
	Category string
	Item     itemView
	Context  string
}

// relevantFiles picks the files shown to the generator: the item's affected
// files, else the lint diagnostic's file, else nil for a source sample.
func relevantFiles(it *ledger.Item) []string {
	if len(it.FilesAffected) > 0 {
		return it.FilesAffected
	}
	if f := it.MetaString(ledger.MetaFile); f != "" {
		return []string{f}
	}
	return nil
}

// buildContext renders the relevant files. Files that do not exist yet are
// listed as new so the model knows to create them.
func (e *Executor) buildContext(a *apply.Applier, it *ledger.Item) (string, error) {
	files := relevantFiles(it)
	if len(files) == 0 {
		cc := e.cfg.Context
		sample, err := analyzer.Selector{Include: cc.Include, Exclude: cc.Exclude, First: cc.HotPaths}.Collect(e.root)
		if err != nil {
			return "", err
		}
		text, _ := analyzer.Bundle(e.root, sample, analyzer.Budget{MaxBytes: cc.MaxBytes / 2, MaxFileBytes: cc.MaxFileBytes})
		return text, nil
	}

	var b strings.Builder
	for _, f := range files {
		content, exists, err := a.Read(f)
		if err != nil {
			e.logger.Debug("skipping unreadable file", "file", f, "error", err)
			continue
		}
		if !exists {
			b.WriteString(analyzer.FileHeader(f))
			b.WriteString("\n(new file)\n\n")
			continue
		}
		section := analyzer.FormatFile(f, content)
		if limit := e.cfg.Context.MaxBytes; limit > 0 && b.Len()+len(section) > limit && b.Len() > 0 {
			e.logger.Warn("context budget reached, omitting remaining files", "item", it.ID, "file", f)
			break
		}
		b.WriteString(section)
	}
	return b.String(), nil
}
