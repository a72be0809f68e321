package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/imgembed/internal/domain"
)

// Options is the run configuration chosen by the operator
type Options struct {
	// Overwrite saves each document over its source; otherwise a new file
	// is written.
	Overwrite bool `json:"overwrite" yaml:"overwrite"`
	// Backup copies the source into a backup folder before overwriting
	Backup bool `json:"backup" yaml:"backup"`
	// SameFolder writes new files next to the source
	SameFolder   bool   `json:"same_folder" yaml:"same_folder"`
	OutputFolder string `json:"output_folder" yaml:"output_folder"`
	Prefix       string `json:"prefix" yaml:"prefix"`
	Suffix       string `json:"suffix" yaml:"suffix"`
	// LogFolder receives the report files; empty disables them
	LogFolder string `json:"log_folder" yaml:"log_folder"`
}

// Validate checks option combinations
func (o Options) Validate() error {
	if o.Overwrite {
		return nil
	}
	if !o.SameFolder && o.OutputFolder == "" {
		return fmt.Errorf("output folder is required when not saving next to the source")
	}
	if o.Prefix == "" && o.Suffix == "" && o.SameFolder {
		return fmt.Errorf("prefix or suffix is required when saving a new file next to the source")
	}
	return nil
}

// Mode returns the save mode recorded in outcomes
func (o Options) Mode() string {
	if o.Overwrite {
		return domain.ModeOverwrite
	}
	return domain.ModeNewFile
}

// NewFilePath returns where a new-file save of source goes
func (o Options) NewFilePath(source string) string {
	dir := filepath.Dir(source)
	if !o.SameFolder && o.OutputFolder != "" {
		dir = o.OutputFolder
	}

	ext := filepath.Ext(source)
	stem := strings.TrimSuffix(filepath.Base(source), ext)
	return filepath.Join(dir, o.Prefix+stem+o.Suffix+ext)
}

// BackupPath returns the backup location for source. When exists reports a
// file already there, a timestamp suffix keeps the older backup.
func BackupPath(source string, now time.Time, exists func(string) bool) string {
	dir := filepath.Join(filepath.Dir(source), "backup")
	base := filepath.Base(source)

	path := filepath.Join(dir, base)
	if !exists(path) {
		return path
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, stem+"_"+now.Format("20060102_150405")+ext)
}
