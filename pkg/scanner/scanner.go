// Package scanner discovers datasets under the node's dataset root.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modelyard/modelyard/pkg/api"
	"go.uber.org/zap"
)

// formatByExt maps file extensions to the fixed format taxonomy.
var formatByExt = map[string]string{
	".csv":      "csv",
	".parquet":  "parquet",
	".json":     "json",
	".jsonl":    "jsonl",
	".tfrecord": "tfrecord",
	".tar":      "archive",
	".tgz":      "archive",
	".zip":      "archive",
	".jpg":      "images",
	".jpeg":     "images",
	".png":      "images",
	".gif":      "images",
	".bmp":      "images",
	".tiff":     "images",
}

// Scanner walks the dataset root and builds the full inventory each cycle.
// There is no incremental diffing; the coordinator reconciles.
type Scanner struct {
	logger *zap.Logger
}

// New creates a dataset scanner.
func New(logger *zap.Logger) *Scanner {
	return &Scanner{logger: logger}
}

// Scan treats each immediate, non-hidden subdirectory of basePath as one
// dataset. A missing root yields an empty inventory, not an error.
func (s *Scanner) Scan(basePath string) []api.DatasetInfo {
	var datasets []api.DatasetInfo

	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		s.logger.Warn("Dataset path does not exist", zap.String("path", basePath))
		return datasets
	}

	entries, err := os.ReadDir(basePath)
	if err != nil {
		s.logger.Error("Failed to read dataset path",
			zap.String("path", basePath),
			zap.Error(err),
		)
		return datasets
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !entry.IsDir() {
			continue
		}

		dirPath := filepath.Join(basePath, entry.Name())
		if dataset := s.scanDirectory(dirPath, entry.Name()); dataset != nil {
			datasets = append(datasets, *dataset)
		}
	}

	return datasets
}

// scanDirectory accumulates size, file count and format distribution for one
// dataset directory. Per-file walk errors are skipped so a single unreadable
// entry never aborts the scan.
func (s *Scanner) scanDirectory(path, name string) *api.DatasetInfo {
	var totalSize int64
	var fileCount int
	formatCounts := make(map[string]int)

	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}

		fileCount++
		totalSize += info.Size()

		if format := classify(info.Name()); format != "" {
			formatCounts[format]++
		}

		return nil
	})
	if err != nil {
		s.logger.Error("Error scanning dataset directory",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil
	}

	format := dominantFormat(formatCounts)

	absPath, _ := filepath.Abs(path)
	description := fmt.Sprintf("Auto-scanned dataset with %d files", fileCount)

	return &api.DatasetInfo{
		Name:        name,
		LocalPath:   absPath,
		SizeBytes:   &totalSize,
		FileCount:   &fileCount,
		Format:      format,
		Description: &description,
	}
}

// classify maps a file name to its format, handling the compound .tar.gz
// extension that filepath.Ext would split.
func classify(fileName string) string {
	lower := strings.ToLower(fileName)
	if strings.HasSuffix(lower, ".tar.gz") {
		return "archive"
	}
	return formatByExt[filepath.Ext(lower)]
}

// dominantFormat picks the format with the highest file count. Ties break to
// the lexicographically smaller name so repeated scans of the same tree
// always report the same format.
func dominantFormat(counts map[string]int) *string {
	if len(counts) == 0 {
		return nil
	}

	formats := make([]string, 0, len(counts))
	for format := range counts {
		formats = append(formats, format)
	}
	sort.Strings(formats)

	best := formats[0]
	for _, format := range formats[1:] {
		if counts[format] > counts[best] {
			best = format
		}
	}
	return &best
}
