package engine

import (
	"fmt"
	"strings"

	"github.com/smoosense/smoosense/internal/dataset"
)

// ScanExpr renders the table function that reads every file of ds. Files
// are listed explicitly so the scan sees exactly the fingerprinted set.
func (e *Engine) ScanExpr(ds *dataset.Dataset) string {
	return ScanExpr(ds.Format, ds.FilePaths(), e.csvSample)
}

// ScanExpr renders a table function over files of one format.
func ScanExpr(format dataset.Format, files []string, csvSample int) string {
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = QuoteLiteral(f)
	}
	list := "[" + strings.Join(quoted, ", ") + "]"

	switch format {
	case dataset.FormatParquet:
		return fmt.Sprintf("read_parquet(%s, union_by_name = true)", list)
	case dataset.FormatCSV:
		return fmt.Sprintf("read_csv(%s, union_by_name = true, sample_size = %d)", list, csvSample)
	case dataset.FormatTSV:
		return fmt.Sprintf("read_csv(%s, delim = '\\t', union_by_name = true, sample_size = %d)", list, csvSample)
	case dataset.FormatJSON:
		return fmt.Sprintf("read_json_auto(%s, union_by_name = true, sample_size = %d)", list, csvSample)
	}
	return fmt.Sprintf("read_csv(%s, sample_size = %d)", list, csvSample)
}
