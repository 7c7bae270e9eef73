/*
 * @module service/ingest/parser
 * @description 上传文件解析：CSV/TXT/Excel 转换为统一的字符串表格
 * @architecture 分层架构 - 服务层
 * @documentReference DESIGN.md
 * @stateFlow 校验文件名与大小 -> 编码识别 -> 解析行 -> 规范表头 -> 对齐行宽
 * @rules 解析失败不创建会话；编码依次尝试 UTF-8、GBK、GB18030、Latin-1
 * @dependencies github.com/xuri/excelize/v2, golang.org/x/text
 * @refs service/pipeline/controller.go, api/controllers/session_controller.go
 */

package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"survey-pipeline-service/service/apperr"
	"survey-pipeline-service/service/config"
	"survey-pipeline-service/service/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// 非数据工作表名称
var skipSheets = map[string]bool{
	"info":     true,
	"metadata": true,
	"about":    true,
	"readme":   true,
	"notes":    true,
}

// Parser 上传文件解析器
type Parser struct {
	cfg config.UploadConfig
}

// NewParser 创建解析器
func NewParser(cfg config.UploadConfig) *Parser {
	return &Parser{cfg: cfg}
}

// Parse 解析上传内容，失败时返回校验错误
func (p *Parser) Parse(filename string, content []byte) (*models.Table, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if filename == "" || !p.cfg.AllowsExtension(ext) {
		return nil, apperr.Validation(fmt.Sprintf("不支持的文件类型: %s，仅支持 %s",
			filename, strings.Join(p.cfg.AllowedExtensions, "/")))
	}
	if len(content) == 0 {
		return nil, apperr.Validation("上传文件为空")
	}
	if p.cfg.MaxBytes > 0 && int64(len(content)) > p.cfg.MaxBytes {
		return nil, apperr.Validation(fmt.Sprintf("文件大小 %d 字节超过上限 %d 字节", len(content), p.cfg.MaxBytes))
	}

	var (
		records [][]string
		err     error
	)
	switch ext {
	case "xlsx":
		records, err = parseExcel(content)
	default:
		records, err = parseDelimited(content, ext == "txt")
	}
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	table, err := buildTable(records)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	slog.Info("上传文件解析完成", "filename", filename, "rows", table.RowCount(), "columns", len(table.Columns))
	return table, nil
}

// DecodeText 识别编码并转换为 UTF-8
func DecodeText(content []byte) (string, string) {
	if bytes.HasPrefix(content, utf8BOM) {
		return string(content[len(utf8BOM):]), "utf-8"
	}
	if utf8.Valid(content) {
		return string(content), "utf-8"
	}

	candidates := []struct {
		name string
		enc  encoding.Encoding
	}{
		{"gbk", simplifiedchinese.GBK},
		{"gb18030", simplifiedchinese.GB18030},
	}
	for _, c := range candidates {
		decoded, _, err := transform.Bytes(c.enc.NewDecoder(), content)
		if err == nil && !bytes.ContainsRune(decoded, utf8.RuneError) {
			return string(decoded), c.name
		}
	}

	decoded, _, _ := transform.Bytes(charmap.ISO8859_1.NewDecoder(), content)
	return string(decoded), "latin-1"
}

func parseDelimited(content []byte, isTxt bool) ([][]string, error) {
	text, enc := DecodeText(content)
	slog.Debug("文本编码识别", "encoding", enc)

	reader := csv.NewReader(strings.NewReader(text))
	if isTxt {
		firstLine := text
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			firstLine = text[:i]
		}
		if strings.Contains(firstLine, "\t") {
			reader.Comma = '\t'
		}
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析文本文件失败: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func parseExcel(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("无法读取Excel文件: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("Excel文件不包含工作表")
	}

	sheetName := ""
	for _, sheet := range sheets {
		if !skipSheets[strings.ToLower(strings.TrimSpace(sheet))] {
			sheetName = sheet
			break
		}
	}
	if sheetName == "" {
		sheetName = sheets[len(sheets)-1]
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("读取工作表 %s 失败: %w", sheetName, err)
	}
	return rows, nil
}

// buildTable 首行为表头，其余行对齐到表头宽度，整行空白的数据行被丢弃
func buildTable(records [][]string) (*models.Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("文件没有表头")
	}

	headers := normalizeHeaders(records[0])
	if len(headers) == 0 {
		return nil, fmt.Errorf("文件没有表头")
	}

	rows := make([][]string, 0, len(records)-1)
	for _, record := range records[1:] {
		if isBlankRecord(record) {
			continue
		}
		row := make([]string, len(headers))
		for i := range row {
			if i < len(record) {
				row[i] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("文件没有数据行")
	}

	return &models.Table{Columns: headers, Rows: rows}, nil
}

// normalizeHeaders 去除空白，空表头命名为 列N，重复表头追加 _N 后缀
func normalizeHeaders(raw []string) []string {
	last := len(raw)
	for last > 0 && strings.TrimSpace(raw[last-1]) == "" {
		last--
	}

	headers := make([]string, 0, last)
	seen := make(map[string]int, last)
	for i := 0; i < last; i++ {
		name := strings.TrimSpace(raw[i])
		if name == "" {
			name = fmt.Sprintf("列%d", i+1)
		}
		base := name
		for seen[name] > 0 {
			seen[base]++
			name = fmt.Sprintf("%s_%d", base, seen[base])
		}
		seen[name]++
		headers = append(headers, name)
	}
	return headers
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
