package httpapi

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"wisefido-bioauth/internal/models"
)

// ProfileExportHeader 档案导出表头
var ProfileExportHeader = []string{
	"Person ID",
	"Display Name",
	"HR Baseline",
	"HR Min",
	"HR Max",
	"HR StdDev",
	"Breathing Baseline",
	"Confidence Threshold",
	"Secondary Sensor",
	"Created At",
}

// GenerateProfilesExport 生成档案导出 Excel 文件
// profiles: 档案列表，如果为空则只生成表头
func GenerateProfilesExport(profiles []models.Profile) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	sheetName := "Biometric Profiles"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	// 设置表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 写入表头
	for col, header := range ProfileExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	// 设置列宽
	columnWidths := []float64{
		28, // Person ID
		20, // Display Name
		12, // HR Baseline
		10, // HR Min
		10, // HR Max
		12, // HR StdDev
		18, // Breathing Baseline
		20, // Confidence Threshold
		16, // Secondary Sensor
		20, // Created At
	}
	for i := range ProfileExportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	// 写入数据
	for rowIdx, p := range profiles {
		row := rowIdx + 2 // 从第2行开始（第1行是表头）

		breathing := ""
		if p.BreathingBaseline != nil {
			breathing = strconv.FormatFloat(*p.BreathingBaseline, 'f', 1, 64)
		}
		secondary := "No"
		if p.HasSecondarySensor {
			secondary = "Yes"
		}

		values := []interface{}{
			p.PersonID,
			p.DisplayName,
			p.HeartRateBaseline,
			p.HeartRateMin,
			p.HeartRateMax,
			p.HeartRateStdDev,
			breathing,
			p.ConfidenceThreshold,
			secondary,
			p.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		for colIdx, value := range values {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, colIdx+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	// Write to bytes buffer
	// Note: File must remain open during Write operation
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}
