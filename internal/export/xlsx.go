// Package export renders a project's effective SEO-requirements matrix as
// an Excel workbook for offline review.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"briefdesk/api/internal/store"
)

var matrixHeader = []string{
	"Content Type",
	"Channel",
	"Language",
	"SEO Required",
	"Decided By",
	"Primary Keyword",
	"Updated",
}

const sheetName = "SEO Requirements"

// RequirementsMatrix renders one row per variant with the resolved value and
// its provenance. Content types and channels are passed in so ids can be
// rendered as display names.
func RequirementsMatrix(project store.Project, contentTypes []store.ContentType, channels []store.Channel, rows []store.EffectiveRequirement) ([]byte, error) {
	contentTypeNames := make(map[string]string, len(contentTypes))
	for _, ct := range contentTypes {
		contentTypeNames[ct.ID] = ct.Name
	}
	channelNames := make(map[string]string, len(channels))
	for _, ch := range channels {
		channelNames[ch.ID] = ch.Name
	}

	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	if err := f.SetCellValue(sheetName, "A1", fmt.Sprintf("SEO requirements: %s", project.Name)); err != nil {
		f.Close()
		return nil, fmt.Errorf("set title cell: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", "A1", headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("style title cell: %w", err)
	}

	for col, title := range matrixHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("header cell name: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			f.Close()
			return nil, fmt.Errorf("set header cell: %w", err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("style header cell: %w", err)
		}
	}

	for i, row := range rows {
		channel := "(none)"
		if row.ChannelID != nil {
			if name, ok := channelNames[*row.ChannelID]; ok {
				channel = name
			} else {
				channel = *row.ChannelID
			}
		}
		contentType := row.ContentTypeID
		if name, ok := contentTypeNames[row.ContentTypeID]; ok {
			contentType = name
		}
		required := "No"
		if row.Required {
			required = "Yes"
		}
		primaryKeyword := ""
		if row.PrimaryKeyword != nil {
			primaryKeyword = *row.PrimaryKeyword
		}

		values := []any{
			contentType,
			channel,
			row.Language,
			required,
			string(row.Source),
			primaryKeyword,
			row.UpdatedAt.Format(time.RFC3339),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+3)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("data cell name: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("set data cell: %w", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}

	return buf.Bytes(), nil
}
