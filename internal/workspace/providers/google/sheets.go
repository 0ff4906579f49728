package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

// Sheets implements tools.SheetsCapabilities.
type Sheets struct {
	client *providers.Client
	base   string
}

type sheetProps struct {
	Properties struct {
		Title string `json:"title"`
	} `json:"properties"`
}

type spreadsheet struct {
	SpreadsheetID  string `json:"spreadsheetId,omitempty"`
	SpreadsheetURL string `json:"spreadsheetUrl,omitempty"`
	Properties     struct {
		Title string `json:"title"`
	} `json:"properties"`
	Sheets []sheetProps `json:"sheets,omitempty"`
}

type valueRange struct {
	Range  string  `json:"range,omitempty"`
	Values [][]any `json:"values"`
}

type updateResponse struct {
	UpdatedRange string `json:"updatedRange"`
	UpdatedCells int    `json:"updatedCells"`
}

func toStrings(rows [][]any) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		row := make([]string, 0, len(r))
		for _, v := range r {
			row = append(row, fmt.Sprint(v))
		}
		out = append(out, row)
	}
	return out
}

func toValues(rows [][]string) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		row := make([]any, 0, len(r))
		for _, v := range r {
			row = append(row, v)
		}
		out = append(out, row)
	}
	return out
}

func (s *Sheets) CreateSpreadsheet(ctx context.Context, conn *models.WorkspaceConnection, p tools.CreateSpreadsheetParams) (*tools.Spreadsheet, error) {
	var body spreadsheet
	body.Properties.Title = p.Title
	for _, name := range p.Sheets {
		var sp sheetProps
		sp.Properties.Title = name
		body.Sheets = append(body.Sheets, sp)
	}

	var created spreadsheet
	if err := s.client.DoJSON(ctx, conn, http.MethodPost, s.base, nil, body, &created); err != nil {
		return nil, err
	}
	out := &tools.Spreadsheet{ID: created.SpreadsheetID, Title: created.Properties.Title, URL: created.SpreadsheetURL}
	for _, sh := range created.Sheets {
		out.Sheets = append(out.Sheets, sh.Properties.Title)
	}

	var rows [][]string
	if len(p.Headers) > 0 {
		rows = append(rows, p.Headers)
	}
	rows = append(rows, p.Rows...)
	if len(rows) == 0 {
		return out, nil
	}
	first := "Sheet1"
	if len(out.Sheets) > 0 {
		first = out.Sheets[0]
	}
	if _, err := s.UpdateRange(ctx, conn, tools.UpdateSpreadsheetParams{
		SpreadsheetID: out.ID,
		Range:         fmt.Sprintf("'%s'!A1", first),
		Values:        rows,
	}); err != nil {
		return nil, fmt.Errorf("seed spreadsheet %s: %w", out.ID, err)
	}
	return out, nil
}

func (s *Sheets) valuesURL(id, rng string) string {
	return s.base + "/" + providers.PathEscape(id) + "/values/" + providers.PathEscape(rng)
}

func (s *Sheets) ReadRange(ctx context.Context, conn *models.WorkspaceConnection, p tools.ReadSpreadsheetParams) (*tools.SheetValues, error) {
	var vr valueRange
	if err := s.client.DoJSON(ctx, conn, http.MethodGet, s.valuesURL(p.SpreadsheetID, p.Range), nil, nil, &vr); err != nil {
		return nil, err
	}
	return &tools.SheetValues{SpreadsheetID: p.SpreadsheetID, Range: vr.Range, Values: toStrings(vr.Values)}, nil
}

func (s *Sheets) UpdateRange(ctx context.Context, conn *models.WorkspaceConnection, p tools.UpdateSpreadsheetParams) (*tools.SheetValues, error) {
	body := valueRange{Range: p.Range, Values: toValues(p.Values)}
	q := url.Values{"valueInputOption": {"USER_ENTERED"}}

	var upd updateResponse
	if p.Append {
		q.Set("insertDataOption", "INSERT_ROWS")
		var out struct {
			Updates updateResponse `json:"updates"`
		}
		if err := s.client.DoJSON(ctx, conn, http.MethodPost, s.valuesURL(p.SpreadsheetID, p.Range)+":append", q, body, &out); err != nil {
			return nil, err
		}
		upd = out.Updates
	} else if err := s.client.DoJSON(ctx, conn, http.MethodPut, s.valuesURL(p.SpreadsheetID, p.Range), q, body, &upd); err != nil {
		return nil, err
	}
	return &tools.SheetValues{
		SpreadsheetID: p.SpreadsheetID,
		Range:         upd.UpdatedRange,
		Values:        p.Values,
		UpdatedCells:  upd.UpdatedCells,
	}, nil
}
