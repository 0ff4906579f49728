package selector

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pysugar/workspace-nexus/internal/db/models"
)

// QualityTable rates how well each provider serves each capability, 0..1.
type QualityTable map[models.Provider]map[models.Capability]float64

const defaultQuality = 0.7

// DefaultQuality is the built-in rating table.
func DefaultQuality() QualityTable {
	return QualityTable{
		models.ProviderGoogleWorkspace: {
			models.CapabilityEmailRead:         0.95,
			models.CapabilityEmailSend:         0.95,
			models.CapabilityCalendarRead:      0.95,
			models.CapabilityCalendarCreate:    0.95,
			models.CapabilityCalendarEdit:      0.9,
			models.CapabilityCalendarDelete:    0.9,
			models.CapabilitySpreadsheetRead:   0.95,
			models.CapabilitySpreadsheetCreate: 0.95,
			models.CapabilitySpreadsheetEdit:   0.95,
			models.CapabilityDocumentRead:      0.95,
			models.CapabilityDocumentCreate:    0.95,
			models.CapabilityDocumentEdit:      0.95,
			models.CapabilityDriveRead:         0.9,
			models.CapabilityDriveUpload:       0.9,
			models.CapabilityDriveManage:       0.9,
		},
		models.ProviderMicrosoft365: {
			models.CapabilityEmailRead:         0.9,
			models.CapabilityEmailSend:         0.9,
			models.CapabilityCalendarRead:      0.95,
			models.CapabilityCalendarCreate:    0.95,
			models.CapabilityCalendarEdit:      0.95,
			models.CapabilityCalendarDelete:    0.95,
			models.CapabilitySpreadsheetRead:   0.9,
			models.CapabilitySpreadsheetCreate: 0.85,
			models.CapabilitySpreadsheetEdit:   0.9,
			models.CapabilityDocumentRead:      0.9,
			models.CapabilityDocumentCreate:    0.9,
			models.CapabilityDocumentEdit:      0.9,
			models.CapabilityDriveRead:         0.85,
			models.CapabilityDriveUpload:       0.85,
			models.CapabilityDriveManage:       0.85,
		},
		models.ProviderZoho: {
			models.CapabilityEmailRead:         0.85,
			models.CapabilityEmailSend:         0.85,
			models.CapabilityCalendarRead:      0.8,
			models.CapabilityCalendarCreate:    0.8,
			models.CapabilityCalendarEdit:      0.8,
			models.CapabilityCalendarDelete:    0.8,
			models.CapabilitySpreadsheetRead:   0.75,
			models.CapabilitySpreadsheetCreate: 0.75,
			models.CapabilitySpreadsheetEdit:   0.75,
			models.CapabilityDocumentRead:      0.8,
			models.CapabilityDocumentCreate:    0.8,
			models.CapabilityDocumentEdit:      0.8,
			models.CapabilityDriveRead:         0.75,
			models.CapabilityDriveUpload:       0.75,
			models.CapabilityDriveManage:       0.75,
		},
	}
}

// Rating returns the table entry, or a neutral rating when none exists.
func (q QualityTable) Rating(p models.Provider, c models.Capability) float64 {
	if byCap, ok := q[p]; ok {
		if r, ok := byCap[c]; ok {
			return r
		}
	}
	return defaultQuality
}

type qualityFile struct {
	Providers map[string]map[string]float64 `yaml:"providers"`
}

// LoadQuality returns DefaultQuality with entries from the YAML file at path
// laid over it. An empty path returns the defaults unchanged.
//
//	providers:
//	  ZOHO:
//	    SPREADSHEET_EDIT: 0.8
func LoadQuality(path string) (QualityTable, error) {
	table := DefaultQuality()
	path = strings.TrimSpace(path)
	if path == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quality file: %w", err)
	}
	var f qualityFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse quality file: %w", err)
	}

	for rawProvider, byCap := range f.Providers {
		p := models.Provider(strings.ToUpper(strings.TrimSpace(rawProvider)))
		if !p.Valid() {
			return nil, fmt.Errorf("quality file: unknown provider %q", rawProvider)
		}
		if table[p] == nil {
			table[p] = map[models.Capability]float64{}
		}
		for rawCap, rating := range byCap {
			c := models.Capability(strings.ToUpper(strings.TrimSpace(rawCap)))
			if !c.Valid() {
				return nil, fmt.Errorf("quality file: unknown capability %q for %s", rawCap, p)
			}
			if rating < 0 || rating > 1 {
				return nil, fmt.Errorf("quality file: rating %v for %s/%s outside 0..1", rating, p, c)
			}
			table[p][c] = rating
		}
	}
	return table, nil
}
