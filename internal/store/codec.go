package store

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"cycle-scheduler/internal/models"
)

// Format selects the workbook encoding used by the file and S3 backends.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks a format from a file or object name, defaulting to YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// ScheduleLayout is the spreadsheet-friendly layout accepted besides RFC 3339.
const ScheduleLayout = "2006-01-02 15:04"

type workbook struct {
	Accounts  []accountRecord  `json:"accounts" yaml:"accounts"`
	WorkItems []workItemRecord `json:"work_items" yaml:"work_items"`
}

type accountRecord struct {
	ID            string `json:"id" yaml:"id"`
	Status        string `json:"status" yaml:"status"`
	CredentialRef string `json:"credential_ref,omitempty" yaml:"credential_ref,omitempty"`
	DisplayName   string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
}

type workItemRecord struct {
	ID          string         `json:"id" yaml:"id"`
	AccountID   string         `json:"account_id" yaml:"account_id"`
	ScheduledAt string         `json:"scheduled_at" yaml:"scheduled_at"`
	Status      string         `json:"status" yaml:"status"`
	Payload     map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
	TargetRef   string         `json:"target_ref,omitempty" yaml:"target_ref,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty" yaml:"error_detail,omitempty"`
}

// ParseScheduledAt accepts RFC 3339 or ScheduleLayout interpreted in loc.
func ParseScheduledAt(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty scheduled_at")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(ScheduleLayout, raw, loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse scheduled_at %q", raw)
	}
	return t, nil
}

// decodeWorkbook parses a workbook. Rows whose schedule cannot be parsed are
// kept unscheduled (never due) and their raw text is written back unchanged.
func decodeWorkbook(data []byte, format Format, loc *time.Location) (*Snapshot, error) {
	var wb workbook
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &wb)
	default:
		err = yaml.Unmarshal(data, &wb)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s workbook", format)
	}

	accounts := make([]models.Account, 0, len(wb.Accounts))
	for _, a := range wb.Accounts {
		accounts = append(accounts, models.Account{
			ID:            a.ID,
			Status:        models.AccountStatus(strings.ToLower(strings.TrimSpace(a.Status))),
			CredentialRef: a.CredentialRef,
			DisplayName:   a.DisplayName,
		})
	}

	raw := make(map[string]string)
	items := make([]models.WorkItem, 0, len(wb.WorkItems))
	for _, r := range wb.WorkItems {
		item := models.WorkItem{
			ID:          r.ID,
			AccountID:   r.AccountID,
			Status:      models.WorkItemStatus(strings.ToLower(strings.TrimSpace(r.Status))),
			Payload:     r.Payload,
			TargetRef:   r.TargetRef,
			ErrorDetail: r.ErrorDetail,
		}
		if t, err := ParseScheduledAt(r.ScheduledAt, loc); err == nil {
			item.ScheduledAt = t
		} else {
			raw[r.ID] = r.ScheduledAt
		}
		items = append(items, item)
	}

	snap := NewSnapshot(accounts, items)
	snap.scheduleRaw = raw
	return snap, nil
}

func encodeWorkbook(snap *Snapshot, format Format) ([]byte, error) {
	wb := workbook{
		Accounts:  make([]accountRecord, 0, len(snap.Accounts)),
		WorkItems: make([]workItemRecord, 0, len(snap.WorkItems)),
	}
	for _, a := range snap.Accounts {
		wb.Accounts = append(wb.Accounts, accountRecord{
			ID:            a.ID,
			Status:        string(a.Status),
			CredentialRef: a.CredentialRef,
			DisplayName:   a.DisplayName,
		})
	}
	for _, item := range snap.WorkItems {
		scheduled := snap.scheduleRaw[item.ID]
		if !item.ScheduledAt.IsZero() {
			scheduled = item.ScheduledAt.Format(time.RFC3339)
		}
		wb.WorkItems = append(wb.WorkItems, workItemRecord{
			ID:          item.ID,
			AccountID:   item.AccountID,
			ScheduledAt: scheduled,
			Status:      string(item.Status),
			Payload:     item.Payload,
			TargetRef:   item.TargetRef,
			ErrorDetail: item.ErrorDetail,
		})
	}

	if format == FormatJSON {
		data, err := json.MarshalIndent(wb, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "encode json workbook")
		}
		return append(data, '\n'), nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(wb); err != nil {
		return nil, errors.Wrap(err, "encode yaml workbook")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encode yaml workbook")
	}
	return buf.Bytes(), nil
}
