package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"crmcore/internal/blob"
	"crmcore/pkg/domain"
)

// Export formats.
const (
	ExportJSON = "json"
	ExportCSV  = "csv"
)

// ExportPrefix is the blob key prefix of export files.
const ExportPrefix = "exports/"

// ErrNoExportStore is returned by ExportRecords when no blob store is set.
var ErrNoExportStore = errors.New("no export store configured")

// ExportRecords writes the records of t the actor can see to the blob store
// and returns the stored object.
func (s *Service) ExportRecords(ctx context.Context, t EntityType, format string) (blob.Info, error) {
	if !t.Valid() {
		return blob.Info{}, fmt.Errorf("%w: %q", domain.ErrUnknownEntityType, t)
	}
	if !s.allowed(t, domain.PermExport) {
		return blob.Info{}, ErrForbidden
	}
	if s.exports == nil {
		return blob.Info{}, ErrNoExportStore
	}
	recs := s.VisibleRecords(t)
	var (
		payload     []byte
		contentType string
		err         error
	)
	switch format {
	case ExportJSON, "":
		format = ExportJSON
		contentType = "application/json"
		if recs == nil {
			recs = []Record{}
		}
		payload, err = json.MarshalIndent(recs, "", "  ")
	case ExportCSV:
		contentType = "text/csv"
		payload, err = encodeCSV(recs)
	default:
		return blob.Info{}, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode %s export: %w", t, err)
	}
	key := fmt.Sprintf("%s%s-%s.%s", ExportPrefix, t, s.now().UTC().Format("20060102T150405.000000000Z"), format)
	info, err := s.exports.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"entity": string(t), "records": fmt.Sprint(len(recs)), "actor": s.Actor().ID},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store export %s: %w", key, err)
	}
	s.log.Info().Str("entity", string(t)).Str("key", key).Int("records", len(recs)).Msg("export written")
	return info, nil
}

// encodeCSV writes a header of the base keys followed by the sorted union of
// field keys. Structured values are written as JSON.
func encodeCSV(recs []Record) ([]byte, error) {
	keySet := make(map[string]struct{})
	for _, rec := range recs {
		for k := range rec.Fields {
			keySet[k] = struct{}{}
		}
	}
	fields := make([]string, 0, len(keySet))
	for k := range keySet {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := append([]string{domain.KeyID, domain.KeyCreatedAt, domain.KeyUpdatedAt, domain.KeyCreatedBy}, fields...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range recs {
		row := []string{rec.ID, csvTime(rec.CreatedAt), csvTime(rec.UpdatedAt), rec.CreatedBy}
		for _, k := range fields {
			cell, err := csvCell(rec.Fields[k])
			if err != nil {
				return nil, err
			}
			row = append(row, cell)
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func csvTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return timestamp(t)
}

func csvCell(v any) (string, error) {
	switch typed := v.(type) {
	case nil:
		return "", nil
	case string:
		return typed, nil
	case json.Number:
		return typed.String(), nil
	case bool:
		return fmt.Sprint(typed), nil
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}
