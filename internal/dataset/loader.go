package dataset

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"comms-intel-go/internal/types"
)

// Load reads the master communications spreadsheet into source records.
// Column positions are detected from header names by heuristics since
// the exported sheets are not stable across sources.
func Load(path string) ([]types.SourceRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	idIdx := -1
	kindIdx := -1
	audioIdx := -1
	bodyIdx := -1
	customerIdx := -1
	nameIdx := -1
	receivedIdx := -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case audioIdx == -1 && (strings.Contains(l, "audio") || strings.Contains(l, "recording") ||
			(strings.Contains(l, "call") && strings.Contains(l, "link"))):
			audioIdx = i
		case bodyIdx == -1 && (strings.Contains(l, "content") || strings.Contains(l, "body") ||
			strings.Contains(l, "email") && strings.Contains(l, "text")):
			bodyIdx = i
		case customerIdx == -1 && strings.Contains(l, "customer") && strings.Contains(l, "id"):
			customerIdx = i
		case nameIdx == -1 && strings.Contains(l, "name"):
			nameIdx = i
		case receivedIdx == -1 && (strings.Contains(l, "received") || strings.Contains(l, "date")):
			receivedIdx = i
		case kindIdx == -1 && (strings.Contains(l, "kind") || strings.Contains(l, "type") ||
			strings.Contains(l, "origin") || strings.Contains(l, "channel")):
			kindIdx = i
		case idIdx == -1 && (l == "id" || strings.HasSuffix(l, "_id") || strings.Contains(l, "record")):
			idIdx = i
		}
	}

	var out []types.SourceRecord
	for i, r := range rows {
		if i == 0 {
			continue
		}
		rec := types.SourceRecord{ReceivedAt: time.Now().UTC()}
		if idIdx >= 0 && idIdx < len(r) && r[idIdx] != "" {
			rec.ID = strings.TrimSpace(r[idIdx])
		} else {
			rec.ID = uuid.New().String()
		}
		if customerIdx >= 0 && customerIdx < len(r) {
			rec.CustomerID = strings.TrimSpace(r[customerIdx])
		}
		if nameIdx >= 0 && nameIdx < len(r) {
			rec.CustomerName = strings.TrimSpace(r[nameIdx])
		}
		if receivedIdx >= 0 && receivedIdx < len(r) {
			if ts, ok := parseDate(r[receivedIdx]); ok {
				rec.ReceivedAt = ts
			}
		}

		audio := ""
		if audioIdx >= 0 && audioIdx < len(r) {
			audio = strings.TrimSpace(r[audioIdx])
		}
		body := ""
		if bodyIdx >= 0 && bodyIdx < len(r) {
			body = strings.TrimSpace(r[bodyIdx])
		}

		kind := ""
		if kindIdx >= 0 && kindIdx < len(r) {
			kind = strings.ToLower(strings.TrimSpace(r[kindIdx]))
		}
		switch {
		case strings.Contains(kind, "audio") || strings.Contains(kind, "call"):
			rec.OriginKind = types.OriginAudio
			rec.RawPayloadRef = audio
		case strings.Contains(kind, "email") || strings.Contains(kind, "mail"):
			rec.OriginKind = types.OriginEmail
			rec.RawPayloadRef = body
		case isURL(audio):
			rec.OriginKind = types.OriginAudio
			rec.RawPayloadRef = audio
		case body != "":
			rec.OriginKind = types.OriginEmail
			rec.RawPayloadRef = body
		}

		// skip rows with no usable payload
		if rec.RawPayloadRef == "" {
			continue
		}
		if rec.OriginKind == types.OriginAudio && !isURL(rec.RawPayloadRef) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func isURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "01/02/2006", "1/2/06 15:04"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
