package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/Coffee285/AVS-sub001/internal/job"
)

// fieldAliases maps a folded key (lowercase, "_" and "-" removed) to the
// canonical JobStatus field it populates.
var fieldAliases = map[string]string{
	"jobid":           "jobId",
	"id":              "jobId",
	"label":           "label",
	"name":            "label",
	"status":          "status",
	"state":           "status",
	"jobstatus":       "status",
	"percent":         "percent",
	"progress":        "percent",
	"progresspercent": "percent",
	"percentcomplete": "percent",
	"stage":           "stage",
	"progressstage":   "stage",
	"currentstage":    "stage",
	"message":         "message",
	"progressmessage": "message",
	"outputpath":      "outputPath",
	"output":          "outputPath",
	"outputfile":      "outputPath",
	"errormessage":    "errorMessage",
	"error":           "errorMessage",
	"errormsg":        "errorMessage",
	"source":          "source",
	"sourcepath":      "source",
	"priority":        "priority",
	"attempt":         "attempt",
	"retryof":         "retryOf",
	"createdat":       "createdAt",
	"startedat":       "startedAt",
	"completedat":     "completedAt",
	"updatedat":       "updatedAt",
}

func foldKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}

// aliasRank orders competing keys for one field: the exact canonical
// spelling, then the canonical name in another case, then any alias. Equal
// ranks resolve to the first key in sorted order.
func aliasRank(key, canonical string) int {
	switch {
	case key == canonical:
		return 0
	case foldKey(key) == foldKey(canonical):
		return 1
	default:
		return 2
	}
}

// ParseStatus normalizes a status string from any historical naming.
func ParseStatus(value string) (job.Status, bool) {
	return job.ParseStatus(value)
}

// UnmarshalJSON decodes a job status payload, accepting every field alias in
// any case. When several keys name the same field the canonical spelling
// wins regardless of key order.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields := make(map[string]json.RawMessage, len(raw))
	ranks := make(map[string]int, len(raw))
	for _, key := range slices.Sorted(maps.Keys(raw)) {
		canonical, ok := fieldAliases[foldKey(key)]
		if !ok {
			continue
		}
		rank := aliasRank(key, canonical)
		if best, seen := ranks[canonical]; seen && best <= rank {
			continue
		}
		ranks[canonical] = rank
		fields[canonical] = raw[key]
	}

	var out JobStatus
	strs := map[string]*string{
		"jobId":        &out.JobID,
		"label":        &out.Label,
		"stage":        &out.Stage,
		"message":      &out.Message,
		"outputPath":   &out.OutputPath,
		"errorMessage": &out.ErrorMessage,
		"source":       &out.Source,
		"retryOf":      &out.RetryOf,
		"createdAt":    &out.CreatedAt,
		"startedAt":    &out.StartedAt,
		"completedAt":  &out.CompletedAt,
		"updatedAt":    &out.UpdatedAt,
	}
	for name, dst := range strs {
		if value, ok := fields[name]; ok {
			text, err := decodeString(value)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = text
		}
	}
	if value, ok := fields["status"]; ok {
		text, err := decodeString(value)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		if status, ok := ParseStatus(text); ok {
			out.Status = string(status)
		} else {
			out.Status = strings.ToLower(strings.TrimSpace(text))
		}
	}
	ints := map[string]*int{
		"percent":  &out.Percent,
		"priority": &out.Priority,
		"attempt":  &out.Attempt,
	}
	for name, dst := range ints {
		if value, ok := fields[name]; ok {
			n, err := decodeNumber(value)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}
	out.Percent = job.ClampPercent(out.Percent)
	*s = out
	return nil
}

func decodeString(value json.RawMessage) (string, error) {
	if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(value, &text); err == nil {
		return text, nil
	}
	var number json.Number
	if err := json.Unmarshal(value, &number); err == nil {
		return number.String(), nil
	}
	return "", fmt.Errorf("expected string, got %s", string(value))
}

// decodeNumber accepts integers, floats (rounded) and numeric strings.
func decodeNumber(value json.RawMessage) (int, error) {
	text, err := decodeString(value)
	if err != nil {
		return 0, err
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "%")
	if text == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expected number, got %q", text)
	}
	return int(math.Round(f)), nil
}
