package encoder

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func isStageSeparator(r rune) bool { return r == '_' || r == '-' || r == ' ' }

// FormatStage turns an encoder stage key such as "encoding_pass" into a
// display label such as "Encoding Pass".
func FormatStage(stage string) string {
	words := strings.FieldsFunc(stage, isStageSeparator)
	if len(words) == 0 {
		return ""
	}
	// Casers are stateful, so each call gets its own.
	return cases.Title(language.Und).String(strings.Join(words, " "))
}

// MessageText returns the update's message. Without one it summarizes the
// percent, ETA and speed, e.g. "Encoding 42.5% (ETA 1m30s, @ 2.0x)".
func MessageText(update Update) string {
	if message := strings.TrimSpace(update.Message); message != "" {
		return message
	}
	if update.Percent < 0 {
		return ""
	}
	label := FormatStage(update.Stage)
	if label == "" {
		label = "Progress"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %.1f%%", label, update.Percent)
	var extras []string
	if update.ETA > 0 {
		extras = append(extras, "ETA "+update.ETA.Round(time.Second).String())
	}
	if update.Speed > 0 {
		extras = append(extras, fmt.Sprintf("@ %.1fx", update.Speed))
	}
	if len(extras) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(extras, ", "))
	}
	return b.String()
}
