package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcriber"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

func buildTranscriptText(sessionID string, meta archiveMetadata, startedAt, endedAt time.Time, segments []repository.TranscriptSegment) []byte {
	loc := safeLocation(meta.loc)
	startText := startedAt.In(loc).Format(transcriptTimeLayout)
	endText := endedAt.In(loc).Format(transcriptTimeLayout)

	lines := []string{
		fmt.Sprintf("Session: %s", sessionID),
		fmt.Sprintf("Transcriber: %s (%s, %s)", meta.transcriber, meta.model, meta.language),
		fmt.Sprintf("Period: %s ~ %s (%s)", startText, endText, meta.timezone),
		fmt.Sprintf("Duration: %s", formatElapsedHMS(nonNegative(endedAt.Sub(startedAt)))),
		"",
	}
	for _, seg := range segments {
		elapsed := nonNegative(seg.SpokenAt.Sub(startedAt))
		text := formatFragment(transcriber.Fragment{Text: seg.Content, Speaker: seg.Speaker})
		lines = append(lines, fmt.Sprintf("%s %s", formatElapsedHMS(elapsed), text))
	}
	return []byte(strings.Join(lines, "\n"))
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
