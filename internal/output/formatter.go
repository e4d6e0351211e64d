package output

import (
	"fmt"
	"io"

	"memlock/internal/locker"
	"memlock/internal/smaps"
	"memlock/internal/watch"
)

// TextFormatter writes lock results and mapping events as plain text.
type TextFormatter struct {
	w io.Writer
}

// NewTextFormatter creates a TextFormatter writing to w.
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{w: w}
}

// HandleLockResult writes one lock outcome line.
func (f *TextFormatter) HandleLockResult(result *locker.Result) error {
	m := &result.Mapping

	status := "locked"
	switch {
	case result.Skipped:
		status = "skipped"
	case result.Err != nil:
		status = "failed"
	case !result.Verified:
		status = "locked (unverified)"
	}
	if result.OnFault && result.Err == nil && !result.Skipped {
		status += " on-fault"
	}

	if _, err := fmt.Fprintf(f.w, "%-20s %s (%d bytes)", status, m, m.Size()); err != nil {
		return err
	}
	if result.Err != nil {
		if _, err := fmt.Fprintf(f.w, ": %v", result.Err); err != nil {
			return err
		}
	}
	for _, issue := range result.Issues {
		if _, err := fmt.Fprintf(f.w, " [%s]", issue); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(f.w)
	return err
}

// HandleMappingEvent writes one mapping change line.
func (f *TextFormatter) HandleMappingEvent(event *watch.Event) error {
	_, err := fmt.Fprintf(f.w, "%s %-8s %s\n",
		event.Time.Format("15:04:05.000"), event.TypeName(), &event.Mapping)
	return err
}

// PrintMappings writes a table of mappings followed by locked totals.
func PrintMappings(w io.Writer, mappings []smaps.Mapping) error {
	var totalKB, lockedKB uint64
	for i := range mappings {
		m := &mappings[i]

		flag := " "
		if m.Locked() {
			flag = "L"
		} else if m.LockedOnFault() {
			flag = "F"
		}
		if _, err := fmt.Fprintf(w, "%s %012x-%012x %s %8d kB rss %6d kB locked %s\n",
			flag, m.Start, m.End, m.Perms, m.RssKB, m.LockedKB, m.Path); err != nil {
			return err
		}

		totalKB += uint64(m.Size()) / 1024
		lockedKB += m.LockedKB
	}

	_, err := fmt.Fprintf(w, "%d mappings, %d kB mapped, %d kB locked\n",
		len(mappings), totalKB, lockedKB)
	return err
}

// Tee fans lock results out to multiple handlers. The first error wins but
// every handler still sees the result.
type Tee struct {
	handlers []locker.ResultHandler
}

// NewTee creates a Tee over the given handlers.
func NewTee(handlers ...locker.ResultHandler) *Tee {
	return &Tee{handlers: handlers}
}

// HandleLockResult forwards the result to every handler.
func (t *Tee) HandleLockResult(result *locker.Result) error {
	var firstErr error
	for _, h := range t.handlers {
		if err := h.HandleLockResult(result); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
