package output

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/trawl/internal/utils"
)

type transferView struct {
	ID          int
	Label       string
	URL         string
	Status      string
	Message     string
	StreamLines []string
	Complete    bool
	Total       int64
	Offset      int64
	Current     int64
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager renders live per-transfer progress to a terminal. It implements
// utils.ProgressSink; every method is safe for concurrent use.
type Manager struct {
	out         io.Writer
	logOut      io.Writer
	logs        lockedBuffer
	transfers   map[int]*transferView
	mutex       sync.RWMutex
	numLines    int
	errors      []ErrorReport
	batchDone   int
	batchTotal  int
	doneCh      chan struct{}
	displayTick time.Duration
	displayWg   sync.WaitGroup
	stopOnce    sync.Once
}

func NewManager() *Manager {
	m := NewManagerWithWriter(os.Stdout)
	m.logOut = os.Stderr
	return m
}

func NewManagerWithWriter(w io.Writer) *Manager {
	return &Manager{
		out:         w,
		logOut:      w,
		transfers:   make(map[int]*transferView),
		errors:      []ErrorReport{},
		doneCh:      make(chan struct{}),
		displayTick: 200 * time.Millisecond,
	}
}

func (m *Manager) view(id int) *transferView {
	info, exists := m.transfers[id]
	if !exists {
		info = &transferView{
			ID:          id,
			Status:      "pending",
			StreamLines: []string{},
			StartTime:   time.Now(),
			LastUpdated: time.Now(),
		}
		m.transfers[id] = info
	}
	return info
}

func (m *Manager) TransferPhase(id int, d utils.Descriptor, phase utils.Phase) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info := m.view(id)
	info.Label = d.Label()
	info.URL = d.URL()
	info.LastUpdated = time.Now()
	switch phase {
	case utils.PhasePending:
		info.Status = "pending"
	case utils.PhaseNegotiating:
		info.Status = "active"
		info.StartTime = time.Now()
		info.Message = fmt.Sprintf("Probing %s", info.Label)
	case utils.PhaseTransferring:
		info.Status = "active"
		info.Message = fmt.Sprintf("Downloading %s", info.Label)
	}
}

func (m *Manager) TransferStarted(id int, total, offset int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info := m.view(id)
	info.Total = total
	info.Offset = offset
	info.Current = offset
	if offset > 0 {
		info.Message = fmt.Sprintf("Resuming %s at %s", info.Label, FormatBytes(uint64(offset)))
	}
	m.renderProgress(info)
}

func (m *Manager) TransferProgress(id int, delta int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info := m.view(id)
	info.Current += delta
	m.renderProgress(info)
}

// renderProgress replaces the stream lines with a single progress line.
func (m *Manager) renderProgress(info *transferView) {
	elapsed := time.Since(info.StartTime).Seconds()
	speed := FormatSpeed(info.Current-info.Offset, elapsed)
	var display string
	if info.Total > 0 {
		text := fmt.Sprintf("%s / %s", FormatBytes(uint64(info.Current)), FormatBytes(uint64(info.Total)))
		display = fmt.Sprintf("%s%s %s %s", PrintProgressBar(info.Current, info.Total, 30), debugStyle.Render(text), StyleSymbols["bullet"], debugStyle.Render(speed))
	} else {
		display = debugStyle.Render(fmt.Sprintf("%s %s %s", FormatBytes(uint64(info.Current)), StyleSymbols["bullet"], speed))
	}
	info.StreamLines = []string{display}
	info.LastUpdated = time.Now()
}

func (m *Manager) TransferDone(id int, o utils.Outcome) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info := m.view(id)
	if info.Label == "" {
		info.Label = o.Descriptor.Label()
		info.URL = o.Descriptor.URL()
	}
	info.StreamLines = []string{}
	info.Complete = true
	info.LastUpdated = time.Now()
	switch o.Status {
	case utils.StatusSuccess:
		info.Status = "success"
		info.Message = fmt.Sprintf("Completed %s (%s)", info.Label, FormatBytes(uint64(o.Bytes)))
		if o.Resumed {
			info.Message += " resumed"
		}
	case utils.StatusSkipped:
		info.Status = "skipped"
		info.Message = fmt.Sprintf("Skipped %s, %s", info.Label, o.Reason)
	default:
		info.Status = "error"
		info.Message = fmt.Sprintf("Failed %s", info.Label)
		info.Error = o.Err
		m.errors = append(m.errors, ErrorReport{
			Label: info.Label,
			Error: o.Err,
			Time:  time.Now(),
		})
	}
}

func (m *Manager) BatchProgress(done, total int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.batchDone = done
	m.batchTotal = total
}

func (m *Manager) GetStatus(id int) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if info, exists := m.transfers[id]; exists {
		return info.Status
	}
	return "unknown"
}

func (m *Manager) GetStatusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	case "skipped":
		return warningStyle.Render(StyleSymbols["skip"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case "success":
		return successStyle.Render(message)
	case "error":
		return errorStyle.Render(message)
	case "skipped":
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

func (m *Manager) sortTransfers() (active, pending, completed []*transferView) {
	all := make([]*transferView, 0, len(m.transfers))
	for _, info := range m.transfers {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ID < all[j].ID
	})
	for _, f := range all {
		if f.Complete {
			completed = append(completed, f)
		} else if f.Status == "pending" {
			pending = append(pending, f)
		} else {
			active = append(active, f)
		}
	}
	return active, pending, completed
}

func (m *Manager) writeTransfer(info *transferView, lineCount *int, availableLines int) {
	statusDisplay := m.GetStatusIndicator(info.Status)
	elapsed := time.Since(info.StartTime).Round(time.Second)
	if info.Complete {
		elapsed = info.LastUpdated.Sub(info.StartTime).Round(time.Second)
	}
	fmt.Fprintf(m.out, "%s%s %s %s\n", strings.Repeat(" ", 2), statusDisplay, debugStyle.Render(elapsed.String()), styleMessage(info.Status, info.Message))
	*lineCount++
	indent := strings.Repeat(" ", 2+4)
	for _, line := range info.StreamLines {
		if *lineCount >= availableLines {
			return
		}
		fmt.Fprintf(m.out, "%s%s\n", indent, streamStyle.Render(line))
		*lineCount++
	}
}

func (m *Manager) updateDisplay() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	availableLines := getTerminalHeight() - 3 // Leave some buffer for prompt
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}

	lineCount := 0
	active, pending, completed := m.sortTransfers()

	// trim completed transfers first when the screen is too small
	totalNeeded := 1 + len(completed)
	for _, f := range active {
		totalNeeded += 1 + len(f.StreamLines)
	}
	if len(pending) > 0 {
		totalNeeded++
	}
	if totalNeeded > availableLines {
		maxCompleted := max(availableLines-(totalNeeded-len(completed)), 0)
		if len(completed) > maxCompleted {
			completed = completed[len(completed)-maxCompleted:]
		}
	}

	if m.batchTotal > 0 {
		header := fmt.Sprintf("%d/%d transfers finished", m.batchDone, m.batchTotal)
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2), headerStyle.Render(header))
		lineCount++
	}
	for _, f := range active {
		if lineCount >= availableLines {
			break
		}
		m.writeTransfer(f, &lineCount, availableLines)
	}
	if len(pending) > 0 && lineCount < availableLines {
		fmt.Fprintf(m.out, "%s%s %s\n", strings.Repeat(" ", 2), m.GetStatusIndicator("pending"),
			pendingStyle.Render(fmt.Sprintf("%d waiting...", len(pending))))
		lineCount++
	}
	if len(completed) > 10 && lineCount < availableLines {
		fmt.Fprintf(m.out, "%s\n", infoStyle.Render(fmt.Sprintf("%s%d transfers completed with hidden status ...", strings.Repeat(" ", 2), len(completed)-8)))
		completed = completed[len(completed)-8:]
		lineCount++
	}
	for _, f := range completed {
		if lineCount >= availableLines {
			break
		}
		m.writeTransfer(f, &lineCount, availableLines)
	}
	m.numLines = lineCount
}

// StartDisplay redraws the live view until StopDisplay is called.
func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				m.flushLogs()
				m.ShowSummary()
				return
			}
		}
	}()
}

// StopDisplay draws the final frame and the summary. It is safe to call more than once.
func (m *Manager) StopDisplay() {
	m.stopOnce.Do(func() {
		close(m.doneCh)
		m.displayWg.Wait()
	})
}

// LogWriter collects log output while the display owns the terminal. The lines are
// written out below the final frame when the display stops.
func (m *Manager) LogWriter() io.Writer {
	return &m.logs
}

func (m *Manager) flushLogs() {
	m.logs.mu.Lock()
	defer m.logs.mu.Unlock()
	if m.logs.buf.Len() == 0 {
		return
	}
	fmt.Fprintln(m.logOut)
	m.logs.buf.WriteTo(m.logOut)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, err := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(fmt.Sprintf("Transfer: %s", err.Label)))
		for _, line := range wrapText(fmt.Sprintf("Error: %v", err.Error), 2+4) {
			fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(line))
		}
	}
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Fprintln(m.out)
	var success, skipped, failures int
	for _, info := range m.transfers {
		switch info.Status {
		case "success":
			success++
		case "skipped":
			skipped++
		case "error":
			failures++
		}
	}
	total := len(m.transfers)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, total)))
	if skipped > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+warningStyle.Render(fmt.Sprintf("Skipped %d of %d", skipped, total)))
	}
	if failures > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, total)))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}
