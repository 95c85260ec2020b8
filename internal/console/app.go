// Package console is the operator's terminal view of a running daemon: its
// status, the local buffer and a live event log.
package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	pageMain = "main"
	pageQR   = "qr"

	maxLogLines = 500
)

// App is the console application shell.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	status   *tview.TextView
	pending  *tview.Table
	log      *tview.TextView
	qr       *tview.TextView
	hints    *tview.TextView
	registry *Registry
	source   Source
	dataDir  string
	ctx      context.Context
	cancel   context.CancelFunc
	logLines []string
}

// NewApp creates the console. dataDir is watched for buffer changes; it may
// be empty.
func NewApp(source Source, dataDir string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		app:      tview.NewApplication(),
		pages:    tview.NewPages(),
		status:   tview.NewTextView().SetDynamicColors(true),
		pending:  tview.NewTable().SetFixed(1, 0).SetSelectable(true, false),
		log:      tview.NewTextView().SetDynamicColors(true).SetScrollable(true),
		qr:       tview.NewTextView().SetTextAlign(tview.AlignCenter),
		hints:    tview.NewTextView().SetDynamicColors(true),
		registry: NewRegistry(),
		source:   source,
		dataDir:  dataDir,
		ctx:      ctx,
		cancel:   cancel,
	}
	a.status.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	a.pending.SetBorder(true).SetTitle(" Pending ")
	a.log.SetBorder(true).SetTitle(" Events ")
	a.qr.SetBorder(true).SetTitle(" Link the bot (esc to close) ")

	a.setupBindings()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.Add("quit", &Action{
		Key: tcell.KeyRune, Rune: 'q', Description: "q:quit",
		Handler: func() { a.app.Stop() },
	})
	a.registry.Add("refresh", &Action{
		Key: tcell.KeyRune, Rune: 'r', Description: "r:refresh",
		Handler: func() { go a.refresh() },
	})
	a.registry.Add("sync", &Action{
		Key: tcell.KeyRune, Rune: 's', Description: "s:sync now",
		Handler: func() { go a.syncNow() },
	})
	a.registry.Add("close", &Action{
		Key: tcell.KeyEscape,
		Handler: func() { a.pages.SwitchToPage(pageMain) },
	})

	a.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if a.registry.HandleEvent(ev) {
			return nil
		}
		return ev
	})
}

func (a *App) setupLayout() {
	_, _ = fmt.Fprint(a.hints, " [::d]"+strings.Join(a.registry.Hints(), "  ")+"[-:-:-]")

	main := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.status, 1, 0, false).
		AddItem(a.pending, 0, 2, true).
		AddItem(a.log, 0, 1, false).
		AddItem(a.hints, 1, 0, false)

	a.pages.AddPage(pageMain, main, true, true)
	a.pages.AddPage(pageQR, a.qr, true, false)
	a.app.SetRoot(a.pages, true)
}

// Run starts the event stream, the file watcher and the UI. Blocks until the
// user quits.
func (a *App) Run() error {
	defer a.cancel()

	if a.dataDir != "" {
		w, err := Watch(a.dataDir, 200*time.Millisecond, func() { a.refresh() }, func(err error) {
			a.appendLog("[red]watch error: " + err.Error() + "[-]")
		})
		if err != nil {
			a.appendLog("[yellow]not watching " + a.dataDir + ": " + err.Error() + "[-]")
		} else {
			defer func() { _ = w.Close() }()
		}
	}

	go a.watchEvents()
	go a.tick()
	go a.refresh()

	return a.app.Run()
}

// tick refreshes the status bar periodically; file changes and events
// trigger the other refreshes.
func (a *App) tick() {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.refreshStatus()
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) watchEvents() {
	for {
		err := a.source.Watch(a.ctx, a.onEvent)
		if a.ctx.Err() != nil {
			return
		}
		a.appendLog("[red]event stream lost: " + err.Error() + "[-]")
		select {
		case <-time.After(3 * time.Second):
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) onEvent(evt *structpb.Struct) {
	kind := evt.GetFields()["kind"].GetStringValue()
	switch kind {
	case "chat.qr":
		code := evt.GetFields()["payload"].GetStringValue()
		a.app.QueueUpdateDraw(func() {
			a.qr.SetText("\nScan with WhatsApp on the bot's phone:\n\n" + RenderQR(code))
			a.pages.SwitchToPage(pageQR)
		})
	case "chat.linked":
		a.app.QueueUpdateDraw(func() { a.pages.SwitchToPage(pageMain) })
	}
	a.appendLog(tview.Escape(FormatEvent(evt)))
	if strings.HasPrefix(kind, "sync.") || strings.HasPrefix(kind, "daemon.") {
		a.refreshStatus()
	}
}

func (a *App) refresh() {
	a.refreshStatus()
	a.refreshPending()
}

func (a *App) refreshStatus() {
	ctx, cancel := context.WithTimeout(a.ctx, 3*time.Second)
	defer cancel()
	resp, err := a.source.Status(ctx)
	var line string
	if err != nil {
		line = " [red]daemon unreachable: " + tview.Escape(err.Error()) + "[-]"
	} else {
		line = StatusLine(resp)
	}
	a.app.QueueUpdateDraw(func() { a.status.SetText(line) })
}

func (a *App) refreshPending() {
	ctx, cancel := context.WithTimeout(a.ctx, 3*time.Second)
	defer cancel()
	resp, err := a.source.Pending(ctx)
	if err != nil {
		a.appendLog("[red]pending: " + tview.Escape(err.Error()) + "[-]")
		return
	}
	rows := PendingRows(resp)
	a.app.QueueUpdateDraw(func() { a.renderPending(rows) })
}

func (a *App) renderPending(rows []PendingRow) {
	a.pending.Clear()
	for col, h := range []string{"KIND", "ID", "OWNER", "STATUS", "ATTEMPTS"} {
		a.pending.SetCell(0, col, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, r := range rows {
		color := tcell.ColorDefault
		if r.Status == "offline_pending" {
			color = tcell.ColorYellow
		}
		cells := []string{r.Kind, r.ID, r.Owner, r.Status, fmt.Sprint(r.Attempts)}
		for col, c := range cells {
			a.pending.SetCell(i+1, col, tview.NewTableCell(tview.Escape(c)).SetTextColor(color))
		}
	}
	a.pending.SetTitle(fmt.Sprintf(" Pending (%d) ", len(rows)))
}

func (a *App) syncNow() {
	a.appendLog("manual sync requested")
	ctx, cancel := context.WithTimeout(a.ctx, time.Minute)
	defer cancel()
	resp, err := a.source.SyncNow(ctx)
	switch {
	case grpcstatus.Code(err) == codes.FailedPrecondition:
		a.appendLog("[yellow]a pass is already running[-]")
	case grpcstatus.Code(err) == codes.Canceled:
	case err != nil:
		a.appendLog("[red]sync failed: " + tview.Escape(err.Error()) + "[-]")
	default:
		f := resp.GetFields()
		if f["skipped"].GetBoolValue() {
			a.appendLog("[yellow]backend unreachable, pass skipped[-]")
		}
	}
	a.refresh()
}

func (a *App) appendLog(line string) {
	a.app.QueueUpdateDraw(func() {
		a.logLines = append(a.logLines, line)
		if len(a.logLines) > maxLogLines {
			a.logLines = a.logLines[len(a.logLines)-maxLogLines:]
		}
		a.log.SetText(strings.Join(a.logLines, "\n"))
		a.log.ScrollToEnd()
	})
}
