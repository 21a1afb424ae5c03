// Package tui implements the "dsu watch" terminal dashboard named in
// §4.13: a live device list bound to the inventory's EventBus plus a
// per-device queue progress view, grounded on the teacher's tui/app.go
// tview.Application wiring, narrowed from its multi-tab PLC tag browser
// down to the two views this domain needs.
package tui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"dsu/device"
	"dsu/inventory"
)

// App is the device-watch dashboard: a device table on the left, the
// selected device's queue progress on the right.
type App struct {
	app    *tview.Application
	table  *tview.Table
	detail *tview.TextView

	inv   *inventory.Inventory
	subID int

	rows []device.Summary
}

// New builds an App bound to inv. Call Run to start the event loop.
func New(inv *inventory.Inventory) *App {
	a := &App{inv: inv}

	a.table = tview.NewTable().SetBorders(false).SetSelectable(true, false)
	a.table.SetBorder(true).SetTitle(" devices ")

	a.detail = tview.NewTextView().SetDynamicColors(true)
	a.detail.SetBorder(true).SetTitle(" queue ")

	flex := tview.NewFlex().
		AddItem(a.table, 0, 2, true).
		AddItem(a.detail, 0, 1, false)

	a.app = tview.NewApplication().SetRoot(flex, true).SetFocus(a.table)

	a.table.SetSelectionChangedFunc(func(row, col int) {
		a.updateDetail(row)
	})

	a.refresh()
	a.subID = inv.Bus().Subscribe(func(inventory.Event) {
		a.app.QueueUpdateDraw(a.refresh)
	})

	a.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
			a.app.Stop()
			return nil
		}
		return ev
	})

	return a
}

// Run blocks until the user quits.
func (a *App) Run() error {
	defer a.inv.Bus().Unsubscribe(a.subID)
	return a.app.Run()
}

func (a *App) refresh() {
	a.rows = a.inv.Snapshot()

	a.table.Clear()
	headers := []string{"SERIAL", "NAME", "ADDRESS", "MODE", "PROGRESS"}
	for col, h := range headers {
		a.table.SetCell(0, col, tview.NewTableCell(h).SetSelectable(false).SetTextColor(tcell.ColorYellow))
	}

	for row, d := range a.rows {
		serial := d.Serial
		if serial == "" {
			serial = "(seed)"
		}
		addr := "-"
		if d.Settings.IP != nil {
			addr = fmt.Sprintf("%s:%d", d.Settings.IP, d.Settings.Port)
		}
		a.table.SetCell(row+1, 0, tview.NewTableCell(serial))
		a.table.SetCell(row+1, 1, tview.NewTableCell(d.Settings.Name))
		a.table.SetCell(row+1, 2, tview.NewTableCell(addr))
		a.table.SetCell(row+1, 3, tview.NewTableCell(d.Settings.BootMode.String()))
		a.table.SetCell(row+1, 4, tview.NewTableCell(fmt.Sprintf("%d%%", d.Progress)))
	}
}

func (a *App) updateDetail(row int) {
	idx := row - 1
	if idx < 0 || idx >= len(a.rows) {
		a.detail.SetText("")
		return
	}
	d := a.rows[idx]
	a.detail.SetText(fmt.Sprintf(
		"[yellow]serial:[-] %s\n[yellow]name:[-] %s\n[yellow]mode:[-] %s\n[yellow]fw:[-] %s\n[yellow]progress:[-] %d%%",
		d.Serial, d.Settings.Name, d.Settings.BootMode, d.Settings.FWVer, d.Progress,
	))
}
