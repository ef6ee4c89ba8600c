package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"servopulse/host/link"
	"servopulse/sim"
)

func statusTable(st *link.ServoStatus) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Clock", st.Clock},
		{"Phase", st.Phase},
		{"Width (us)", st.Width},
		{"Pending (us)", st.Pending},
		{"Periods", st.Periods},
	})
	return t.Render()
}

func dictionaryTable(d *link.Dictionary) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"ID", "Name", "Format"})
	for _, name := range d.Names() {
		cmd := d.Commands[name]
		t.AppendRow(table.Row{cmd.ID, cmd.Name, cmd.Format})
	}
	return t.Render()
}

func reportTable(res *sim.Result) string {
	r := res.Report
	t := table.NewWriter()
	t.SetTitle(res.Scenario.Name)
	t.AppendHeader(table.Row{"Metric", "Min", "Max", "Mean", "StdDev"})
	t.AppendRow(table.Row{"Period (ticks)", r.PeriodMin, r.PeriodMax,
		fmt.Sprintf("%.1f", r.PeriodMean), fmt.Sprintf("%.2f", r.PeriodStdDev)})
	t.AppendRow(table.Row{"Width (ticks)", r.WidthMin, r.WidthMax,
		fmt.Sprintf("%.1f", r.WidthMean), fmt.Sprintf("%.2f", r.WidthStdDev)})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Periods", len(r.Pulses)})
	t.AppendRow(table.Row{"Glitches", r.Glitches})
	t.AppendRow(table.Row{"Requests", res.Requests})
	t.AppendRow(table.Row{"Commits", res.Status.Commits})
	t.AppendRow(table.Row{"Late compares", res.Status.Late})
	return t.Render()
}
