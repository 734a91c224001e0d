package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgMagenta, color.Bold)
)

func stateColor(state string) *color.Color {
	switch state {
	case "yes":
		return successColor
	case "init", "waiting":
		return warningColor
	case "not_monitored":
		return color.New(color.FgBlack, color.Bold)
	default:
		return errorColor
	}
}

func renderStatus(rows []serviceStatus) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Service", "Group", "Type", "State", "Pid", "Restarts", "Pending"})
	table.SetBorder(false)
	table.SetRowSeparator("-")
	table.SetHeaderColor(
		tablewriter.Colors{tablewriter.FgMagentaColor, tablewriter.Bold},
		tablewriter.Colors{tablewriter.FgMagentaColor, tablewriter.Bold},
		tablewriter.Colors{tablewriter.FgMagentaColor, tablewriter.Bold},
		tablewriter.Colors{tablewriter.FgMagentaColor, tablewriter.Bold},
		tablewriter.Colors{tablewriter.FgMagentaColor, tablewriter.Bold},
		tablewriter.Colors{tablewriter.FgMagentaColor, tablewriter.Bold},
		tablewriter.Colors{tablewriter.FgMagentaColor, tablewriter.Bold},
	)

	for _, s := range rows {
		pid := ""
		if s.PID != 0 {
			pid = fmt.Sprintf("%d", s.PID)
		}
		table.Append([]string{
			s.Name, s.Group, s.Type, stateColor(s.State).Sprint(s.State), pid,
			fmt.Sprintf("%d", s.RestartAttempts), s.Pending,
		})
	}
	table.Render()
}

func renderSummary(rows []summaryLine) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Service", "Group", "Type", "State"})
	table.SetBorder(false)
	table.SetRowSeparator("-")
	table.SetHeaderColor(
		tablewriter.Colors{tablewriter.FgMagentaColor, tablewriter.Bold},
		tablewriter.Colors{tablewriter.FgMagentaColor, tablewriter.Bold},
		tablewriter.Colors{tablewriter.FgMagentaColor, tablewriter.Bold},
		tablewriter.Colors{tablewriter.FgMagentaColor, tablewriter.Bold},
	)
	for _, s := range rows {
		table.Append([]string{s.Name, s.Group, s.Type, stateColor(s.State).Sprint(s.State)})
	}
	table.Render()
}

func renderReport(counts map[string]int) {
	headerColor.Println("Report:")
	order := []string{"up", "down", "initializing", "unmonitored", "total"}
	for _, k := range order {
		n, ok := counts[k]
		if !ok {
			continue
		}
		switch k {
		case "up":
			successColor.Printf("  %-14s %d\n", k, n)
		case "down":
			errorColor.Printf("  %-14s %d\n", k, n)
		case "initializing":
			warningColor.Printf("  %-14s %d\n", k, n)
		default:
			infoColor.Printf("  %-14s %d\n", k, n)
		}
	}
}
