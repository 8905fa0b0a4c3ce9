package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	cl "gilded/internal/cli"
	"gilded/internal/economy"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)

	styled      bool
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// setupOutput switches to plain tab-separated output when stdout is not a terminal.
func setupOutput() {
	styled = term.IsTerminal(int(os.Stdout.Fd()))
	if !styled {
		color.NoColor = true
	}
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Fprintln(os.Stderr, msg)
}

func printError(msg string) {
	danger.Fprintln(os.Stderr, msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s is required (use --token when stdin is not a terminal)", strings.ToLower(label))
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderTable(title string, headers []string, rows [][]string) {
	if !styled {
		fmt.Println(strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Println(strings.Join(row, "\t"))
		}
		return
	}
	accent.Printf("\n== %s ==\n", title)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Println(t.Render())
	fmt.Println()
}

func renderAccounts(accounts []economy.Account) {
	if len(accounts) == 0 {
		printInfo("No accounts yet.")
		return
	}
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, []string{
			a.PlayerID,
			truncate(a.DisplayName, 24),
			colorizeGold(a.Balance),
			strconv.Itoa(len(a.Subscriptions)),
			strconv.Itoa(len(a.Inventory)),
		})
	}
	renderTable("ACCOUNTS", []string{"PLAYER", "NAME", "BALANCE", "SUBS", "ITEMS"}, rows)
}

func renderAccount(a economy.Account) {
	accent.Printf("\n== %s (%s) ==\n", a.DisplayName, a.PlayerID)
	fmt.Printf("Balance:       %s\n", colorizeGold(a.Balance))
	fmt.Printf("Subscriptions: %s\n", listOrNone(a.Subscriptions))
	fmt.Printf("Inventory:     %s\n", listOrNone(a.Inventory))
	fmt.Printf("Since:         %s\n\n", a.CreatedAt.Local().Format("2006-01-02 15:04"))
}

func renderLog(entries []economy.LogEntry) {
	if len(entries) == 0 {
		printInfo("No transactions.")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			truncate(e.Player, 20),
			string(e.Kind),
			colorizeGold(e.Delta),
			strconv.FormatInt(e.Balance, 10),
			truncate(e.Description, 48),
		})
	}
	renderTable("TRANSACTION LOG", []string{"TIME", "PLAYER", "KIND", "DELTA", "BALANCE", "DESCRIPTION"}, rows)
}

func renderMarket(items []economy.MarketItem) {
	if len(items) == 0 {
		printInfo("The black market is empty.")
		return
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{item.Name, strconv.FormatInt(item.Cost, 10), truncate(item.Description, 60)})
	}
	renderTable("BLACK MARKET", []string{"ITEM", "COST", "DESCRIPTION"}, rows)
}

func renderPlans(plans []cl.Plan) {
	rows := make([][]string, 0, len(plans))
	for _, p := range plans {
		rows = append(rows, []string{p.Name, strconv.FormatInt(p.Cost, 10)})
	}
	renderTable("SUBSCRIPTION PLANS", []string{"PLAN", "GOLD / SESSION"}, rows)
}

func renderSessionReport(report economy.SessionReport) {
	rows := make([][]string, 0, len(report.Balances))
	for _, b := range report.Balances {
		rows = append(rows, []string{
			truncate(b.DisplayName, 24),
			strconv.FormatInt(b.Billed, 10),
			colorizeGold(b.Interest),
			colorizeGold(b.Balance),
		})
	}
	renderTable("SESSION BALANCES", []string{"PLAYER", "BILLED", "INTEREST", "BALANCE"}, rows)
	renderMarket(report.Offering)
	printSuccess("Session started.")
}

func colorizeGold(v int64) string {
	text := strconv.FormatInt(v, 10)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
