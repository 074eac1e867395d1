package filter

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/nao1215/markdown"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginBottom(1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("14")).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16)

	safeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	dangerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// WriteReport renders a scan result in the given format
func WriteReport(w io.Writer, format string, msg *core.Message, result *core.ScanResult) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatMarkdown:
		return writeMarkdown(w, msg, result)
	default:
		_, err := io.WriteString(w, TextReport(msg, result))
		return err
	}
}

// TextReport renders a scan result as styled terminal output
func TextReport(msg *core.Message, result *core.ScanResult) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Phishing Scan Report"))
	sb.WriteString("\n")
	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label))
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	row("From", msg.SenderAddress)
	row("Subject", msg.Subject)
	row("Scan ID", mutedStyle.Render(result.ID))
	row("Verdict", verdictStyle(result.Verdict).Render(strings.ToUpper(string(result.Verdict))))
	row("Overall score", verdictStyle(result.Verdict).Render(strconv.Itoa(result.OverallScore)+"/100"))
	row("Duration", result.Duration.String())

	sb.WriteString(sectionStyle.Render("Identity"))
	sb.WriteString("\n")
	if result.Identity.Disabled {
		row("Status", mutedStyle.Render("disabled"))
	} else {
		row("Status", identityStyle(result.Identity.Status).Render(string(result.Identity.Status)))
		row("Domain", result.Identity.Domain)
		row("SPF / DKIM / DMARC", passFail(result.Identity.SPFPass)+" / "+passFail(result.Identity.DKIMPass)+" / "+passFail(result.Identity.DMARCPass))
		if result.Identity.Reason != "" {
			row("Reason", result.Identity.Reason)
		}
	}
	row("Sub-score", strconv.Itoa(result.SubScores.Identity))

	sb.WriteString(sectionStyle.Render("Reputation"))
	sb.WriteString("\n")
	if result.Reputation.Disabled {
		row("Status", mutedStyle.Render("disabled"))
	} else {
		row("Status", reputationStyle(result.Reputation.Status).Render(string(result.Reputation.Status)))
		for _, finding := range result.Reputation.Findings {
			line := fmt.Sprintf("%s %s", reputationStyle(finding.Reputation).Render(string(finding.Reputation)), finding.URL)
			if finding.Reason != "" {
				line += mutedStyle.Render(" (" + finding.Reason + ")")
			}
			row("URL", line)
		}
		if len(result.Reputation.FlaggedDomains) > 0 {
			row("Flagged", strings.Join(result.Reputation.FlaggedDomains, ", "))
		}
		if len(result.Reputation.Keywords) > 0 {
			row("Keywords", strings.Join(result.Reputation.Keywords, ", "))
		}
	}
	row("Sub-score", strconv.Itoa(result.SubScores.Reputation))

	sb.WriteString(sectionStyle.Render("Intent"))
	sb.WriteString("\n")
	if result.Intent.Disabled {
		row("Status", mutedStyle.Render("disabled"))
	} else {
		row("Authority", strconv.Itoa(result.Intent.Authority))
		row("Urgency", strconv.Itoa(result.Intent.Urgency))
		row("Financial", strconv.Itoa(result.Intent.FinancialPressure))
		if len(result.Intent.Tactics) > 0 {
			row("Tactics", strings.Join(result.Intent.Tactics, ", "))
		}
		row("Reason", result.Intent.Reason)
		if result.Intent.Degraded {
			row("Note", warnStyle.Render("intent analysis degraded"))
		}
	}
	row("Sub-score", strconv.Itoa(result.SubScores.Intent))

	return sb.String()
}

func writeMarkdown(w io.Writer, msg *core.Message, result *core.ScanResult) error {
	md := markdown.NewMarkdown(w)

	md.H1("Phishing Scan Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"From", "`" + msg.SenderAddress + "`"},
			{"Subject", msg.Subject},
			{"Scan ID", "`" + result.ID + "`"},
			{"Verdict", "**" + string(result.Verdict) + "**"},
			{"Overall score", strconv.Itoa(result.OverallScore)},
			{"Scanned at", result.ScannedAt.Format("2006-01-02 15:04:05 MST")},
		},
	})
	md.PlainText("")

	switch result.Verdict {
	case core.VerdictPhishing:
		md.Cautionf("This message is likely phishing (score %d).", result.OverallScore)
	case core.VerdictSuspicious:
		md.Warningf("This message shows suspicious signals (score %d).", result.OverallScore)
	default:
		md.Tip("No significant phishing signals detected.")
	}
	md.PlainText("")

	md.H2("Layer Scores")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Layer", "Status", "Sub-score"},
		Rows: [][]string{
			{"Identity", layerStatus(result.Identity.Disabled, string(result.Identity.Status)), strconv.Itoa(result.SubScores.Identity)},
			{"Reputation", layerStatus(result.Reputation.Disabled, string(result.Reputation.Status)), strconv.Itoa(result.SubScores.Reputation)},
			{"Intent", layerStatus(result.Intent.Disabled, intentStatus(result.Intent)), strconv.Itoa(result.SubScores.Intent)},
		},
	})
	md.PlainText("")

	if !result.Reputation.Disabled && len(result.Reputation.Findings) > 0 {
		md.H2("URLs")
		md.PlainText("")
		rows := make([][]string, 0, len(result.Reputation.Findings))
		for _, f := range result.Reputation.Findings {
			age := "unknown"
			if f.DomainAgeDays != core.UnknownDomainAge {
				age = strconv.Itoa(f.DomainAgeDays) + " days"
			}
			rows = append(rows, []string{"`" + f.URL + "`", f.Domain, age, string(f.Reputation), f.Reason})
		}
		md.Table(markdown.TableSet{
			Header: []string{"URL", "Domain", "Age", "Reputation", "Reason"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	if !result.Intent.Disabled {
		md.H2("Intent")
		md.PlainText("")
		md.PlainText(result.Intent.Reason)
		md.PlainText("")
		if len(result.Intent.Tactics) > 0 {
			md.BulletList(result.Intent.Tactics...)
			md.PlainText("")
		}
	}

	return md.Build()
}

func layerStatus(disabled bool, status string) string {
	if disabled {
		return "disabled"
	}
	return status
}

func intentStatus(r core.IntentResult) string {
	if r.Degraded {
		return "degraded"
	}
	return "analyzed"
}

func passFail(ok bool) string {
	if ok {
		return safeStyle.Render("pass")
	}
	return dangerStyle.Render("fail")
}

func verdictStyle(v core.Verdict) lipgloss.Style {
	switch v {
	case core.VerdictPhishing:
		return dangerStyle
	case core.VerdictSuspicious:
		return warnStyle
	default:
		return safeStyle
	}
}

func identityStyle(s core.IdentityStatus) lipgloss.Style {
	switch s {
	case core.IdentityVerified:
		return safeStyle
	case core.IdentityFailed:
		return dangerStyle
	default:
		return warnStyle
	}
}

func reputationStyle(r core.Reputation) lipgloss.Style {
	switch r {
	case core.ReputationDangerous:
		return dangerStyle
	case core.ReputationSuspicious:
		return warnStyle
	default:
		return safeStyle
	}
}
