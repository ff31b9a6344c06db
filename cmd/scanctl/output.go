package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	apiScanning "github.com/ahrav/compliance-armada/internal/api/scanning"
	appScanning "github.com/ahrav/compliance-armada/internal/app/scanning"
	"github.com/ahrav/compliance-armada/internal/config"
	"github.com/ahrav/compliance-armada/internal/domain/document"
	"github.com/ahrav/compliance-armada/internal/domain/rules"
)

const (
	formatText  = "text"
	formatJSON  = "json"
	formatSARIF = "sarif"
)

type scanInput struct {
	userID      string
	frameworkID string
	name        string
	content     []byte
	format      string
}

func runScan(ctx context.Context, w io.Writer, s *session, cfg *config.Config, in scanInput) error {
	limits := document.Limits{MaxSize: cfg.Web.MaxUploadBytes}
	if err := limits.Check(in.name, "", int64(len(in.content))); err != nil {
		return err
	}

	scanID, err := s.scanAndWait(ctx, appScanning.StartScanCommand{
		UserID:       in.userID,
		FrameworkID:  in.frameworkID,
		DocumentName: in.name,
		Content:      in.content,
	})
	if err != nil {
		return err
	}

	switch in.format {
	case formatSARIF:
		out, err := s.service.ExportSARIF(ctx, scanID)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case formatJSON:
		report, err := s.service.GetReport(ctx, scanID)
		if err != nil {
			return err
		}
		out, err := apiScanning.MarshalReport(report)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	default:
		report, err := s.service.GetReport(ctx, scanID)
		if err != nil {
			return err
		}
		return printReport(w, report)
	}
}

func printFrameworks(w io.Writer, frameworks []rules.Framework) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVERSION")
	for _, fw := range frameworks {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", fw.ID, fw.Name, fw.Version)
	}
	return tw.Flush()
}

func printRules(w io.Writer, fw rules.Framework, rs []rules.Rule) error {
	fmt.Fprintf(w, "%s (%s)\n\n", fw.Name, fw.ID)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tCITATION\tTITLE")
	for _, r := range rs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Citation, r.Title)
	}
	return tw.Flush()
}

func printReport(w io.Writer, r appScanning.Report) error {
	fmt.Fprintf(w, "Scan %s\n", r.ScanID)
	fmt.Fprintf(w, "  Document:  %s\n", r.DocumentName)
	fmt.Fprintf(w, "  Framework: %s (%s)\n", r.FrameworkName, r.FrameworkID)
	fmt.Fprintf(w, "  Status:    %s\n", r.Status)
	if r.FailureReason != "" {
		fmt.Fprintf(w, "  Reason:    %s\n", r.FailureReason)
	}
	fmt.Fprintf(w, "  Findings:  %d\n", r.Summary.Total)

	for _, g := range r.Groups {
		if len(g.Findings) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s (%d)\n%s\n", strings.ToUpper(g.Severity.String()), len(g.Findings), strings.Repeat("-", 40))
		for _, f := range g.Findings {
			rule := f.Rule()
			fmt.Fprintf(w, "[%s] %s - %s (paragraph %d)\n", rule.Citation, rule.ID, rule.Title, f.ParagraphNumber())
			fmt.Fprintf(w, "  excerpt:     %s\n", f.Excerpt())
			fmt.Fprintf(w, "  remediation: %s\n", f.Remediation())
		}
	}
	return nil
}
