package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
)

var (
	exportOutput string
	exportFormat string
)

var leadHeader = []string{
	"Name", "Website", "Industry", "Size", "Score", "Email", "Phone",
	"Address", "Platforms", "Signals", "Summary", "Finalized",
}

var exportCmd = &cobra.Command{
	Use:   "export <mission-id>",
	Short: "Export a mission's finalized leads",
	Long:  "Writes the mission's finalized leads to an XLSX workbook or CSV file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		missionID := args[0]
		if _, err := st.GetMission(ctx, missionID); err != nil {
			return eris.Wrap(err, "export: mission lookup")
		}

		leads, err := st.ListLeads(ctx, missionID)
		if err != nil {
			return eris.Wrap(err, "export: list leads")
		}
		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No finalized leads for this mission.")
			return nil
		}

		out := exportOutput
		if out == "" {
			out = fmt.Sprintf("leads-%s.%s", truncateID(missionID), exportFormat)
		}

		switch exportFormat {
		case "xlsx":
			err = writeXLSX(out, leads)
		case "csv":
			err = writeCSV(out, leads)
		default:
			return eris.Errorf("export: unknown format %q (want xlsx or csv)", exportFormat)
		}
		if err != nil {
			return err
		}

		zap.L().Info("leads exported",
			zap.String("mission_id", missionID),
			zap.Int("leads", len(leads)),
			zap.String("path", out),
		)
		fmt.Printf("Wrote %d leads to %s\n", len(leads), out)
		return nil
	},
}

func writeXLSX(path string, leads []model.LeadRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range leadHeader {
		header.AddCell().Value = h
	}

	for _, lead := range leads {
		row := sheet.AddRow()
		for _, v := range leadRow(lead) {
			row.AddCell().Value = v
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save xlsx")
	}
	return nil
}

func writeCSV(path string, leads []model.LeadRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(leadHeader); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, lead := range leads {
		if err := w.Write(leadRow(lead)); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "export: flush csv")
}

// leadRow flattens one lead into the export column order.
func leadRow(lead model.LeadRecord) []string {
	cand := lead.Extracted.Target.Candidate
	return []string{
		cand.Name,
		lead.SourceURL,
		lead.Enriched.Industry,
		lead.Enriched.SizeBand,
		strconv.Itoa(lead.Enriched.Score),
		firstString(lead.Extracted.Emails),
		firstString(lead.Extracted.Phones),
		cand.Address,
		strings.Join(platformList(lead.Extracted.TechStack), ", "),
		strings.Join(lead.Enriched.Signals, ", "),
		lead.Enriched.Summary,
		lead.FinalizedAt.Format("2006-01-02 15:04"),
	}
}

// platformList returns the detected platform names in stable order.
func platformList(stack map[string]bool) []string {
	var out []string
	for name, present := range stack {
		if present {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func firstString(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[0]
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output path (default leads-<mission>.<fmt>)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "xlsx", "output format: xlsx or csv")
	rootCmd.AddCommand(exportCmd)
}
