package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sells-group/refdata/internal/refdata"
	"github.com/sells-group/refdata/internal/sweep"
)

// writeJSON pretty-prints v.
func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// confirm asks a yes/no question on out and reads the answer from in.
// Anything but y or yes declines.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	_, _ = fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// formatFacets writes a table of facets to out.
func formatFacets(out io.Writer, facets []refdata.Facet) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FACET\tTYPE\tREFERENCE DATA")
	_, _ = fmt.Fprintln(w, "-----\t----\t--------------")
	for _, f := range facets {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\n", f.Name, f.DataType, f.HasReferenceData)
	}
	_ = w.Flush()
}

// formatValues writes a table of reference values with their aliases.
func formatValues(out io.Writer, values []refdata.ReferenceValue) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tCANONICAL\tLABEL\tALIASES")
	_, _ = fmt.Fprintln(w, "--\t------\t---------\t-----\t-------")
	for _, v := range values {
		label := v.DisplayLabel
		if label == "" {
			label = "-"
		}
		aliases := make([]string, len(v.Aliases))
		for i, a := range v.Aliases {
			aliases[i] = a.AliasValue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			v.ID, v.Status, v.CanonicalValue, label, strings.Join(aliases, ", "))
	}
	_ = w.Flush()
}

// formatDiscovery writes the summary, suggested groups and leftover unmapped
// values of one discovery pass.
func formatDiscovery(out io.Writer, res *refdata.DiscoveryResult) {
	_, _ = fmt.Fprintf(out, "facet %s: %d scanned, %d resolved, %d suggestions, %d unmapped\n",
		res.Facet, res.ScannedValues, res.ResolvedValues, len(res.Suggestions), len(res.UnmappedValues))
	if res.Error != "" {
		_, _ = fmt.Fprintf(out, "grouping unavailable: %s\n", res.Error)
	}

	if len(res.Suggestions) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "\nCANONICAL\tCONFIDENCE\tALIASES")
		_, _ = fmt.Fprintln(w, "---------\t----------\t-------")
		for _, g := range res.Suggestions {
			conf := "-"
			if g.Confidence != nil {
				conf = fmt.Sprintf("%.2f", *g.Confidence)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", g.CanonicalValue, conf, strings.Join(g.Aliases, ", "))
		}
		_ = w.Flush()
	}

	if len(res.UnmappedValues) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "\nUNMAPPED\tDOCUMENTS")
		_, _ = fmt.Fprintln(w, "--------\t---------")
		for _, vc := range res.UnmappedValues {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", vc.Value, vc.Count)
		}
		_ = w.Flush()
	}
}

// formatSweepReport writes one row per swept facet.
func formatSweepReport(out io.Writer, r *sweep.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FACET\tSCANNED\tRESOLVED\tUNMAPPED\tSUGGESTIONS\tSAVED\tERROR")
	_, _ = fmt.Fprintln(w, "-----\t-------\t--------\t--------\t-----------\t-----\t-----")
	for _, f := range r.Facets {
		saved := "-"
		if f.Saved != nil {
			saved = fmt.Sprintf("%d new, %d merged", f.Saved.ValuesCreated, f.Saved.ValuesMerged)
		}
		errMsg := f.Error
		if errMsg == "" && f.Degraded != "" {
			errMsg = "degraded: " + f.Degraded
		}
		if errMsg == "" {
			errMsg = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			f.Facet, f.Scanned, f.Resolved, f.Unmapped, f.Suggestions, saved, errMsg)
	}
	_ = w.Flush()
}
