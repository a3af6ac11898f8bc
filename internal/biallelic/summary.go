package biallelic

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteSummary writes a human-readable report of the dataset to w.
func (d *Data) WriteSummary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	maxCounts := d.MaxAlleleCounts()

	fmt.Fprintf(tw, "Path:\t%s\n", d.path)
	fmt.Fprintf(tw, "Genotypes:\t%s\n", d.encoding)
	fmt.Fprintf(tw, "Populations:\t%d\n", d.NumPopulations())
	for i, pop := range d.Populations() {
		fmt.Fprintf(tw, "  %s\t%d sequences, max %d alleles\n", pop.Label, len(pop.SequenceLabels), maxCounts[i])
	}
	fmt.Fprintf(tw, "Sites:\t%d\n", d.NumSites())
	fmt.Fprintf(tw, "Variable sites:\t%d\n", d.NumVariableSites())
	fmt.Fprintf(tw, "Patterns:\t%d\n", d.NumPatterns())
	fmt.Fprintf(tw, "Constant sites removed:\t%d\n", d.constantRemoved)
	fmt.Fprintf(tw, "Missing-population sites removed:\t%d\n", d.missingRemoved)

	var flags []string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{d.hasConstant, "constant"},
		{d.hasMissing, "missing-population"},
		{d.hasMirrored, "mirrored"},
		{d.folded, "folded"},
	} {
		if f.set {
			flags = append(flags, f.name)
		}
	}
	if len(flags) == 0 {
		flags = append(flags, "none")
	}
	fmt.Fprintf(tw, "Pattern flags:\t%s\n", strings.Join(flags, ", "))

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}
