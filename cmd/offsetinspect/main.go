// Command offsetinspect shows how the server addresses characters in a piece
// of markup. It is meant for debugging offset disagreements between clients
// and the server.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"annotation-collab-be/pkg/offset"
	"annotation-collab-be/pkg/projection"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	useTree     bool
	showChars   bool
	withMarkers bool
	locateAt    int
	spanFlags   []string
	parityLen   int
	paritySum   string
)

func main() {
	root := &cobra.Command{
		Use:          "offsetinspect",
		Short:        "Inspect character offsets of annotated markup",
		SilenceUsage: true,
	}

	flatten := &cobra.Command{
		Use:   "flatten [file]",
		Short: "Print the character sequence, its length and checksum",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runFlatten,
	}
	flatten.Flags().BoolVar(&useTree, "tree", false, "use the DOM walk instead of the streaming walk")
	flatten.Flags().BoolVar(&showChars, "chars", false, "list every character with its offset and source")
	flatten.Flags().BoolVar(&withMarkers, "markers", false, "treat highlight marker tokens as zero-width")

	locate := &cobra.Command{
		Use:   "locate [file]",
		Short: "Resolve an offset to its position in the markup",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLocate,
	}
	locate.Flags().IntVar(&locateAt, "offset", 0, "character offset to resolve")

	project := &cobra.Command{
		Use:   "project [file]",
		Short: "Insert highlight markers for the given spans",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runProject,
	}
	project.Flags().StringSliceVar(&spanFlags, "span", nil, "span as start:end or start:end:a (annotated), repeatable")

	parity := &cobra.Command{
		Use:   "parity [file]",
		Short: "Compare a client's length and checksum with the server's",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runParity,
	}
	parity.Flags().IntVar(&parityLen, "length", -1, "client character length")
	parity.Flags().StringVar(&paritySum, "checksum", "", "client checksum (hex sha256)")
	_ = parity.MarkFlagRequired("checksum")

	root.AddCommand(flatten, locate, project, parity)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func readInput(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(args[0])
	return string(data), err
}

// charPrinter collects the sequence and, when verbose, lists each character.
type charPrinter struct {
	out     io.Writer
	verbose bool
	seq     offset.Sequence
}

func (p *charPrinter) VisitChar(c offset.Char) {
	p.seq = append(p.seq, c.Rune)
	if !p.verbose {
		return
	}
	kind := color.GreenString("text ")
	if c.Kind == offset.KindBreak {
		kind = color.YellowString("break")
	}
	span := "-"
	if c.Start >= 0 {
		span = fmt.Sprintf("%d..%d", c.Start, c.End)
	}
	fmt.Fprintf(p.out, "%6d  %s  %-8q %-12s <%s> %v\n", c.Offset, kind, c.Rune, span, c.Element, c.Path)
}

func (p *charPrinter) VisitToken(t offset.Token) {
	if p.verbose {
		fmt.Fprintf(p.out, "%6d  %s  %s\n", t.Offset, color.MagentaString("token"), t.Text)
	}
}

func runFlatten(cmd *cobra.Command, args []string) error {
	markup, err := readInput(args)
	if err != nil {
		return err
	}

	var opts []offset.Option
	if withMarkers {
		opts = append(opts, offset.WithTokens(projection.MatchMarker))
	}

	out := cmd.OutOrStdout()
	p := &charPrinter{out: out, verbose: showChars}
	other := offset.FlattenTree(markup)
	if useTree {
		offset.WalkTree(markup, p, opts...)
		other = offset.Flatten(markup)
	} else {
		offset.Walk(markup, p, opts...)
	}

	fmt.Fprintf(out, "length:   %d\n", p.seq.Len())
	fmt.Fprintf(out, "checksum: %s\n", p.seq.Checksum())
	if !withMarkers && p.seq.Checksum() != other.Checksum() {
		color.New(color.FgRed).Fprintf(out, "walks disagree: other walk has length %d\n", other.Len())
	}
	return nil
}

func runLocate(cmd *cobra.Command, args []string) error {
	markup, err := readInput(args)
	if err != nil {
		return err
	}
	pos, err := offset.Locate(markup, locateAt)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if pos.Kind == offset.PositionEnd {
		fmt.Fprintf(out, "offset %d is the end of the sequence (byte %d)\n", pos.Offset, pos.ByteStart)
		return nil
	}
	fmt.Fprintf(out, "offset %d is %s in <%s> path %v, bytes %d..%d\n",
		pos.Offset, color.CyanString("%q", pos.Rune), pos.Element, pos.Path, pos.ByteStart, pos.ByteEnd)
	return nil
}

func parseSpans(raw []string) ([]projection.Span, error) {
	spans := make([]projection.Span, 0, len(raw))
	for i, r := range raw {
		parts := strings.Split(r, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("span %q: want start:end[:a]", r)
		}
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("span %q: %w", r, err)
		}
		end, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("span %q: %w", r, err)
		}
		spans = append(spans, projection.Span{
			ID:        fmt.Sprintf("s%d", i+1),
			Start:     start,
			End:       end,
			Annotated: len(parts) == 3 && parts[2] == "a",
		})
	}
	return spans, nil
}

func runProject(cmd *cobra.Command, args []string) error {
	markup, err := readInput(args)
	if err != nil {
		return err
	}
	spans, err := parseSpans(spanFlags)
	if err != nil {
		return err
	}

	p, err := projection.Project(markup, spans)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, p.Markup)
	for _, s := range p.Spans {
		fmt.Fprintf(out, "%s #%d [%d,%d) annotated=%t\n", color.MagentaString(s.ID), s.Number, s.Start, s.End, s.Annotated)
	}
	return nil
}

func runParity(cmd *cobra.Command, args []string) error {
	markup, err := readInput(args)
	if err != nil {
		return err
	}
	seq := offset.Flatten(markup)

	out := cmd.OutOrStdout()
	lengthOK := parityLen < 0 || parityLen == seq.Len()
	sumOK := strings.EqualFold(paritySum, seq.Checksum())
	if lengthOK && sumOK {
		color.New(color.FgGreen).Fprintln(out, "parity ok")
		return nil
	}
	color.New(color.FgRed).Fprintf(out, "parity mismatch: server length %d checksum %s\n", seq.Len(), seq.Checksum())
	return fmt.Errorf("parity mismatch")
}
