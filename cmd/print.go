package cmd

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"tomgalvin.uk/niimprint/internal/bitmap"
	"tomgalvin.uk/niimprint/internal/printer"
	"tomgalvin.uk/niimprint/internal/protocol"
)

var (
	cmdPrint = &cobra.Command{
		Use:   "print",
		Short: "Print labels",
		Long:  `Print an image, or feed a blank label. Interrupting a print closes the page off on the printer before exiting.`,
		Args:  cobra.NoArgs,
		RunE:  runPrint,
	}
)

var printImage string
var printBlank int
var printDensity int
var printWidth int
var printHeight int
var printProgress bool
var printSplit bool

func init() {
	rootCmd.AddCommand(cmdPrint)
	cmdPrint.Flags().StringVarP(&printImage, "image", "i", "", "PNG or JPEG image to print")
	cmdPrint.Flags().IntVar(&printBlank, "blank", 0, "Feed a blank label this many rows long")
	cmdPrint.Flags().IntVar(&printDensity, "density", 0, "Print density 1-5 (default from config)")
	cmdPrint.Flags().IntVar(&printWidth, "width", 0, "Label width sent to the printer (default from config)")
	cmdPrint.Flags().IntVar(&printHeight, "height", 0, "Label height sent to the printer (default from config)")
	cmdPrint.Flags().BoolVarP(&printProgress, "progress", "p", false, "Show progress")
	cmdPrint.Flags().BoolVar(&printSplit, "split", false, "Print an image too long for one label across several")
	cmdPrint.MarkFlagsMutuallyExclusive("image", "blank")
	cmdPrint.MarkFlagsOneRequired("image", "blank")
	cmdPrint.MarkFlagsMutuallyExclusive("split", "blank")
}

func printLines() ([]protocol.Line, error) {
	if printImage != "" {
		img, err := readImage(printImage)
		if err != nil {
			return nil, err
		}
		return bitmap.ImageLines(img, bitmap.PrintheadWidth)
	}

	if printBlank < 1 || printBlank > bitmap.MaxHeight {
		return nil, fmt.Errorf("--blank must be between 1 and %d", bitmap.MaxHeight)
	}
	return bitmap.Lines(bitmap.PackBitmap(bitmap.Blank(bitmap.PrintheadWidth, printBlank)))
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("Couldn't decode image %s:\n%w", path, err)
	}
	return img, nil
}

// printPages returns the lines of every label to print. Only a split image
// gives more than one.
func printPages() ([][]protocol.Line, error) {
	if printSplit && printImage != "" {
		img, err := readImage(printImage)
		if err != nil {
			return nil, err
		}
		return bitmap.ImagePages(img, bitmap.PrintheadWidth, bitmap.MaxHeight)
	}

	lines, err := printLines()
	if err != nil {
		return nil, err
	}
	return [][]protocol.Line{lines}, nil
}

func orDefault(flag int, fallback int) int {
	if flag != 0 {
		return flag
	}
	return fallback
}

func printRequest(lines []protocol.Line) (printer.Request, error) {
	p := conf.Printer
	width, height := orDefault(printWidth, p.Width), orDefault(printHeight, p.Height)
	if width < 1 || width > 0xFF || height < 1 || height > 0xFF {
		return printer.Request{}, fmt.Errorf("%w: width and height must be between 1 and 255", printer.ErrInvalidJob)
	}
	density := orDefault(printDensity, p.Density)
	if density < printer.MinDensity || density > printer.MaxDensity {
		return printer.Request{}, fmt.Errorf("%w: density %d not in range %d-%d", printer.ErrInvalidJob, density, printer.MinDensity, printer.MaxDensity)
	}

	return printer.Request{
		Width:     byte(width),
		Height:    byte(height),
		Density:   byte(density),
		LabelType: protocol.LabelType(p.LabelType),
		Lines:     lines,
	}, nil
}

func runPrint(cmd *cobra.Command, _ []string) error {
	pages, err := printPages()
	if err != nil {
		return err
	}

	requests := make([]printer.Request, len(pages))
	total := 0
	for i, lines := range pages {
		if requests[i], err = printRequest(lines); err != nil {
			return err
		}
		total += frameCount(requests[i])
	}

	var observer printer.Observer
	var progress *mpb.Progress
	var bar *mpb.Bar
	if printProgress {
		progress = mpb.NewWithContext(cmd.Context(),
			mpb.WithOutput(color.Output),
			mpb.WithAutoRefresh(),
		)
		bar = progress.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name("label", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d/%d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.AverageETA(decor.ET_STYLE_GO),
				decor.Name(" "),
				decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
			),
		)
		observer = &progressObserver{bar: bar}
	}

	s, err := openSession(cmd.Context(), conf, observer)
	if err != nil {
		return err
	}
	defer s.Close()

	repo := openHistory(conf)
	if repo != nil {
		defer repo.Close()
	}

	var reports []*printer.Report
	for _, req := range requests {
		var report *printer.Report
		report, err = s.controller.Print(cmd.Context(), req)
		if report != nil {
			reports = append(reports, report)
			if repo != nil {
				if err := repo.Save(report); err != nil {
					logger.Warn("Couldn't record print job", "job", report.ID, "error", err)
				}
			}
		}
		if err != nil {
			break
		}
	}

	if bar != nil {
		if err == nil {
			bar.SetTotal(-1, true)
		} else {
			bar.Abort(false)
		}
		progress.Wait()
	}

	for _, r := range reports {
		printReport(r)
	}
	return err
}

// Frames written for a request: five to set the label up, one per line, and
// two to finish.
func frameCount(req printer.Request) int {
	return 7 + len(req.Lines)
}

func printReport(r *printer.Report) {
	fmt.Printf("%s %s: %d lines, %d frames in %s\n",
		outcomeColor(r.Outcome).Sprint(r.Outcome),
		r.ID,
		r.Lines,
		r.FramesSent,
		r.Duration().Round(1e6),
	)
}

func outcomeColor(o printer.Outcome) *color.Color {
	switch o {
	case printer.Completed:
		return color.New(color.FgGreen)
	case printer.Canceled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// progressObserver advances a progress bar as the frames of a job are
// written.
type progressObserver struct {
	bar *mpb.Bar
}

func (o *progressObserver) FrameSent(code protocol.Code, _ int) {
	if code != protocol.HeartbeatCode {
		o.bar.Increment()
	}
}

func (o *progressObserver) WriteFailed(protocol.Code)   {}
func (o *progressObserver) Notification(protocol.Code)  {}
func (o *progressObserver) StateChanged(printer.State)  {}
func (o *progressObserver) QueueLength(int)             {}
func (o *progressObserver) JobFinished(*printer.Report) {}
