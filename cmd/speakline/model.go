package main

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakline/internal/app"
	"github.com/MrWong99/speakline/pkg/ggml"
	"github.com/MrWong99/speakline/pkg/modelfile"
)

var quantizeCmd = &cobra.Command{
	Use:   "quantize IN OUT",
	Short: "Quantize a ggml whisper model",
	Long: "Quantize rewrites every two dimensional F32/F16 weight of a ggml whisper model\n" +
		"to a block-quantized type. Embeddings, convolutions and biases are copied unchanged.",
	Example: "  speakline quantize ggml-base.en.bin ggml-base.en-q5_0.bin --type q5_0",
	Args:    cobra.ExactArgs(2),
	RunE:    runQuantize,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect MODEL",
	Short: "Print the header and tensor directory of a ggml whisper model",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	quantizeCmd.Flags().StringP("type", "t", "q5_0", "target scheme: q4_0, q4_1, q5_0, q5_1 or q8_0")
	quantizeCmd.Flags().StringSlice("skip", nil, "regular expressions of tensor names to copy unchanged (replaces the defaults)")
	inspectCmd.Flags().BoolP("tensors", "a", false, "list every tensor")
}

func runQuantize(cmd *cobra.Command, args []string) error {
	scheme, _ := cmd.Flags().GetString("type")
	skip, _ := cmd.Flags().GetStringSlice("skip")

	target, err := ggml.ParseFType(scheme)
	if err != nil {
		return err
	}
	var opts []modelfile.Option
	if len(skip) > 0 {
		patterns := make([]*regexp.Regexp, len(skip))
		for i, s := range skip {
			if patterns[i], err = regexp.Compile(s); err != nil {
				return fmt.Errorf("invalid --skip pattern %q: %w", s, err)
			}
		}
		opts = append(opts, modelfile.WithSkipPatterns(patterns...))
	}

	start := time.Now()
	rep, err := app.QuantizeFile(cmd.Context(), args[0], args[1], target, nil, opts...)
	if err != nil {
		return fmt.Errorf("quantize to %s failed (code %d): %w", target, modelfile.CodeOf(err), err)
	}
	slog.Debug("quantize finished", "elapsed", time.Since(start))

	printBox(cmd.OutOrStdout(), "Quantized "+args[1], []kv{
		{"Scheme", fmt.Sprintf("%s (%s)", target, target.Description())},
		{"Tensors", fmt.Sprintf("%d (%d quantized, %d copied)", rep.Tensors, rep.Quantized, rep.Copied)},
		{"Size", fmt.Sprintf("%s → %s (%.1f%%)", humanBytes(rep.BytesIn), humanBytes(rep.BytesOut), 100*rep.Ratio())},
		{"Histogram", histogram(rep.Hist[:])},
		{"Elapsed", time.Since(start).Round(time.Millisecond).String()},
	})
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("tensors")

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	var opts []modelfile.InspectOption
	if all {
		opts = append(opts, modelfile.WithTensorStats())
	}
	info, err := modelfile.Inspect(f, opts...)
	if err != nil {
		return fmt.Errorf("inspect failed (code %d): %w", modelfile.CodeOf(err), err)
	}

	hp := info.Hparams
	rows := []kv{
		{"Model", info.ModelType.String()},
		{"File type", fmt.Sprintf("%s (%s)", info.FType, info.FType.Description())},
		{"Quant version", fmt.Sprint(info.QntVersion)},
		{"Vocab", fmt.Sprint(info.VocabSize)},
		{"Mel bank", fmt.Sprintf("%d x %d", info.NMel, info.NFFT)},
		{"Audio", fmt.Sprintf("ctx %d, state %d, heads %d, layers %d", hp.NAudioCtx, hp.NAudioState, hp.NAudioHead, hp.NAudioLayer)},
		{"Text", fmt.Sprintf("ctx %d, state %d, heads %d, layers %d", hp.NTextCtx, hp.NTextState, hp.NTextHead, hp.NTextLayer)},
		{"Tensors", fmt.Sprintf("%d, %s", len(info.Tensors), humanBytes(info.TensorBytes))},
	}
	for _, c := range typeCounts(info.Tensors) {
		rows = append(rows, kv{"  " + c.label, c.value})
	}
	printBox(cmd.OutOrStdout(), args[0], rows)

	if all {
		w := cmd.OutOrStdout()
		for _, t := range info.Tensors {
			fmt.Fprintln(w, tensorLine(t))
		}
	}
	return nil
}

// tensorLine formats one row of inspect --tensors.
func tensorLine(t modelfile.TensorInfo) string {
	dims := make([]string, len(t.Dims))
	for i, d := range t.Dims {
		dims[i] = fmt.Sprint(d)
	}
	line := fmt.Sprintf("%-48s %-5s %-14s %10s", t.Name, t.Type, "["+strings.Join(dims, " x ")+"]", humanBytes(t.Bytes))
	if t.Stats != nil {
		line += fmt.Sprintf("  rms %.4g  max %.4g", t.Stats.RMS, t.Stats.MaxAbs)
	}
	return line
}

// typeCounts groups tensors by storage type, largest group first.
func typeCounts(tensors []modelfile.TensorInfo) []kv {
	counts := map[ggml.Type]int{}
	for _, t := range tensors {
		counts[t.Type]++
	}
	types := make([]ggml.Type, 0, len(counts))
	for typ := range counts {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})
	out := make([]kv, len(types))
	for i, typ := range types {
		out[i] = kv{typ.String(), fmt.Sprint(counts[typ])}
	}
	return out
}

// histogram renders the share of quantized values in each bucket.
func histogram(hist []int64) string {
	var total int64
	for _, c := range hist {
		total += c
	}
	if total == 0 {
		return "-"
	}
	parts := make([]string, len(hist))
	for i, c := range hist {
		parts[i] = fmt.Sprintf("%.3f", float64(c)/float64(total))
	}
	return strings.Join(parts, " ")
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
