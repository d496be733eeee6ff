package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memops/internal/engine"
	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Encode a new memory",
		Long:  "Encode a new memory. Content can be a positional arg or piped via stdin.",
		Run:   runPut,
	}

	cmd.Flags().String("type", "", "Record type, e.g. note, fact, event")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("subject", "", "Subject")
	cmd.Flags().String("location", "", "Location")
	cmd.Flags().String("topic", "", "Topic")
	cmd.Flags().String("time", "", "Event time (ISO-8601, default: now)")
	cmd.Flags().Float64P("weight", "w", model.DefaultWeight, "Importance in [0,1]")
	cmd.Flags().String("source", "", "Where the content came from")
	cmd.Flags().Bool("url", false, "Treat content as a URL payload")
	cmd.Flags().Bool("skip-embedding", false, "Do not compute an embedding")
	cmd.Flags().Bool("dry-run", false, "Plan without writing")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	tagsStr, _ := cmd.Flags().GetString("tags")
	subject, _ := cmd.Flags().GetString("subject")
	location, _ := cmd.Flags().GetString("location")
	topic, _ := cmd.Flags().GetString("topic")
	when, _ := cmd.Flags().GetString("time")
	weight, _ := cmd.Flags().GetFloat64("weight")
	source, _ := cmd.Flags().GetString("source")
	isURL, _ := cmd.Flags().GetBool("url")
	skip, _ := cmd.Flags().GetBool("skip-embedding")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	encode := &ir.EncodeArgs{
		Type:          typ,
		Tags:          parseTags(tagsStr),
		Subject:       subject,
		Location:      location,
		Topic:         topic,
		Weight:        &weight,
		Source:        source,
		SkipEmbedding: skip,
	}
	if isURL {
		encode.Payload.URL = &content
	} else {
		encode.Payload.Text = &content
	}
	if when != "" {
		t, err := ir.ParseTime(when)
		if err != nil {
			exitErr("put", err)
		}
		encode.Time = ir.At(t)
	}

	req := &ir.Request{
		Stage: model.StageENC,
		Op:    model.OpEncode,
		Args:  encode,
		Meta:  ir.Meta{DryRun: dryRun},
	}
	withEngine(func(_ *store.SQLiteStore, e *engine.Engine) {
		printEnvelope(cmd, e.Execute(cmd.Context(), req))
	})
}

func parseTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
