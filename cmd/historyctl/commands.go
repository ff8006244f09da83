package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"reactivator/internal/imaging"
	"reactivator/internal/models"
	"reactivator/internal/utils"
)

type historyRow struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Milestone string    `json:"milestone"`
	Images    int       `json:"images"`
	Favorite  *int      `json:"favorite,omitempty"`
}

type slotRow struct {
	Index int              `json:"index"`
	State models.SlotState `json:"state"`
	Bytes int              `json:"bytes"`
}

type recordDetail struct {
	historyRow
	SourceMime string    `json:"sourceMime"`
	SourceHash string    `json:"sourceHash"`
	Slots      []slotRow `json:"slots"`
}

func toRow(r *models.HistoryRecord) historyRow {
	images := 0
	for _, s := range r.GeneratedSlots {
		if s.State == models.SlotSucceeded {
			images++
		}
	}
	return historyRow{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Milestone: r.MilestoneLabel,
		Images:    images,
		Favorite:  r.FavoriteIndex,
	}
}

func favoriteText(f *int) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *f)
}

func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved generations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := openHistory(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer history.Close()

			records, err := history.GetAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}
			rows := make([]historyRow, 0, len(records))
			for i := range records {
				rows = append(rows, toRow(&records[i]))
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No saved generations.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tMILESTONE\tIMAGES\tFAVORITE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					r.ID,
					r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					r.Milestone,
					r.Images,
					favoriteText(r.Favorite),
				)
			}
			return w.Flush()
		},
	}
}

func NewShowCommand(opts *RootOptions) *cobra.Command {
	var exportDir string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one saved generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := openHistory(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer history.Close()

			record, err := history.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			detail := recordDetail{
				historyRow: toRow(record),
				SourceMime: record.Source.MimeType,
				SourceHash: record.SourceHash,
			}
			for i, s := range record.GeneratedSlots {
				detail.Slots = append(detail.Slots, slotRow{Index: i, State: s.State, Bytes: base64.StdEncoding.DecodedLen(len(s.Payload()))})
			}

			if exportDir != "" {
				if err := exportRecord(exportDir, record); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, detail)
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", detail.ID)
			fmt.Fprintf(w, "Created:\t%s\n", detail.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Milestone:\t%s\n", detail.Milestone)
			fmt.Fprintf(w, "Source:\t%s\n", detail.SourceMime)
			fmt.Fprintf(w, "Favorite:\t%s\n", favoriteText(detail.Favorite))
			for _, s := range detail.Slots {
				fmt.Fprintf(w, "Slot %d:\t%s\n", s.Index, s.State)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&exportDir, "export", "", "write the source and generated images into this directory")
	return cmd
}

func exportRecord(dir string, r *models.HistoryRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	src, err := base64.StdEncoding.DecodeString(r.Source.Bytes)
	if err != nil {
		return fmt.Errorf("decode source image: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "source"+extensionFor(r.Source.MimeType)), src, 0o644); err != nil {
		return err
	}
	for i, s := range r.GeneratedSlots {
		if s.State != models.SlotSucceeded {
			continue
		}
		data, mime, err := imaging.DecodeDataURL(s.Image)
		if err != nil {
			log.Warn().Err(err).Int("slot", i).Msg("skipping undecodable image")
			continue
		}
		name := fmt.Sprintf("slot_%d%s", i, extensionFor(mime))
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "delete [id...]",
		Short: "Delete saved generations by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := append([]string(nil), args...)
			if fromFile != "" {
				more, err := utils.ReadNonEmptyLinesFile(fromFile)
				if err != nil {
					return fmt.Errorf("read ids: %w", err)
				}
				ids = append(ids, more...)
			}
			if len(ids) == 0 {
				return fmt.Errorf("no ids given")
			}

			history, err := openHistory(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer history.Close()

			for _, id := range ids {
				if err := history.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entr%s.\n", len(ids), plural(len(ids)))
			return nil
		},
	}

	cmd.Flags().StringVar(&fromFile, "from-file", "", "read ids from a file, one per line (- for stdin)")
	return cmd
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func NewClearCommand(opts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear history without --yes")
			}
			history, err := openHistory(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer history.Close()

			if err := history.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting all entries")
	return cmd
}
