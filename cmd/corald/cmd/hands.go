package cmd

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/config"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/store"
)

func newHandsCmd(cfgFile *string) *cobra.Command {
	var (
		limit  int
		gameID string
		hand   uint64
	)
	cmd := &cobra.Command{
		Use:   "hands",
		Short: "Browse the local hand archive",
		Long: `Lists the most recent hands this node recorded. With --game and --hand
it prints the full action log of one hand instead.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			archive, err := store.Open(cfg.ArchivePath())
			if err != nil {
				return err
			}
			defer func() { _ = archive.Close() }()
			if gameID != "" && hand > 0 {
				return printActions(archive, gameID, hand)
			}
			return printRecent(archive, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "most recent hands to list")
	cmd.Flags().StringVar(&gameID, "game", "", "game id for a single-hand action log")
	cmd.Flags().Uint64Var(&hand, "hand", 0, "hand number for a single-hand action log")
	return cmd
}

func printRecent(archive *store.Store, limit int) error {
	hands, err := archive.RecentHands(limit)
	if err != nil {
		return err
	}
	if len(hands) == 0 {
		pterm.Info.Println("the archive is empty; hands appear here once this node plays")
		return nil
	}
	rows := pterm.TableData{{"game", "hand", "result", "winners", "board", "recorded"}}
	for _, h := range hands {
		winners := ""
		for i, w := range h.Result.Wins {
			if i > 0 {
				winners += ", "
			}
			winners += fmt.Sprintf("seat %d +%d", w.Seat, w.Amount)
		}
		rows = append(rows, []string{
			shortGame(h.GameID),
			strconv.FormatUint(h.HandNumber, 10),
			h.Result.Reason,
			winners,
			cardList(h.Result.Board),
			h.RecordedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printActions(archive *store.Store, gameID string, hand uint64) error {
	history, err := archive.Actions(gameID, hand)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		pterm.Info.Printfln("no actions recorded for game %s hand %d", shortGame(gameID), hand)
		return nil
	}
	rows := pterm.TableData{{"seat", "action", "amount", "auto"}}
	for _, rec := range history {
		rows = append(rows, []string{
			strconv.Itoa(rec.Seat),
			rec.Action.String(),
			strconv.FormatUint(rec.Amount, 10),
			strconv.FormatBool(rec.Auto),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
