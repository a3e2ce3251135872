package commands

import (
	"strconv"

	"mydylms-backend/internal/content"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var semRefetch bool

func init() {
	semCmd.Flags().BoolVarP(&semRefetch, "refetch", "r", false, "Skip the cache.")
	rootCmd.AddCommand(semCmd)
}

var semCmd = &cobra.Command{
	Use:   "sem [n]",
	Short: "Lists the semesters with their subjects, or only semester n (negative counts from the end).",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service := getApp(cmd.Context()).Content

		var semesters []content.Semester
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			semester, err := service.Semester(cmd.Context(), n, semRefetch)
			if err != nil {
				return err
			}
			semesters = []content.Semester{semester}
		} else {
			var err error
			semesters, err = service.Semesters(cmd.Context(), semRefetch)
			if err != nil {
				return err
			}
		}

		t := newTable()
		t.AppendHeader(table.Row{"Semester", "Course id", "Subject"})
		for _, semester := range semesters {
			for _, subject := range semester.Subjects {
				t.AppendRow(table.Row{semester.Name, subject.Id, subject.Name})
			}
			t.AppendSeparator()
		}
		t.Render()
		return nil
	},
}
