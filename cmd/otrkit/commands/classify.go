package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"otrkit/pkg/otrkit"
)

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify TEXT",
		Short: "Report the OTR message type of TEXT",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			fmt.Printf("type:       %s\n", otrkit.TypeOfMessage(text))
			fmt.Printf("otr prefix: %t\n", otrkit.StartsWithOTRPrefix(text))
			return nil
		},
	}
}
