// Package notevaultcmder
package notevaultcmder

import (
	indexcmder "github.com/quietvale/notevault/cmd/notevault/index"
	querycmder "github.com/quietvale/notevault/cmd/notevault/query"
	servecmder "github.com/quietvale/notevault/cmd/notevault/serve"
	watchcmder "github.com/quietvale/notevault/cmd/notevault/watch"
	versioncmder "github.com/quietvale/notevault/cmd/version"
	"github.com/spf13/cobra"
)

const notevaultLongDesc string = `Notevault answers questions from your timestamped markdown notes.

Run services using:
  notevault serve      Run the API and MCP server
  notevault index      Build the vault index once and exit
  notevault watch      Watch the vault and trigger reindexing on change

Ask directly with:
  notevault query "what did I discuss with Alice last week?"`

const notevaultShortDesc string = "Notevault - RAG over your markdown notes"

func NewNotevaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notevault",
		Short: notevaultShortDesc,
		Long:  notevaultLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to config.toml or its directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(indexcmder.NewIndexCmd())
	cmd.AddCommand(watchcmder.NewWatchCmd())
	cmd.AddCommand(querycmder.NewQueryCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
