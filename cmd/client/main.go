package main

import (
	"os"

	"go-relay/internal/client"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func main() {
	var opts client.Options

	root := &cobra.Command{
		Use:          "relay-client",
		Short:        "Terminal client for the private message relay",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			model, err := client.NewModel(opts)
			if err != nil {
				return err
			}
			_, err = tea.NewProgram(model).Run()
			return err
		},
	}
	root.Flags().StringVar(&opts.ServerURL, "server", "http://localhost:8080", "relay base url")
	root.Flags().StringVar(&opts.SocketPath, "socket-path", "/api/socket", "socket endpoint path")
	root.Flags().BoolVar(&opts.Register, "register", false, "create the account instead of logging in")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
