package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dhcgn/eml-to-csv/eml"
	"github.com/dhcgn/eml-to-csv/filter"
	"github.com/dhcgn/eml-to-csv/links"
)

type linksOptions struct {
	emailPath string
	include   []string
	exclude   []string
	verbose   bool
}

// NewLinksCommand returns the "links" subcommand, which prints the CSV
// links of a message without downloading anything.
func NewLinksCommand() *cobra.Command {
	opts := &linksOptions{}

	c := &cobra.Command{
		Use:   "links",
		Short: "List the CSV links found in an email file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listLinks(cmd.OutOrStdout(), opts)
		},
	}

	flags := c.Flags()
	flags.StringVar(&opts.emailPath, "email", "", "Path to the .eml file")
	flags.StringArrayVar(&opts.include, "include-url", nil, "Only list links matching this regex (repeatable)")
	flags.StringArrayVar(&opts.exclude, "exclude-url", nil, "Do not list links matching this regex (repeatable)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Also print message details and filtered links")
	_ = c.MarkFlagRequired("email")

	return c
}

func listLinks(w io.Writer, opts *linksOptions) error {
	if len(opts.include) > 0 && len(opts.exclude) > 0 {
		return fmt.Errorf("--include-url and --exclude-url are mutually exclusive")
	}

	f, err := filter.New(filter.Options{Include: opts.include, Exclude: opts.exclude})
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	msg, err := eml.Load(opts.emailPath)
	if err != nil {
		return err
	}

	found := links.Extract(msg.Body)
	kept, dropped := f.Apply(found)

	if opts.verbose {
		fmt.Fprintf(w, "# %s\n", msg.Path)
		if msg.Subject != "" {
			fmt.Fprintf(w, "# subject: %s\n", msg.Subject)
		}
		fmt.Fprintf(w, "# parts: %d, links: %d, filtered: %d\n", len(msg.Parts), len(found), len(dropped))
		for _, link := range dropped {
			fmt.Fprintf(w, "# dropped %s\n", link)
		}
	}

	for _, link := range kept {
		fmt.Fprintln(w, link)
	}
	return nil
}
