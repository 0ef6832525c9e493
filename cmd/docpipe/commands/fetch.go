package commands

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/docpipe/display"
	"github.com/teranos/docpipe/pipes"
	"github.com/teranos/docpipe/server/protocol"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <fetcherId> <fetchKey>",
		Short: "Fetch and parse one document",
		Long: `Fetch one document through a saved fetcher config, parse it and print
the resulting metadata records. Nothing is emitted.

Examples:
  docpipe fetch docs reports/q3.pdf
  docpipe fetch docs reports/q3.pdf --added '{"tenant":"acme"}'
  docpipe fetch docs bundle.zip --stream
  docpipe fetch docs reports/q3.pdf --json`,
		Args: cobra.ExactArgs(2),
		RunE: runFetch,
	}
	addAddrFlag(cmd)
	cmd.Flags().String("metadata", "", "Fetch metadata JSON object handed to the fetcher (@file, - for stdin)")
	cmd.Flags().String("added", "", "Metadata JSON object added to every record (@file, - for stdin)")
	cmd.Flags().Bool("stream", false, "Use the server-streaming call")
	cmd.Flags().BoolP("json", "j", false, "Output replies as JSON")
	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	fetchMD, _ := cmd.Flags().GetString("metadata")
	added, _ := cmd.Flags().GetString("added")
	stream, _ := cmd.Flags().GetBool("stream")
	asJSON := display.ShouldOutputJSON(cmd)

	fetchMD, err := readJSONArg(cmd, fetchMD)
	if err != nil {
		return err
	}
	added, err = readJSONArg(cmd, added)
	if err != nil {
		return err
	}

	client, err := dial(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	req := &protocol.FetchAndParseRequest{
		FetcherID:         args[0],
		FetchKey:          args[1],
		FetchMetadataJSON: fetchMD,
		AddedMetadataJSON: added,
	}
	out := cmd.OutOrStdout()
	show := func(r *protocol.FetchAndParseReply) error {
		if asJSON {
			return display.OutputJSON(out, r)
		}
		return printReply(out, r)
	}

	if stream {
		return client.FetchAndParseStream(ctx, req, show)
	}
	reply, err := client.FetchAndParse(ctx, req)
	if err != nil {
		return err
	}
	return show(reply)
}

func printReply(w io.Writer, r *protocol.FetchAndParseReply) error {
	switch r.Status {
	case pipes.StatusSuccess:
		fmt.Fprint(w, pterm.Success.Sprintfln("%s: %d record(s)", r.FetchKey, len(r.Metadata)))
	default:
		fmt.Fprint(w, pterm.Error.Sprintfln("%s: %s: %s", r.FetchKey, r.Status, r.ErrorMessage))
	}
	for i, rec := range r.Metadata {
		fmt.Fprintf(w, "\n[%d]\n", i)
		for _, k := range rec.Keys() {
			v, _ := rec.First(k)
			if k == pipes.FieldContent {
				v = display.Truncate(v, 200)
			}
			fmt.Fprintf(w, "  %-28s %s\n", k, v)
		}
	}
	return nil
}
