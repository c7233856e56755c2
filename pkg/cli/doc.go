// Package cli holds helpers shared by the chatgate subcommands: output
// formatting, signal handling and error-to-exit-code mapping.
//
//	format, err := cli.ParseOutputFormat(flagFormat)
//	if err != nil {
//		return err
//	}
//	return cli.NewFormatter(format).FormatTo(os.Stdout, entries)
package cli
